package nav

import (
	"bytes"
	"compress/gzip"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(prn int, toc time.Time) Record {
	return Record{
		PRN:          prn,
		Toc:          toc,
		Af0:          4.691882058978e-04,
		Af1:          -1.000444171950e-11,
		IODE:         18,
		Crs:          13.90625,
		DeltaN:       4.563047219520e-09,
		M0:           2.839186131430,
		Cuc:          7.171183824539e-07,
		Ecc:          1.110618899111e-02,
		Cus:          5.986168980598e-06,
		SqrtA:        5153.641593933,
		Toe:          432000,
		Cic:          -1.136213541031e-07,
		Omega0:       -2.164813005179,
		Cis:          2.048909664154e-08,
		I0:           0.9773496161357,
		Crc:          270.96875,
		Omega:        0.8962374036405,
		OmegaDot:     -8.134624746218e-09,
		IDot:         -3.214419598530e-11,
		L2Code:       1,
		Week:         2185,
		Accuracy:     2,
		TGD:          4.656612873077e-09,
		IODC:         18,
		TransmitTime: 425118,
		FitInterval:  4,
	}
}

func TestParseFloat(t *testing.T) {
	v, err := parseFloat(" 4.691882058978D-04")
	require.NoError(t, err)
	assert.InDelta(t, 4.691882058978e-04, v, 1e-18)

	v, err = parseFloat("-1.000444171950d-11")
	require.NoError(t, err)
	assert.InDelta(t, -1.000444171950e-11, v, 1e-24)

	v, err = parseFloat("                   ")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	_, err = parseFloat("garbage")
	assert.Error(t, err)
}

func TestWriteParse(t *testing.T) {
	toc := time.Date(2021, 12, 3, 2, 0, 0, 0, time.UTC)
	in := &File{Version: 2.10, Records: []Record{
		sampleRecord(1, toc),
		sampleRecord(12, toc.Add(2*time.Hour)),
		sampleRecord(1, toc.Add(2*time.Hour)),
	}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))

	out, err := Parse(&buf)
	require.NoError(t, err)
	assert.InDelta(t, 2.10, out.Version, 1e-9)
	require.Len(t, out.Records, 3)

	got := out.Records[1]
	want := in.Records[1]
	assert.Equal(t, 12, got.PRN)
	assert.Equal(t, "G12", got.ID())
	assert.True(t, want.Toc.Equal(got.Toc), "toc %v != %v", got.Toc, want.Toc)
	assert.InDelta(t, want.SqrtA, got.SqrtA, 1e-8)
	assert.InDelta(t, want.Ecc, got.Ecc, 1e-14)
	assert.InDelta(t, want.Omega0, got.Omega0, 1e-11)
	assert.InDelta(t, want.Toe, got.Toe, 1e-6)
	assert.InDelta(t, want.FitInterval, got.FitInterval, 1e-9)

	by := out.BySatellite()
	require.Len(t, by["G01"], 2)
	assert.True(t, by["G01"][0].Toc.Before(by["G01"][1].Toc))
	assert.Len(t, by["G12"], 1)
}

func TestParseGzip(t *testing.T) {
	toc := time.Date(2022, 1, 5, 0, 0, 0, 0, time.UTC)
	var plain bytes.Buffer
	require.NoError(t, Write(&plain, &File{Records: []Record{sampleRecord(7, toc)}}))

	var zipped bytes.Buffer
	zw := gzip.NewWriter(&zipped)
	_, err := zw.Write(plain.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	f, err := Parse(&zipped)
	require.NoError(t, err)
	require.Len(t, f.Records, 1)
	assert.Equal(t, "G07", f.Records[0].ID())
	assert.True(t, toc.Equal(f.Records[0].Toc))
}

func TestParseRejectsNonNavigation(t *testing.T) {
	obs := "     2.11           O                   G                   RINEX VERSION / TYPE\n" +
		strings.Repeat(" ", 60) + "END OF HEADER\n"
	_, err := Parse(strings.NewReader(obs))
	assert.ErrorIs(t, err, ErrNotNavigation)

	_, err = Parse(strings.NewReader("no header here\n"))
	assert.ErrorIs(t, err, ErrNotNavigation)
}

func TestParseTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &File{Records: []Record{sampleRecord(3, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))}}))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	truncated := strings.Join(lines[:len(lines)-3], "\n") + "\n"

	_, err := Parse(strings.NewReader(truncated))
	assert.ErrorContains(t, err, "truncated")
}

func TestSatelliteIDs(t *testing.T) {
	ids := SatelliteIDs()
	require.Len(t, ids, MaxPRN)
	assert.Equal(t, "G01", ids[0])
	assert.Equal(t, "G32", ids[31])
}

func TestGPSTime(t *testing.T) {
	utc := time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 18*time.Second, GPSTime(utc).Sub(utc))

	old := time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 17*time.Second, GPSTime(old).Sub(old))
}

func TestWeekSeconds(t *testing.T) {
	// 2021-12-05 is a Sunday, the start of GPS week 2186.
	sunday := time.Date(2021, 12, 5, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 0, WeekSeconds(sunday), 1e-6)
	assert.InDelta(t, 3600, WeekSeconds(sunday.Add(time.Hour)), 1e-6)
}

func TestPropagate_CircularEquatorial(t *testing.T) {
	at := time.Date(2021, 12, 3, 8, 0, 0, 0, time.UTC)
	rec := Record{
		PRN:   5,
		SqrtA: 5153.7,
		Toe:   WeekSeconds(GPSTime(at)),
	}

	p := Propagate(rec, at)

	a := rec.SqrtA * rec.SqrtA
	o := -omegaEarth * rec.Toe
	assert.InDelta(t, a, p.Norm(), 1e-3)
	assert.InDelta(t, a*math.Cos(o), p[0], 1e-3)
	assert.InDelta(t, a*math.Sin(o), p[1], 1e-3)
	assert.InDelta(t, 0, p[2], 1e-6)
}

func TestPropagate_RadiusBounds(t *testing.T) {
	toc := time.Date(2021, 12, 3, 2, 0, 0, 0, time.UTC)
	rec := sampleRecord(1, toc)
	a := rec.SqrtA * rec.SqrtA

	for _, dt := range []time.Duration{-2 * time.Hour, 0, 30 * time.Minute, 2 * time.Hour} {
		p := Propagate(rec, toc.Add(dt))
		r := p.Norm()
		// Harmonic corrections stay well under a kilometre.
		assert.Greater(t, r, a*(1-rec.Ecc)-1000)
		assert.Less(t, r, a*(1+rec.Ecc)+1000)
	}
}

func TestPropagate_WeekRollover(t *testing.T) {
	// Toe ten minutes before the week boundary, query 318 s (GPS) into the
	// next week: the orbit must be evaluated 918 s after Toe, not a week back.
	at := time.Date(2021, 12, 5, 0, 5, 0, 0, time.UTC)
	rec := Record{SqrtA: 5153.7, Toe: secondsPerWeek - 600}

	p := Propagate(rec, at)

	a := rec.SqrtA * rec.SqrtA
	tk := 918.0
	angle := math.Sqrt(muGPS/(a*a*a))*tk - omegaEarth*(tk+rec.Toe)
	assert.InDelta(t, a*math.Cos(angle), p[0], 1e-2)
	assert.InDelta(t, a*math.Sin(angle), p[1], 1e-2)
	assert.InDelta(t, 0, p[2], 1e-6)
}
