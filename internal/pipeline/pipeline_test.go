package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/gdoper/internal/calc"
	"github.com/large-farva/gdoper/internal/ephemeris"
	"github.com/large-farva/gdoper/internal/fov"
	"github.com/large-farva/gdoper/internal/geo"
	"github.com/large-farva/gdoper/internal/posdata"
	"github.com/large-farva/gdoper/internal/table"
	"github.com/large-farva/gdoper/internal/telemetry"
)

var (
	start    = time.Date(2021, 12, 3, 12, 0, 0, 0, time.UTC)
	receiver = geo.LLA{Lat: 0, Lon: 0, Alt: 0}
)

// fixedSky places four satellites around the receiver whose cofactor
// diagonal is (0.5, 1.5, 1.5, 0.5), plus one on the horizon that view-match
// ranks last.
type fixedSky struct {
	calls []time.Time
	err   error
}

func (f *fixedSky) PositionsAt(_ context.Context, _ []string, times []time.Time) ([]ephemeris.Epoch, error) {
	f.calls = append(f.calls, times...)
	if f.err != nil {
		return nil, f.err
	}
	rx := receiver.ECEF()
	const r = 2e7
	sats := map[string]geo.Vec3{
		"G01": rx.Add(geo.Vec3{r, 0, 0}),
		"G02": rx.Add(geo.Vec3{0, r, 0}),
		"G03": rx.Add(geo.Vec3{0, 0, r}),
		"G04": rx.Add(geo.Vec3{-r, 0, 0}),
		"G05": {0, 26.6e6, 0},
	}
	out := make([]ephemeris.Epoch, len(times))
	for i, t := range times {
		ep := ephemeris.Epoch{Time: t, Positions: make(map[string]ephemeris.Position)}
		for id, p := range sats {
			ep.Positions[id] = ephemeris.Position{Satellite: id, Time: t, ECEF: p}
		}
		out[i] = ep
	}
	return out, nil
}

func (f *fixedSky) Dates() []time.Time {
	return []time.Time{time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC)}
}

type recorder struct {
	mu     sync.Mutex
	events []any
}

func (r *recorder) BroadcastJSON(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, v)
}

func (r *recorder) BroadcastSticky(v any) { r.BroadcastJSON(v) }

func (r *recorder) states() []string {
	var out []string
	for _, e := range r.events {
		if st, ok := e.(telemetry.StateTransition); ok {
			out = append(out, st.To)
		}
	}
	return out
}

// trajectory writes one row per second for n seconds with the given visible
// count per row.
func trajectory(t *testing.T, visible []int) *posdata.Log {
	t.Helper()
	var b strings.Builder
	b.WriteString("Timestamp,UTC_Time,Latitude,Longitude,Height,ns,Roll\n")
	for i, ns := range visible {
		ts := start.Add(time.Duration(i) * time.Second)
		fmt.Fprintf(&b, "%d,%s,0,0,0,%d,0.5\n", ts.Unix(), posdata.FormatTime(ts), ns)
	}
	l, err := posdata.ReadCSV(strings.NewReader(b.String()))
	require.NoError(t, err)
	return l
}

func newOrchestrator(sky Positioner, events Publisher, sinks ...Sink) *Orchestrator {
	o := New(Options{Period: 3 * time.Second, Positions: sky, Events: events, Sinks: sinks})
	o.SetFOV(fov.ViewMatch{})
	o.AddCalc(calc.DOP{})
	return o
}

func parse(t *testing.T, s string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(s, 64)
	require.NoError(t, err)
	return v
}

func TestSample_Watermark(t *testing.T) {
	var in []posdata.Sample
	for i := 0; i <= 10; i++ {
		in = append(in, posdata.Sample{Row: i, Time: start.Add(time.Duration(i) * time.Second)})
	}
	// Jitter between 9 s and 10 s changes nothing.
	in[10].Time = start.Add(9500 * time.Millisecond)

	var got []int
	for _, s := range Sample(in, 3*time.Second) {
		got = append(got, s.Row)
	}
	assert.Equal(t, []int{0, 3, 6, 9}, got)
}

func TestSample_GridStaysAnchored(t *testing.T) {
	at := func(ms ...int) []posdata.Sample {
		var out []posdata.Sample
		for i, m := range ms {
			out = append(out, posdata.Sample{Row: i, Time: start.Add(time.Duration(m) * time.Millisecond)})
		}
		return out
	}

	// Late rows do not move the grid: 3.4 s fills the 3 s slot and 6.0 s the
	// 6 s slot.
	got := Sample(at(0, 1000, 3400, 4000, 6000, 8000), 3*time.Second)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 2, 4}, []int{got[0].Row, got[1].Row, got[2].Row})

	assert.Nil(t, Sample(nil, time.Second))
}

func TestRun_EndToEnd(t *testing.T) {
	sky := &fixedSky{}
	ev := &recorder{}
	var emitted *table.Table
	o := newOrchestrator(sky, ev, func(_ context.Context, tb *table.Table) error {
		emitted = tb
		return nil
	})

	tbl, sum, err := o.Run(context.Background(), trajectory(t, []int{4, 4, 4, 4, 4, 4, 4, 4, 4}))
	require.NoError(t, err)
	assert.Same(t, tbl, emitted)
	assert.Equal(t, Done, o.State())

	assert.Equal(t, []string{
		"Latitude", "Longitude", "Height", "UTC_Time", "ns", "Timestamp",
		"HDOP", "VDOP", "GDOP",
	}, tbl.Names())
	require.Equal(t, 3, tbl.Len())

	for i, utc := range tbl.Column("UTC_Time") {
		assert.Equal(t, posdata.FormatTime(start.Add(time.Duration(3*i)*time.Second)), utc)
	}
	for i := 0; i < tbl.Len(); i++ {
		assert.InDelta(t, 1.5811388300841898, parse(t, tbl.Column("HDOP")[i]), 1e-9)
		assert.InDelta(t, 1.5, parse(t, tbl.Column("VDOP")[i]), 1e-9)
		assert.InDelta(t, 2.0, parse(t, tbl.Column("GDOP")[i]), 1e-9)
	}
	assert.Equal(t, strconv.FormatInt(start.Add(6*time.Second).Unix(), 10), tbl.Column("Timestamp")[2])

	assert.Len(t, sky.calls, 3)
	assert.Equal(t, 9, sum.InputRows)
	assert.Equal(t, 3, sum.SampledRows)
	assert.Zero(t, sum.DegradedRows)
	assert.Equal(t, o.RunID(), sum.RunID)

	assert.Equal(t, []string{"CONFIGURING", "SAMPLING", "COMPUTING", "EMITTING", "DONE"}, ev.states())
	last, ok := ev.events[len(ev.events)-1].(telemetry.Summary)
	require.True(t, ok)
	assert.Equal(t, o.RunID(), last.RunID)
	assert.Equal(t, []string{"2021-12-03"}, last.Dates)
}

func TestRun_GeometryFailureDegradesRow(t *testing.T) {
	o := newOrchestrator(&fixedSky{}, nil)
	o.AddCalc(calc.InView{})

	// The 3 s row reports only three satellites.
	tbl, sum, err := o.Run(context.Background(), trajectory(t, []int{4, 4, 4, 3, 4, 4, 5}))
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	assert.Equal(t, []string{"0", "0", "0", "3"}, tbl.Row(1)[len(tbl.Row(1))-4:])
	assert.Equal(t, "4", tbl.Column(calc.InViewColumn)[0])
	assert.Equal(t, "5", tbl.Column(calc.InViewColumn)[2])
	assert.Equal(t, 1, sum.DegradedRows)
	assert.Equal(t, map[string]int{"insufficient_geometry": 1}, sum.Degraded)
}

func TestRun_RequiredChannelsAreUnion(t *testing.T) {
	o := newOrchestrator(&fixedSky{}, nil)
	assert.Equal(t, []posdata.Channel{
		posdata.Latitude, posdata.Longitude, posdata.Altitude, posdata.UTC, posdata.Visible, posdata.Timestamp,
	}, o.RequiredChannels())
}

func TestRun_MissingChannel(t *testing.T) {
	sky := &fixedSky{}
	ev := &recorder{}
	o := newOrchestrator(sky, ev)

	csv := "UTC_Time,Latitude,Longitude,Height,ns\n2021-12-03 12:00:00,0,0,0,4\n"
	l, err := posdata.ReadCSV(strings.NewReader(csv))
	require.NoError(t, err)

	_, _, err = o.Run(context.Background(), l)
	require.Error(t, err)
	assert.ErrorIs(t, err, posdata.ErrMissingChannel)
	assert.Contains(t, err.Error(), "Timestamp")
	assert.Empty(t, sky.calls)
	assert.Equal(t, Aborted, o.State())
	assert.Equal(t, []string{"CONFIGURING", "ABORTED"}, ev.states())
}

func TestRun_NotConfigured(t *testing.T) {
	l := trajectory(t, []int{4})

	noFOV := New(Options{Positions: &fixedSky{}})
	noFOV.AddCalc(calc.DOP{})
	_, _, err := noFOV.Run(context.Background(), l)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, Aborted, noFOV.State())

	noCalc := New(Options{Positions: &fixedSky{}})
	noCalc.SetFOV(fov.ViewMatch{})
	_, _, err = noCalc.Run(context.Background(), l)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRun_EphemerisFailureIsFatal(t *testing.T) {
	sky := &fixedSky{err: &ephemeris.DateError{Date: start, Satellite: "G07"}}
	sinkCalled := false
	o := newOrchestrator(sky, nil, func(context.Context, *table.Table) error {
		sinkCalled = true
		return nil
	})

	_, _, err := o.Run(context.Background(), trajectory(t, []int{4, 4, 4, 4}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ephemeris.ErrNoEphemerisForDate)
	assert.Contains(t, err.Error(), "G07")
	assert.Len(t, sky.calls, 1)
	assert.False(t, sinkCalled)
	assert.Equal(t, Aborted, o.State())
}

func TestRun_SinkFailure(t *testing.T) {
	o := newOrchestrator(&fixedSky{}, nil, func(context.Context, *table.Table) error {
		return errors.New("disk full")
	})
	_, _, err := o.Run(context.Background(), trajectory(t, []int{4}))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, Aborted, o.State())
}

func TestAddCalc_Deduplicates(t *testing.T) {
	o := newOrchestrator(&fixedSky{}, nil)
	o.AddCalc(calc.DOP{})
	o.AddCalc(calc.InView{})
	o.AddCalc(calc.InView{})
	assert.Len(t, o.calcs, 2)
}

func TestNew_DistinctRunIDs(t *testing.T) {
	a, b := New(Options{}), New(Options{})
	assert.NotEqual(t, a.RunID(), b.RunID())
	assert.Len(t, a.RunID(), 36)
	assert.Equal(t, Idle, a.State())
}
