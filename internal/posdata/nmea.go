package posdata

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// ReadNMEA builds a log from NMEA 0183 sentences. RMC sentences supply the
// date and GGA sentences with a fix supply one row each, under the column
// names in cols. Sentences that fail to parse are counted and skipped.
func ReadNMEA(r io.Reader, cols Columns) (*Log, int, error) {
	chans := []Channel{UTC, Timestamp, Latitude, Longitude, Altitude, Visible}
	l := newLog(cols.Names(chans))

	var (
		date    nmea.Date
		skipped int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		i := strings.IndexByte(line, '$')
		if i < 0 {
			continue
		}

		s, err := nmea.Parse(line[i:])
		if err != nil {
			skipped++
			continue
		}

		switch m := s.(type) {
		case nmea.RMC:
			if m.Date.Valid {
				date = m.Date
			}
		case nmea.GGA:
			if m.FixQuality == "0" || !date.Valid || !m.Time.Valid {
				continue
			}
			t := time.Date(2000+date.YY, time.Month(date.MM), date.DD,
				m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
			l.rows = append(l.rows, []string{
				FormatTime(t),
				strconv.FormatFloat(float64(t.UnixMilli())/1000, 'f', -1, 64),
				strconv.FormatFloat(m.Latitude, 'f', -1, 64),
				strconv.FormatFloat(m.Longitude, 'f', -1, 64),
				strconv.FormatFloat(m.Altitude, 'f', -1, 64),
				strconv.FormatInt(m.NumSatellites, 10),
			})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, err
	}
	return l, skipped, nil
}
