// Package ephemeris resolves satellite positions at arbitrary instants from
// daily broadcast navigation files. Files are pulled through the cache the
// first time a UTC date is queried and kept for the rest of the run.
package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/large-farva/gdoper/internal/ephcache"
	"github.com/large-farva/gdoper/internal/geo"
	"github.com/large-farva/gdoper/internal/nav"
)

// ErrNoEphemerisForDate is returned when a query date has no usable record.
var ErrNoEphemerisForDate = errors.New("no ephemeris for date")

// DateError names the date, and satellite if any, that had no record.
type DateError struct {
	Date      time.Time
	Satellite string
	Station   string
}

func (e *DateError) Error() string {
	if e.Satellite == "" {
		return fmt.Sprintf("%v: %s (station %s)", ErrNoEphemerisForDate, e.Date.Format(time.DateOnly), e.Station)
	}
	return fmt.Sprintf("%v: %s has no record on %s (station %s)",
		ErrNoEphemerisForDate, e.Satellite, e.Date.Format(time.DateOnly), e.Station)
}

func (e *DateError) Unwrap() error { return ErrNoEphemerisForDate }

// Acquirer yields a local navigation file for a date.
type Acquirer interface {
	Acquire(ctx context.Context, date time.Time, preferred []string) (ephcache.Source, error)
}

// Propagator turns a navigation record into an ECEF position at t.
type Propagator func(rec nav.Record, t time.Time) geo.Vec3

// Position is one satellite resolved at one instant.
type Position struct {
	Satellite string
	Time      time.Time
	ECEF      geo.Vec3
	Offset    time.Duration // query time minus the record's reference time
}

// Epoch holds every resolved satellite for one query time.
type Epoch struct {
	Time      time.Time
	Positions map[string]Position
}

// Options configures a Store.
type Options struct {
	Cache     Acquirer
	Stations  []string // station preference passed to the cache
	Propagate Propagator
	Logger    *log.Logger
}

// Store is the per-run record store. It is not safe for concurrent use.
type Store struct {
	cache     Acquirer
	stations  []string
	propagate Propagator
	log       *log.Logger

	days map[string]*day
}

type day struct {
	date    time.Time
	station string
	records map[string][]nav.Record // sorted by Toc
}

// New returns an empty store. Propagation defaults to nav.Propagate.
func New(opts Options) *Store {
	s := &Store{
		cache:     opts.Cache,
		stations:  opts.Stations,
		propagate: opts.Propagate,
		log:       opts.Logger,
		days:      make(map[string]*day),
	}
	if s.propagate == nil {
		s.propagate = nav.Propagate
	}
	if s.log == nil {
		s.log = log.New(io.Discard, "", 0)
	}
	return s
}

// PositionsAt resolves ids at each of times, in order. A nil ids slice means
// every satellite that has records on the query's date.
func (s *Store) PositionsAt(ctx context.Context, ids []string, times []time.Time) ([]Epoch, error) {
	out := make([]Epoch, 0, len(times))
	for _, t := range times {
		t = t.UTC()
		d, err := s.load(ctx, t)
		if err != nil {
			return nil, err
		}

		want := ids
		if want == nil {
			want = d.satellites()
			if len(want) == 0 {
				return nil, &DateError{Date: d.date, Station: d.station}
			}
		}

		ep := Epoch{Time: t, Positions: make(map[string]Position, len(want))}
		for _, id := range want {
			recs := d.records[id]
			if len(recs) == 0 {
				return nil, &DateError{Date: d.date, Satellite: id, Station: d.station}
			}
			rec, offset := nearest(recs, nav.GPSTime(t))
			ep.Positions[id] = Position{
				Satellite: id,
				Time:      t,
				ECEF:      s.propagate(rec, t),
				Offset:    offset,
			}
		}
		out = append(out, ep)
	}
	return out, nil
}

// Dates returns the UTC dates loaded so far in ascending order.
func (s *Store) Dates() []time.Time {
	out := make([]time.Time, 0, len(s.days))
	for _, d := range s.days {
		out = append(out, d.date)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (s *Store) load(ctx context.Context, t time.Time) (*day, error) {
	key := t.Format(time.DateOnly)
	if d, ok := s.days[key]; ok {
		return d, nil
	}

	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	src, err := s.cache.Acquire(ctx, date, s.stations)
	if err != nil {
		return nil, fmt.Errorf("acquiring ephemeris for %s: %w", key, err)
	}

	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", src.Path, err)
	}
	defer rc.Close()

	f, err := nav.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", src.Path, err)
	}

	d := &day{date: date, station: src.Station, records: f.BySatellite()}
	s.days[key] = d
	s.log.Printf("ephemeris: loaded %s from %s (%d records, %d satellites)",
		key, src.Station, len(f.Records), len(d.records))
	return d, nil
}

func (d *day) satellites() []string {
	ids := make([]string, 0, len(d.records))
	for id, recs := range d.records {
		if len(recs) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// nearest picks the record whose Toc is closest to gps. Ties go to the
// earlier record.
func nearest(recs []nav.Record, gps time.Time) (nav.Record, time.Duration) {
	best := 0
	bestAbs := absDuration(gps.Sub(recs[0].Toc))
	for i := 1; i < len(recs); i++ {
		if d := absDuration(gps.Sub(recs[i].Toc)); d < bestAbs {
			best, bestAbs = i, d
		}
	}
	return recs[best], gps.Sub(recs[best].Toc)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
