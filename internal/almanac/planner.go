package almanac

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/large-farva/gdoper/internal/geo"
)

// Pass is one rise-to-set window of a GPS satellite over a location.
type Pass struct {
	Satellite   string
	PRN         int
	AOS         time.Time
	LOS         time.Time
	MaxElev     float64
	MaxElevTime time.Time
	AOSAzimuth  float64
	LOSAzimuth  float64
	Duration    time.Duration
}

// Planner computes passes from the store's element sets.
type Planner struct {
	store   *Store
	step    int
	minElev float64
	log     *log.Logger
}

// NewPlanner propagates with a step of stepSeconds and drops passes whose
// peak stays under minElev degrees.
func NewPlanner(store *Store, stepSeconds int, minElev float64, logger *log.Logger) *Planner {
	if stepSeconds <= 0 {
		stepSeconds = 30
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Planner{store: store, step: stepSeconds, minElev: minElev, log: logger}
}

// Passes returns every pass over loc between start and end, sorted by AOS.
func (p *Planner) Passes(ctx context.Context, loc geo.LLA, start, end time.Time) ([]Pass, error) {
	sats, err := p.store.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch TLEs: %w", err)
	}
	passes, skipped := Passes(sats, loc, start, end, p.step, p.minElev)
	for id, err := range skipped {
		p.log.Printf("almanac: error computing passes for %s: %v", id, err)
	}
	return passes, nil
}

// Passes runs SGP4 for every satellite. Satellites that fail to propagate are
// returned in the second value with their error.
func Passes(sats []Satellite, loc geo.LLA, start, end time.Time, stepSeconds int, minElev float64) ([]Pass, map[string]error) {
	var all []Pass
	skipped := make(map[string]error)

	for _, sat := range sats {
		raw, err := sat.TLE.GeneratePasses(loc.Lat, loc.Lon, loc.Alt, start, end, stepSeconds)
		if err != nil {
			skipped[sat.ID] = err
			continue
		}
		for _, rp := range raw {
			if rp.MaxElevation < minElev {
				continue
			}
			all = append(all, Pass{
				Satellite:   sat.ID,
				PRN:         sat.PRN,
				AOS:         rp.AOS,
				LOS:         rp.LOS,
				MaxElev:     rp.MaxElevation,
				MaxElevTime: rp.MaxElevationTime,
				AOSAzimuth:  rp.AOSAzimuth,
				LOSAzimuth:  rp.LOSAzimuth,
				Duration:    rp.Duration,
			})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].AOS.Before(all[j].AOS)
	})
	return all, skipped
}
