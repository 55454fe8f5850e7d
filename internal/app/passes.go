package app

import (
	"context"
	"errors"
	"time"

	"github.com/large-farva/gdoper/internal/almanac"
	"github.com/large-farva/gdoper/internal/posdata"
)

// PassPlan is the almanac visibility forecast for a trajectory.
type PassPlan struct {
	Origin posdata.Sample
	Start  time.Time
	End    time.Time
	Passes []almanac.Pass
}

// PlanPasses predicts GPS passes over the input's first fix, from that fix
// until the last one or window later, whichever is further.
func (a *App) PlanPasses(ctx context.Context, window time.Duration) (PassPlan, error) {
	if a.cfg.Data.Input == "" {
		return PassPlan{}, ErrNoInput
	}
	cols := Columns(a.cfg.Channels)
	in, err := ReadInput(a.cfg.Data.Input, cols, a.log)
	if err != nil {
		return PassPlan{}, err
	}
	samples, err := in.Samples(cols, []posdata.Channel{posdata.UTC, posdata.Latitude, posdata.Longitude, posdata.Altitude})
	if err != nil {
		return PassPlan{}, err
	}
	if len(samples) == 0 {
		return PassPlan{}, errors.New("input holds no position samples")
	}

	plan := PassPlan{Origin: samples[0], Start: samples[0].Time}
	plan.End = samples[len(samples)-1].Time
	if floor := plan.Start.Add(window); plan.End.Before(floor) {
		plan.End = floor
	}

	store := almanac.NewStore(a.cfg.Almanac.TLEURL, a.cfg.Data.CacheRoot, a.cfg.Almanac.TLERefreshHours, a.fetcher)
	planner := almanac.NewPlanner(store, a.cfg.Almanac.StepSeconds, a.cfg.Almanac.MinElevation, a.log)
	plan.Passes, err = planner.Passes(ctx, plan.Origin.Position, plan.Start, plan.End)
	if err != nil {
		return PassPlan{}, err
	}
	return plan, nil
}
