// Package pipeline drives a run: it validates the configured field-of-view
// strategy and calculations, samples the position log on a fixed grid,
// resolves and selects satellites for each sampled row, runs every
// calculation and hands the finished table to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/large-farva/gdoper/internal/calc"
	"github.com/large-farva/gdoper/internal/dop"
	"github.com/large-farva/gdoper/internal/ephemeris"
	"github.com/large-farva/gdoper/internal/fov"
	"github.com/large-farva/gdoper/internal/geo"
	"github.com/large-farva/gdoper/internal/posdata"
	"github.com/large-farva/gdoper/internal/table"
	"github.com/large-farva/gdoper/internal/telemetry"
)

// State is a step of the run.
type State string

const (
	Idle        State = "IDLE"
	Configuring State = "CONFIGURING"
	Sampling    State = "SAMPLING"
	Computing   State = "COMPUTING"
	Emitting    State = "EMITTING"
	Done        State = "DONE"
	Aborted     State = "ABORTED"
)

const component = "pipeline"

// ErrNotConfigured is returned when no selector or no calculation is set.
var ErrNotConfigured = errors.New("pipeline not configured")

// Positioner resolves satellite positions at sample times.
type Positioner interface {
	PositionsAt(ctx context.Context, ids []string, times []time.Time) ([]ephemeris.Epoch, error)
}

// Publisher receives run events. *ws.Hub satisfies it.
type Publisher interface {
	BroadcastJSON(v any)
	BroadcastSticky(v any)
}

// Sink consumes the finished table.
type Sink func(ctx context.Context, t *table.Table) error

// Options configures an Orchestrator.
type Options struct {
	Logger     *log.Logger
	Debug      bool
	Period     time.Duration
	Columns    posdata.Columns
	Satellites []string // nil means every satellite with a record
	Positions  Positioner
	Events     Publisher
	Sinks      []Sink
}

// Summary describes a completed run.
type Summary struct {
	RunID        string
	InputRows    int
	SampledRows  int
	DegradedRows int
	Degraded     map[string]int // degraded rows per reason
	Dates        []time.Time
	Duration     time.Duration
}

// Orchestrator runs the pipeline once.
type Orchestrator struct {
	log    *log.Logger
	debug  bool
	period time.Duration
	cols   posdata.Columns
	sats   []string
	pos    Positioner
	events Publisher
	sinks  []Sink

	runID string
	state atomic.Value // State

	selector fov.Selector
	calcs    []calc.Calculation
}

// New returns an orchestrator in the IDLE state with a fresh run id.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		log:    opts.Logger,
		debug:  opts.Debug,
		period: opts.Period,
		cols:   opts.Columns,
		sats:   opts.Satellites,
		pos:    opts.Positions,
		events: opts.Events,
		sinks:  opts.Sinks,
		runID:  uuid.New().String(),
	}
	if o.log == nil {
		o.log = log.New(io.Discard, "", 0)
	}
	if o.cols == nil {
		o.cols = posdata.DefaultColumns()
	}
	o.state.Store(Idle)
	return o
}

// RunID identifies this run in events and logs.
func (o *Orchestrator) RunID() string { return o.runID }

// State returns the current state. Safe to call from other goroutines.
func (o *Orchestrator) State() State { return o.state.Load().(State) }

// SetFOV sets the satellite selection strategy.
func (o *Orchestrator) SetFOV(s fov.Selector) { o.selector = s }

// AddCalc queues a calculation. A calculation whose name is already queued
// is ignored.
func (o *Orchestrator) AddCalc(c calc.Calculation) {
	for _, q := range o.calcs {
		if q.Name() == c.Name() {
			return
		}
	}
	o.calcs = append(o.calcs, c)
}

// RequiredChannels is the union of the channels the selector and every
// queued calculation read, in first-seen order.
func (o *Orchestrator) RequiredChannels() []posdata.Channel {
	var out []posdata.Channel
	seen := make(map[posdata.Channel]bool)
	add := func(chs []posdata.Channel) {
		for _, ch := range chs {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}
	if o.selector != nil {
		add(o.selector.RequiredChannels())
	}
	for _, c := range o.calcs {
		add(c.RequiredChannels())
	}
	return out
}

// Run processes in and returns the output table. Geometry failures on a row
// degrade that row to zeros; every other error aborts the run.
func (o *Orchestrator) Run(ctx context.Context, in *posdata.Log) (*table.Table, Summary, error) {
	started := time.Now()
	sum := Summary{RunID: o.runID, Degraded: make(map[string]int)}

	tbl, err := o.run(ctx, in, &sum)
	sum.Duration = time.Since(started)
	if err != nil {
		o.abort(err)
		return nil, sum, err
	}

	o.transition(Done, nil)
	o.publishSummary(sum, tbl)
	o.log.Printf("pipeline: run %s done: %d of %d rows sampled, %d degraded in %s",
		o.runID, sum.SampledRows, sum.InputRows, sum.DegradedRows, sum.Duration.Round(time.Millisecond))
	return tbl, sum, nil
}

func (o *Orchestrator) run(ctx context.Context, in *posdata.Log, sum *Summary) (*table.Table, error) {
	o.transition(Configuring, nil)
	if o.selector == nil {
		return nil, fmt.Errorf("%w: no field-of-view strategy set", ErrNotConfigured)
	}
	if len(o.calcs) == 0 {
		return nil, fmt.Errorf("%w: no calculations queued", ErrNotConfigured)
	}
	if o.pos == nil {
		return nil, fmt.Errorf("%w: no ephemeris source", ErrNotConfigured)
	}
	required := o.RequiredChannels()
	if err := in.Require(o.cols.Names(required)); err != nil {
		return nil, err
	}

	o.transition(Sampling, nil)
	samples, err := in.Samples(o.cols, required)
	if err != nil {
		return nil, err
	}
	sampled := Sample(samples, o.period)
	sum.InputRows, sum.SampledRows = len(samples), len(sampled)
	o.log.Printf("pipeline: sampled %d of %d rows every %s", len(sampled), len(samples), o.period)

	tbl, raw, err := o.newTable(required)
	if err != nil {
		return nil, err
	}

	o.transition(Computing, nil)
	lastPct := -1
	for i, s := range sampled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cells, degraded, err := o.computeRow(ctx, s, raw)
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): %w", s.Row, posdata.FormatTime(s.Time), err)
		}
		if err := tbl.Append(cells); err != nil {
			return nil, err
		}
		if degraded != "" {
			sum.DegradedRows++
			sum.Degraded[degraded]++
		}

		if pct := (i + 1) * 100 / len(sampled); pct != lastPct {
			lastPct = pct
			o.publishProgress(i+1, len(sampled))
		}
	}

	if d, ok := o.pos.(interface{ Dates() []time.Time }); ok {
		sum.Dates = d.Dates()
	}

	o.transition(Emitting, nil)
	for _, sink := range o.sinks {
		if err := sink(ctx, tbl); err != nil {
			return nil, fmt.Errorf("emitting: %w", err)
		}
	}
	return tbl, nil
}

// newTable seeds the raw required columns, then one column per calculation
// output.
func (o *Orchestrator) newTable(required []posdata.Channel) (*table.Table, []string, error) {
	tbl := table.New()
	var raw []string
	for _, name := range o.cols.Names(required) {
		added, err := tbl.AddColumn(name, table.Text)
		if err != nil {
			return nil, nil, err
		}
		if added {
			raw = append(raw, name)
		}
	}
	for _, c := range o.calcs {
		for _, name := range c.Columns() {
			added, err := tbl.AddColumn(name, table.Real)
			if err != nil {
				return nil, nil, err
			}
			if !added {
				return nil, nil, fmt.Errorf("%w: output column %q produced twice", ErrNotConfigured, name)
			}
		}
	}
	return tbl, raw, nil
}

// computeRow returns the row's cells and, when a calculation hit degenerate
// geometry, the reason.
func (o *Orchestrator) computeRow(ctx context.Context, s posdata.Sample, raw []string) ([]string, string, error) {
	eps, err := o.pos.PositionsAt(ctx, o.sats, []time.Time{s.Time})
	if err != nil {
		return nil, "", err
	}

	candidates := make(map[string]geo.Vec3)
	for id, p := range eps[0].Positions {
		candidates[id] = p.ECEF
	}
	ids := o.selector.Select(s.Position, candidates, s.Visible)

	in := calc.Input{Time: s.Time, Receiver: s.Position, Satellites: make(map[string]geo.Vec3, len(ids))}
	for _, id := range ids {
		in.Satellites[id] = candidates[id]
	}
	if o.debug {
		o.log.Printf("pipeline: %s: %d candidates, in view %v (reported %d)",
			posdata.FormatTime(s.Time), len(candidates), ids, s.Visible)
	}

	cells := make([]string, 0, len(raw)+4)
	for _, name := range raw {
		cells = append(cells, s.Raw[name])
	}

	degraded := ""
	for _, c := range o.calcs {
		vals, err := c.Compute(in)
		if reason := geometryReason(err); reason != "" {
			degraded = reason
			vals = make([]float64, len(c.Columns()))
			if o.debug {
				o.log.Printf("pipeline: %s: %s: %v", posdata.FormatTime(s.Time), c.Name(), err)
			}
		} else if err != nil {
			return nil, "", fmt.Errorf("%s: %w", c.Name(), err)
		}
		if len(vals) != len(c.Columns()) {
			return nil, "", fmt.Errorf("%s: returned %d values for %d columns", c.Name(), len(vals), len(c.Columns()))
		}
		for _, v := range vals {
			cells = append(cells, table.FormatFloat(v))
		}
	}
	return cells, degraded, nil
}

func geometryReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, dop.ErrInsufficientGeometry):
		return "insufficient_geometry"
	case errors.Is(err, dop.ErrSingularGeometry):
		return "singular_geometry"
	default:
		return ""
	}
}

// transition stores the new state and broadcasts the change.
func (o *Orchestrator) transition(to State, cause error) {
	from := o.State()
	if from == to {
		return
	}
	o.state.Store(to)

	if o.events == nil {
		return
	}
	ev := telemetry.StateTransition{
		Event: telemetry.NewEvent(telemetry.EventState, component, o.runID),
		From:  string(from),
		To:    string(to),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	o.events.BroadcastSticky(ev)
}

func (o *Orchestrator) abort(err error) {
	o.log.Printf("pipeline: run %s aborted in %s: %v", o.runID, o.State(), err)
	o.transition(Aborted, err)
	if o.events != nil {
		o.events.BroadcastJSON(telemetry.LogLine{
			Event:   telemetry.NewEvent(telemetry.EventLog, component, o.runID),
			Level:   "error",
			Message: err.Error(),
		})
	}
}

func (o *Orchestrator) publishProgress(row, rows int) {
	if o.events == nil {
		return
	}
	o.events.BroadcastJSON(telemetry.Progress{
		Event:   telemetry.NewEvent(telemetry.EventProgress, component, o.runID),
		Stage:   string(Computing),
		Percent: float64(row) * 100 / float64(rows),
		Row:     row,
		Rows:    rows,
	})
}

func (o *Orchestrator) publishSummary(sum Summary, tbl *table.Table) {
	if o.events == nil {
		return
	}
	dates := make([]string, len(sum.Dates))
	for i, d := range sum.Dates {
		dates[i] = d.Format(time.DateOnly)
	}
	o.events.BroadcastJSON(telemetry.Summary{
		Event:        telemetry.NewEvent(telemetry.EventSummary, component, o.runID),
		InputRows:    sum.InputRows,
		SampledRows:  sum.SampledRows,
		DegradedRows: sum.DegradedRows,
		Degraded:     sum.Degraded,
		Dates:        dates,
		Columns:      tbl.Names(),
		DurationMS:   sum.Duration.Milliseconds(),
	})
}
