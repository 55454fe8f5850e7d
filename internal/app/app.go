// Package app wires a gdoper run together: the navigation file cache, the
// ephemeris store, the field-of-view strategy and calculations, the pipeline
// and its sinks. When a bind address is configured it also serves the run's
// status and live event stream over HTTP and WebSocket.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/large-farva/gdoper/internal/calc"
	"github.com/large-farva/gdoper/internal/config"
	"github.com/large-farva/gdoper/internal/ephcache"
	"github.com/large-farva/gdoper/internal/ephemeris"
	"github.com/large-farva/gdoper/internal/fov"
	"github.com/large-farva/gdoper/internal/pipeline"
	"github.com/large-farva/gdoper/internal/posdata"
	"github.com/large-farva/gdoper/internal/table"
	"github.com/large-farva/gdoper/internal/telemetry"
	"github.com/large-farva/gdoper/internal/ws"
)

const component = "gdoper"

// ErrNoInput is returned when neither the config nor the flags name a
// position log.
var ErrNoInput = errors.New("no input position log configured")

// Options holds everything the App needs from the caller.
type Options struct {
	Logger  *log.Logger
	Cfg     config.Config
	Fetcher ephcache.Fetcher // nil downloads over HTTP(S)
}

// App runs one post-processing job and reports on it.
type App struct {
	log     *log.Logger
	cfg     config.Config
	fetcher ephcache.Fetcher

	startedAt time.Time
	state     atomic.Value // pipeline.State as string
	runID     atomic.Value // string
	progress  atomic.Value // float64 percent

	mu      sync.Mutex
	summary *telemetry.Summary

	hub     *ws.Hub
	serving atomic.Bool
}

// New creates an App in the BOOTING state. Call Run to process the input.
func New(opts Options) *App {
	a := &App{
		log:       opts.Logger,
		cfg:       opts.Cfg,
		fetcher:   opts.Fetcher,
		startedAt: time.Now(),
		hub:       ws.NewHub(),
	}
	if a.log == nil {
		a.log = log.New(io.Discard, "", 0)
	}
	if a.fetcher == nil {
		a.fetcher = ephcache.NewHTTPFetcher(time.Duration(a.cfg.Remote.TimeoutSeconds) * time.Second)
	}
	a.state.Store("BOOTING")
	a.runID.Store("")
	a.progress.Store(0.0)
	return a
}

// Run processes the configured input and writes every configured output.
// With server.bind set, the status server runs for the duration of the job
// and lingers briefly afterwards.
func (a *App) Run(ctx context.Context) (pipeline.Summary, error) {
	if a.cfg.Server.Bind != "" {
		stop, err := a.serve(ctx, a.cfg.Server.Bind)
		if err != nil {
			return pipeline.Summary{}, err
		}
		defer stop()
	}
	return a.process(ctx)
}

func (a *App) process(ctx context.Context) (pipeline.Summary, error) {
	if a.cfg.Data.Input == "" {
		return pipeline.Summary{}, ErrNoInput
	}

	cols := Columns(a.cfg.Channels)
	in, err := ReadInput(a.cfg.Data.Input, cols, a.log)
	if err != nil {
		return pipeline.Summary{}, err
	}

	orch, err := a.newOrchestrator(cols)
	if err != nil {
		return pipeline.Summary{}, err
	}
	a.runID.Store(orch.RunID())
	a.log.Printf("run %s: %s (%d rows) -> %s", orch.RunID(), a.cfg.Data.Input, in.Len(), a.outputPath())

	_, sum, err := orch.Run(ctx, in)
	return sum, err
}

// newOrchestrator builds the pipeline from the configuration.
func (a *App) newOrchestrator(cols posdata.Columns) (*pipeline.Orchestrator, error) {
	sel, err := fov.ByName(a.cfg.FOV.Strategy, a.cfg.FOV.MaskAngleDeg)
	if err != nil {
		return nil, err
	}
	calcs, err := calc.ByName(a.cfg.Calculations.List)
	if err != nil {
		return nil, err
	}

	cache := ephcache.New(ephcache.Options{
		Root: a.cfg.Data.CacheRoot,
		Remote: ephcache.Remote{
			Scheme:  a.cfg.Remote.Scheme,
			Host:    a.cfg.Remote.Host,
			NavPath: a.cfg.Remote.NavPath,
		},
		Fallback:    a.cfg.Remote.FallbackStation,
		MaxAttempts: a.cfg.Remote.MaxAttempts,
		Fetcher:     a.fetcher,
		Logger:      a.log,
	})
	store := ephemeris.New(ephemeris.Options{
		Cache:    cache,
		Stations: a.cfg.Remote.Stations,
		Logger:   a.log,
	})

	sinks := []pipeline.Sink{a.csvSink(a.outputPath())}
	if a.cfg.Data.SQLite != "" {
		sinks = append(sinks, a.sqliteSink(a.cfg.Data.SQLite, a.cfg.Data.SQLiteTable))
	}

	orch := pipeline.New(pipeline.Options{
		Logger:    a.log,
		Debug:     strings.EqualFold(a.cfg.Logging.Level, "debug"),
		Period:    time.Duration(a.cfg.Sampling.PeriodSeconds * float64(time.Second)),
		Columns:   cols,
		Positions: store,
		Events:    a,
		Sinks:     sinks,
	})
	orch.SetFOV(sel)
	for _, c := range calcs {
		orch.AddCalc(c)
	}
	return orch, nil
}

// outputPath is the configured CSV path, or <input>_gdop.csv.
func (a *App) outputPath() string {
	if a.cfg.Data.Output != "" {
		return a.cfg.Data.Output
	}
	in := a.cfg.Data.Input
	return strings.TrimSuffix(in, filepath.Ext(in)) + "_gdop.csv"
}

func (a *App) csvSink(path string) pipeline.Sink {
	return func(_ context.Context, t *table.Table) error {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := t.WriteCSV(f); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		a.log.Printf("wrote %d rows to %s", t.Len(), path)
		return nil
	}
}

func (a *App) sqliteSink(path, name string) pipeline.Sink {
	return func(ctx context.Context, t *table.Table) error {
		if err := t.WriteSQLite(ctx, path, name); err != nil {
			return err
		}
		a.log.Printf("wrote %d rows to %s table %s", t.Len(), path, name)
		return nil
	}
}

// Columns maps the configured header names onto input channels.
func Columns(c config.ChannelsConfig) posdata.Columns {
	return posdata.Columns{
		posdata.UTC:       c.UTC,
		posdata.Latitude:  c.Latitude,
		posdata.Longitude: c.Longitude,
		posdata.Altitude:  c.Altitude,
		posdata.Visible:   c.Visible,
		posdata.Timestamp: c.Timestamp,
	}
}

// ReadInput loads a position log. Files ending in .nmea or .nma are read as
// NMEA 0183 sentences, anything else as CSV with a header row.
func ReadInput(path string, cols posdata.Columns, logger *log.Logger) (*posdata.Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".nmea", ".nma":
		in, skipped, err := posdata.ReadNMEA(f, cols)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if skipped > 0 && logger != nil {
			logger.Printf("skipped %d unparseable sentences in %s", skipped, path)
		}
		return in, nil
	default:
		in, err := posdata.ReadCSV(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		return in, nil
	}
}

// BroadcastJSON records run progress for the status endpoint and forwards
// the event to WebSocket clients.
func (a *App) BroadcastJSON(v any) {
	switch ev := v.(type) {
	case telemetry.Progress:
		a.progress.Store(ev.Percent)
	case telemetry.Summary:
		a.mu.Lock()
		a.summary = &ev
		a.mu.Unlock()
	}
	if a.serving.Load() {
		a.hub.BroadcastJSON(v)
	}
}

// BroadcastSticky records state transitions and forwards them.
func (a *App) BroadcastSticky(v any) {
	if ev, ok := v.(telemetry.StateTransition); ok {
		a.state.Store(ev.To)
	}
	if a.serving.Load() {
		a.hub.BroadcastSticky(v)
	}
}

// State returns the latest run state.
func (a *App) State() string { return a.state.Load().(string) }
