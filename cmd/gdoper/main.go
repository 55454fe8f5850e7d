// Gdoper post-processes a recorded receiver trajectory: for every sampled
// position it resolves the GPS constellation from broadcast ephemeris, picks
// the satellites in view and writes dilution-of-precision values to CSV and,
// optionally, SQLite. The passes command forecasts constellation visibility
// over the trajectory from almanac elements instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/gdoper/internal/app"
	"github.com/large-farva/gdoper/internal/config"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config TOML (defaults apply when unset)")
		input      = pflag.StringP("input", "i", "", "Position log (CSV, or NMEA with .nmea extension)")
		output     = pflag.StringP("output", "o", "", "Output CSV (default: <input>_gdop.csv)")
		sqlitePath = pflag.String("sqlite", "", "Also write results to this SQLite database")
		cacheRoot  = pflag.String("cache", "", "Navigation file cache directory")
		period     = pflag.Float64P("period", "p", 0, "Sampling period in seconds")
		strategy   = pflag.String("fov", "", "Field-of-view strategy: view-match or horizon-mask")
		mask       = pflag.Float64("mask", 0, "Elevation mask in degrees for horizon-mask")
		calcs      = pflag.StringSlice("calc", nil, "Calculations to run, in order (dop, sats-in-view)")
		stations   = pflag.StringSlice("stations", nil, "Preferred 4-character IGS stations")
		bind       = pflag.String("bind", "", "Serve status and live events on this address during the run")
		debug      = pflag.Bool("debug", false, "Log per-row details")
		window     = pflag.Duration("window", 12*time.Hour, "passes: minimum forecast window")
	)
	pflag.Usage = usage
	pflag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}

	flags := pflag.CommandLine
	if flags.Changed("input") {
		cfg.Data.Input = *input
	}
	if flags.Changed("output") {
		cfg.Data.Output = *output
	}
	if flags.Changed("sqlite") {
		cfg.Data.SQLite = *sqlitePath
	}
	if flags.Changed("cache") {
		cfg.Data.CacheRoot = *cacheRoot
	}
	if flags.Changed("period") {
		cfg.Sampling.PeriodSeconds = *period
	}
	if flags.Changed("fov") {
		cfg.FOV.Strategy = *strategy
	}
	if flags.Changed("mask") {
		cfg.FOV.MaskAngleDeg = *mask
	}
	if flags.Changed("calc") {
		cfg.Calculations.List = *calcs
	}
	if flags.Changed("stations") {
		cfg.Remote.Stations = *stations
	}
	if flags.Changed("bind") {
		cfg.Server.Bind = *bind
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := log.New(os.Stdout, "gdoper ", log.LstdFlags|log.Lmicroseconds)
	a := app.New(app.Options{Logger: logger, Cfg: cfg})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch pflag.Arg(0) {
	case "":
		sum, err := a.Run(ctx)
		if err != nil {
			if errors.Is(err, app.ErrNoInput) {
				usage()
			}
			logger.Fatalf("run failed: %v", err)
		}
		if sum.DegradedRows > 0 {
			logger.Printf("%d rows degraded: %v", sum.DegradedRows, sum.Degraded)
		}

	case "passes":
		plan, err := a.PlanPasses(ctx, *window)
		if err != nil {
			logger.Fatalf("passes failed: %v", err)
		}
		printPasses(plan)

	default:
		usage()
		os.Exit(2)
	}
}

func printPasses(plan app.PassPlan) {
	fmt.Printf("\n  GPS passes over %.5f, %.5f from %s to %s\n\n",
		plan.Origin.Position.Lat, plan.Origin.Position.Lon,
		plan.Start.Format(time.DateTime), plan.End.Format(time.DateTime))

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  SAT\tAOS\tLOS\tMAX EL\tAZ IN\tAZ OUT\t")
	for _, p := range plan.Passes {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%.1f\t%.0f\t%.0f\t\n",
			p.Satellite, p.AOS.Format("15:04:05"), p.LOS.Format("15:04:05"),
			p.MaxElev, p.AOSAzimuth, p.LOSAzimuth)
	}
	_ = tw.Flush()
	fmt.Println()
}

func usage() {
	fmt.Fprint(os.Stderr, `
  gdoper - dilution of precision along a recorded trajectory

  USAGE
    gdoper [flags]              process the input position log
    gdoper [flags] passes       forecast GPS passes over the first fix

`)
	pflag.PrintDefaults()
	fmt.Fprintln(os.Stderr)
}
