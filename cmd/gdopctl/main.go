// Gdopctl is the command-line client for a running gdoper job. It connects
// over HTTP and WebSocket to query status and stream live run events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/large-farva/gdoper/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "gdoper server URL (e.g. http://10.0.0.5:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,progress)")
		follow  = pflag.BoolP("follow", "f", false, "Keep watching after the run finishes")
	)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	var err error
	switch pflag.Arg(0) {
	case "status":
		err = ctl.Status(os.Stdout, *host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(os.Stdout, *host, *jsonOut)

	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = ctl.Watch(ctx, os.Stdout, *host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
			Follow: *follow,
		})
		stop()

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  gdopctl - watch and query a gdoper run

  USAGE
    gdopctl [flags] <command>

  COMMANDS
    status          Show run state, progress and result summary
    version         Show CLI and server version information
    watch           Stream live run events until the run finishes (Ctrl-C to stop)

  FLAGS
    -H, --host URL      Server base URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)
    -f, --follow        Keep watching after the run finishes

  EXAMPLES
    gdopctl status
    gdopctl --json status
    gdopctl --host http://10.0.0.5:8080 watch
    gdopctl watch --filter state,summary

`)
}
