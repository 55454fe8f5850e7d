package ctl

import (
	"fmt"
	"io"
	"strings"
)

// Build-time variables set via -ldflags.
var (
	Version   = "dev"
	GoVersion = "unknown"
)

// VersionInfo fetches the server version via GET /api/version and displays
// both the CLI and server version information.
func VersionInfo(w io.Writer, baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var server struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		BuiltAt   string `json:"built_at"`
	}
	serverErr := getJSON(baseURL, "/api/version", &server)

	if jsonOutput {
		resp := map[string]any{
			"cli": map[string]any{
				"version":    Version,
				"go_version": GoVersion,
			},
		}
		if serverErr == nil {
			resp["server"] = server
		} else {
			resp["server_error"] = serverErr.Error()
		}
		return printJSON(w, resp)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, header("  GDOPER VERSION"))
	fmt.Fprintln(w, colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Fprintf(w, "  %-12s %s\n", "CLI:", Version+" ("+GoVersion+")")
	if serverErr != nil {
		fmt.Fprintf(w, "  %-12s %s\n", "Server:", colorize(red, "unreachable: "+serverErr.Error()))
	} else {
		fmt.Fprintf(w, "  %-12s %s\n", "Server:", server.Version+" ("+server.GoVersion+")")
		fmt.Fprintf(w, "  %-12s %s\n", "Built:", server.BuiltAt)
	}
	fmt.Fprintln(w)
	return nil
}
