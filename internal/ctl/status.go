package ctl

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/large-farva/gdoper/internal/telemetry"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name            string             `json:"name"`
	State           string             `json:"state"`
	RunID           string             `json:"run_id"`
	UptimeSeconds   int64              `json:"uptime_seconds"`
	Input           string             `json:"input"`
	Output          string             `json:"output"`
	CacheRoot       string             `json:"cache_root"`
	FOV             string             `json:"fov"`
	Calculations    []string           `json:"calculations"`
	ProgressPercent float64            `json:"progress_percent"`
	Disk            *DiskUsage         `json:"disk,omitempty"`
	Summary         *telemetry.Summary `json:"summary,omitempty"`
}

// DiskUsage is the cache filesystem usage reported in the status.
type DiskUsage struct {
	TotalBytes     uint64 `json:"total_bytes"`
	UsedBytes      uint64 `json:"used_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
}

// Status fetches the run status and prints a formatted summary, or the raw
// document when jsonOutput is set.
func Status(w io.Writer, baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(w, s)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, header("  GDOPER STATUS"))
	fmt.Fprintln(w, colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Fprintf(w, "  %-12s %s\n", "State:", colorize(stateColor(s.State), s.State))
	fmt.Fprintf(w, "  %-12s %s\n", "Run:", s.RunID)
	fmt.Fprintf(w, "  %-12s %s\n", "Uptime:", formatDuration(time.Duration(s.UptimeSeconds)*time.Second))
	fmt.Fprintf(w, "  %-12s %s\n", "Input:", s.Input)
	fmt.Fprintf(w, "  %-12s %s\n", "Output:", s.Output)
	fmt.Fprintf(w, "  %-12s %s / %s\n", "Pipeline:", s.FOV, strings.Join(s.Calculations, ","))
	fmt.Fprintf(w, "  %-12s [%s] %3.0f%%\n", "Progress:", progressBar(int(s.ProgressPercent), 20), s.ProgressPercent)
	fmt.Fprintf(w, "  %-12s %s\n", "Cache:", s.CacheRoot)
	if s.Disk != nil {
		fmt.Fprintf(w, "  %-12s %s free of %s\n", "Disk:", formatBytes(s.Disk.AvailableBytes), formatBytes(s.Disk.TotalBytes))
	}
	if s.Summary != nil {
		renderSummary(w, *s.Summary)
	}
	fmt.Fprintln(w)
	return nil
}

func renderSummary(w io.Writer, s telemetry.Summary) {
	fmt.Fprintf(w, "  %-12s %d of %d rows sampled, %d degraded, %s\n", "Result:",
		s.SampledRows, s.InputRows, s.DegradedRows, formatDuration(time.Duration(s.DurationMS)*time.Millisecond))
	reasons := make([]string, 0, len(s.Degraded))
	for r := range s.Degraded {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(w, "  %-12s %s: %d\n", "", r, s.Degraded[r])
	}
	if len(s.Dates) > 0 {
		fmt.Fprintf(w, "  %-12s %s\n", "Ephemeris:", strings.Join(s.Dates, ", "))
	}
	if len(s.Columns) > 0 {
		fmt.Fprintf(w, "  %-12s %s\n", "Columns:", strings.Join(s.Columns, ","))
	}
}
