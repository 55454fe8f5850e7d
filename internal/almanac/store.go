// Package almanac plans GPS satellite visibility from CelesTrak two-line
// elements. It complements the broadcast-ephemeris path with a quick look at
// which PRNs rise over a trajectory and when.
package almanac

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/akhenakh/sgp4"

	"github.com/large-farva/gdoper/internal/ephcache"
	"github.com/large-farva/gdoper/internal/nav"
)

// DefaultURL serves the operational GPS constellation.
const DefaultURL = "https://celestrak.org/NORAD/elements/gp.php?GROUP=gps-ops&FORMAT=tle"

const cacheFile = "gps_ops_tle.txt"

var prnPattern = regexp.MustCompile(`\(PRN\s*(\d+)\)`)

// Satellite is one GPS vehicle with its current element set.
type Satellite struct {
	ID      string // G01..G32
	PRN     int
	Name    string
	NoradID int
	TLE     *sgp4.TLE
}

// Store fetches and caches the GPS element sets. It uses a tiered fallback
// strategy: fresh disk cache, network fetch, then stale disk cache.
type Store struct {
	url      string
	dataRoot string
	maxAge   time.Duration
	fetcher  ephcache.Fetcher
}

// NewStore returns a store that fetches from url and caches under dataRoot.
func NewStore(url, dataRoot string, refreshHours int, fetcher ephcache.Fetcher) *Store {
	if fetcher == nil {
		fetcher = ephcache.NewHTTPFetcher(30 * time.Second)
	}
	return &Store{
		url:      url,
		dataRoot: dataRoot,
		maxAge:   time.Duration(refreshHours) * time.Hour,
		fetcher:  fetcher,
	}
}

// Fetch returns the constellation sorted by PRN.
func (s *Store) Fetch(ctx context.Context) ([]Satellite, error) {
	raw, err := s.loadOrFetch(ctx, false)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// ForceRefresh skips the fresh-cache tier.
func (s *Store) ForceRefresh(ctx context.Context) ([]Satellite, error) {
	raw, err := s.loadOrFetch(ctx, true)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func (s *Store) loadOrFetch(ctx context.Context, force bool) (string, error) {
	cachePath := filepath.Join(s.dataRoot, cacheFile)

	// Tier 1: fresh disk cache
	if !force {
		info, err := os.Stat(cachePath)
		if err == nil && time.Since(info.ModTime()) < s.maxAge {
			if b, readErr := os.ReadFile(cachePath); readErr == nil && len(b) > 0 {
				return string(b), nil
			}
		}
	}

	// Tier 2: network fetch
	body, fetchErr := s.fetcher.Fetch(ctx, s.url)
	if fetchErr == nil {
		// Cache write failure is non-fatal; we already have the data in memory.
		_ = writeCache(cachePath, body)
		return string(body), nil
	}

	// Tier 3: stale disk cache
	if b, readErr := os.ReadFile(cachePath); readErr == nil && len(b) > 0 {
		return string(b), nil
	}

	return "", fmt.Errorf("all TLE sources exhausted: %w", fetchErr)
}

// writeCache atomically writes data to cachePath via a temp file and rename.
func writeCache(cachePath string, data []byte) error {
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "tle-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), cachePath)
}

// Parse extracts GPS satellites from a 3-line TLE dump. The PRN comes from
// the "(PRN nn)" suffix CelesTrak puts in each name; entries without one are
// skipped.
func Parse(raw string) ([]Satellite, error) {
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n")), "\n")

	byPRN := make(map[int]Satellite)
	for i := 0; i+2 < len(lines); i += 3 {
		group := strings.TrimSpace(lines[i]) + "\n" +
			strings.TrimSpace(lines[i+1]) + "\n" +
			strings.TrimSpace(lines[i+2])

		tle, err := sgp4.ParseTLE(group)
		if err != nil {
			continue
		}
		prn, ok := prnFromName(tle.Name)
		if !ok {
			continue
		}
		byPRN[prn] = Satellite{
			ID:      nav.SatelliteID(prn),
			PRN:     prn,
			Name:    strings.TrimSpace(tle.Name),
			NoradID: tle.SatelliteNumber,
			TLE:     tle,
		}
	}

	if len(byPRN) == 0 {
		return nil, fmt.Errorf("no GPS TLEs found in %d lines of input", len(lines))
	}

	out := make([]Satellite, 0, len(byPRN))
	for _, s := range byPRN {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PRN < out[j].PRN })
	return out, nil
}

func prnFromName(name string) (int, bool) {
	m := prnPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	prn, err := strconv.Atoi(m[1])
	if err != nil || prn < 1 || prn > nav.MaxPRN {
		return 0, false
	}
	return prn, true
}
