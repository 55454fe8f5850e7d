// Package ephcache keeps daily broadcast navigation files on local disk. A
// date is resolved to a file by looking in the cache directory first and
// downloading from the remote archive only on a miss, rotating through
// stations until the attempt budget runs out.
package ephcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultMaxAttempts bounds the downloads tried for one date.
	DefaultMaxAttempts = 10
	// DefaultStation is the merged broadcast file published for every day.
	DefaultStation = "brdc"

	stationLen = 4
)

// ErrDownloadExhausted is returned when every allowed attempt failed.
var ErrDownloadExhausted = errors.New("download attempts exhausted")

// DownloadError reports which date and stations could not be retrieved.
type DownloadError struct {
	Date     time.Time
	Stations []string // station used by each attempt, in order
	Attempts int
	Err      error // last transport error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%v for %s after %d attempts (stations %s): %v",
		ErrDownloadExhausted, e.Date.Format(time.DateOnly), e.Attempts, strings.Join(e.Stations, ","), e.Err)
}

func (e *DownloadError) Is(target error) bool { return target == ErrDownloadExhausted }

func (e *DownloadError) Unwrap() error { return e.Err }

// Remote describes where daily navigation files are published.
type Remote struct {
	Scheme  string // https or http
	Host    string
	NavPath string // directory holding <year>/<doy>/ folders
}

// URL builds the remote location of station's file for date.
func (r Remote) URL(date time.Time, station string) string {
	p := "/" + strings.Trim(r.NavPath, "/") + "/"
	if p == "//" {
		p = "/"
	}
	return fmt.Sprintf("%s://%s%s%04d/%03d/%s",
		r.Scheme, strings.TrimRight(r.Host, "/"), p, date.Year(), date.YearDay(), FileName(station, date))
}

// FileName is the archive name of station's navigation file for date, e.g.
// brdc3370.21n.gz for 2021-12-03.
func FileName(station string, date time.Time) string {
	return station + fileSuffix(date)
}

func fileSuffix(date time.Time) string {
	return fmt.Sprintf("%03d0.%02dn.gz", date.YearDay(), date.Year()%100)
}

// Source is a navigation file available on local disk.
type Source struct {
	Date       time.Time
	Station    string
	Path       string
	Downloaded bool // true when this call fetched it from the remote
}

// Open returns a reader over the cached file.
func (s Source) Open() (io.ReadCloser, error) {
	return os.Open(s.Path)
}

// Options configures a Cache.
type Options struct {
	Root        string
	Remote      Remote
	Fallback    string // station tried once the preference list is used up
	MaxAttempts int
	Fetcher     Fetcher
	Logger      *log.Logger
}

// Cache resolves dates to navigation files. One Cache lives for a whole run
// and is not safe for concurrent use.
type Cache struct {
	root     string
	remote   Remote
	fallback string
	max      int
	fetcher  Fetcher
	log      *log.Logger

	// station that satisfied each date, keyed by YYYY-MM-DD
	sticky map[string]string
}

// New creates a cache rooted at opts.Root.
func New(opts Options) *Cache {
	c := &Cache{
		root:     opts.Root,
		remote:   opts.Remote,
		fallback: opts.Fallback,
		max:      opts.MaxAttempts,
		fetcher:  opts.Fetcher,
		log:      opts.Logger,
		sticky:   make(map[string]string),
	}
	if c.fallback == "" {
		c.fallback = DefaultStation
	}
	if c.max <= 0 {
		c.max = DefaultMaxAttempts
	}
	if c.fetcher == nil {
		c.fetcher = NewHTTPFetcher(0)
	}
	if c.log == nil {
		c.log = log.New(io.Discard, "", 0)
	}
	return c
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

// Acquire returns a local navigation file for date's UTC calendar day. Any
// cached file for that day is used regardless of which station produced it;
// otherwise stations are tried in preference order, then the fallback.
func (c *Cache) Acquire(ctx context.Context, date time.Time, preferred []string) (Source, error) {
	date = date.UTC()
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	key := day.Format(time.DateOnly)

	if st, ok := c.sticky[key]; ok {
		p := filepath.Join(c.root, FileName(st, day))
		if _, err := os.Stat(p); err == nil {
			return Source{Date: day, Station: st, Path: p}, nil
		}
		delete(c.sticky, key)
	}

	if st, ok := c.lookupLocal(day, preferred); ok {
		c.log.Printf("ephcache: %s cached locally from station %s", key, st)
		c.sticky[key] = st
		return Source{Date: day, Station: st, Path: filepath.Join(c.root, FileName(st, day))}, nil
	}

	src, err := c.download(ctx, day, preferred)
	if err != nil {
		return Source{}, err
	}
	c.sticky[key] = src.Station
	return src, nil
}

// lookupLocal finds a cached file for day. Preferred stations win over
// whatever else sits in the directory.
func (c *Cache) lookupLocal(day time.Time, preferred []string) (string, bool) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return "", false
	}

	suffix := fileSuffix(day)
	var found []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) || len(name) != stationLen+len(suffix) {
			continue
		}
		if info, err := e.Info(); err != nil || info.Size() == 0 {
			continue
		}
		found = append(found, strings.TrimSuffix(name, suffix))
	}
	if len(found) == 0 {
		return "", false
	}

	for _, want := range preferred {
		for _, st := range found {
			if st == want {
				return st, true
			}
		}
	}
	return found[0], true
}

type attemptState int

const (
	attempting attemptState = iota
	exhausted
)

// attempts walks the station rotation under a fixed budget.
type attempts struct {
	stations []string
	fallback string
	max      int
	n        int // attempts made
	tried    []string
}

// next returns the state after n attempts and, while attempting, the station
// for the following one.
func (a *attempts) next() (attemptState, string) {
	if a.n >= a.max {
		return exhausted, ""
	}
	st := a.fallback
	if a.n < len(a.stations) {
		st = a.stations[a.n]
	}
	a.n++
	a.tried = append(a.tried, st)
	return attempting, st
}

func (c *Cache) download(ctx context.Context, day time.Time, preferred []string) (Source, error) {
	att := &attempts{stations: preferred, fallback: c.fallback, max: c.max}

	var lastErr error
	state, station := att.next()
	for state == attempting {
		if err := ctx.Err(); err != nil {
			return Source{}, err
		}

		url := c.remote.URL(day, station)
		c.log.Printf("ephcache: downloading %s (attempt %d/%d)", url, att.n, att.max)

		body, err := c.fetcher.Fetch(ctx, url)
		if err == nil {
			path, werr := c.writeCache(FileName(station, day), body)
			if werr != nil {
				return Source{}, fmt.Errorf("caching %s: %w", url, werr)
			}
			c.log.Printf("ephcache: saved %s (%d bytes)", path, len(body))
			return Source{Date: day, Station: station, Path: path, Downloaded: true}, nil
		}

		c.log.Printf("ephcache: unable to download %s: %v", url, err)
		lastErr = err
		state, station = att.next()
	}

	return Source{}, &DownloadError{
		Date:     day,
		Stations: att.tried,
		Attempts: att.n,
		Err:      lastErr,
	}
}

// writeCache atomically writes data under the cache root via a temp file and
// rename so a later run never adopts a half-written file.
func (c *Cache) writeCache(name string, data []byte) (string, error) {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(c.root, "nav-*.tmp")
	if err != nil {
		return "", err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	dst := filepath.Join(c.root, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dst, nil
}
