package ephcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRemote = Remote{Scheme: "https", Host: "gssc.esa.int", NavPath: "/gnss/data/daily/"}

// scriptedFetcher fails the first failures calls and then serves body.
type scriptedFetcher struct {
	failures int
	body     []byte
	urls     []string
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	if len(f.urls) <= f.failures {
		return nil, errors.New("connection refused")
	}
	return f.body, nil
}

func newTestCache(t *testing.T, f Fetcher) *Cache {
	t.Helper()
	return New(Options{Root: t.TempDir(), Remote: testRemote, Fetcher: f})
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "brdc3370.21n.gz", FileName("brdc", time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "abmf0050.22n.gz", FileName("abmf", time.Date(2022, 1, 5, 0, 0, 0, 0, time.UTC)))
}

func TestRemoteURL(t *testing.T) {
	day := time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "https://gssc.esa.int/gnss/data/daily/2021/337/brdc3370.21n.gz", testRemote.URL(day, "brdc"))

	r := Remote{Scheme: "http", Host: "localhost:8080/", NavPath: "nav"}
	assert.Equal(t, "http://localhost:8080/nav/2021/337/abcd3370.21n.gz", r.URL(day, "abcd"))
}

func TestAcquire_DownloadsOnceAndReuses(t *testing.T) {
	f := &scriptedFetcher{body: []byte("nav bytes")}
	c := newTestCache(t, f)
	ctx := context.Background()
	date := time.Date(2021, 12, 3, 14, 30, 0, 0, time.UTC)

	src, err := c.Acquire(ctx, date, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultStation, src.Station)
	assert.True(t, src.Downloaded)
	assert.Equal(t, filepath.Join(c.Root(), "brdc3370.21n.gz"), src.Path)

	data, err := os.ReadFile(src.Path)
	require.NoError(t, err)
	assert.Equal(t, "nav bytes", string(data))

	again, err := c.Acquire(ctx, date.Add(-10*time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, src.Path, again.Path)
	assert.False(t, again.Downloaded)
	assert.Len(t, f.urls, 1)

	// A fresh cache over the same directory finds the file on disk.
	fresh := New(Options{Root: c.Root(), Remote: testRemote, Fetcher: f})
	_, err = fresh.Acquire(ctx, date, nil)
	require.NoError(t, err)
	assert.Len(t, f.urls, 1)
}

func TestAcquire_LocalFileFromAnyStation(t *testing.T) {
	f := &scriptedFetcher{body: []byte("x")}
	c := newTestCache(t, f)
	require.NoError(t, os.WriteFile(filepath.Join(c.Root(), "abmf3370.21n.gz"), []byte("cached"), 0o644))

	src, err := c.Acquire(context.Background(), time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC), []string{"brdc"})
	require.NoError(t, err)
	assert.Equal(t, "abmf", src.Station)
	assert.False(t, src.Downloaded)
	assert.Empty(t, f.urls)
}

func TestAcquire_PrefersPreferredLocalStation(t *testing.T) {
	c := newTestCache(t, &scriptedFetcher{})
	for _, name := range []string{"aaaa3370.21n.gz", "zzzz3370.21n.gz", "zzzz3380.21n.gz"} {
		require.NoError(t, os.WriteFile(filepath.Join(c.Root(), name), []byte("cached"), 0o644))
	}

	src, err := c.Acquire(context.Background(), time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC), []string{"zzzz"})
	require.NoError(t, err)
	assert.Equal(t, "zzzz", src.Station)
}

func TestAcquire_IgnoresEmptyFiles(t *testing.T) {
	f := &scriptedFetcher{body: []byte("fresh")}
	c := newTestCache(t, f)
	require.NoError(t, os.WriteFile(filepath.Join(c.Root(), "brdc3370.21n.gz"), nil, 0o644))

	src, err := c.Acquire(context.Background(), time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.True(t, src.Downloaded)
	assert.Len(t, f.urls, 1)
}

func TestAcquire_StationRotation(t *testing.T) {
	f := &scriptedFetcher{failures: 3, body: []byte("ok")}
	c := newTestCache(t, f)

	src, err := c.Acquire(context.Background(), time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC), []string{"aaaa", "bbbb"})
	require.NoError(t, err)
	assert.Equal(t, DefaultStation, src.Station)

	require.Len(t, f.urls, 4)
	assert.True(t, strings.HasSuffix(f.urls[0], "/aaaa3370.21n.gz"))
	assert.True(t, strings.HasSuffix(f.urls[1], "/bbbb3370.21n.gz"))
	assert.True(t, strings.HasSuffix(f.urls[2], "/brdc3370.21n.gz"))
	assert.True(t, strings.HasSuffix(f.urls[3], "/brdc3370.21n.gz"))
}

func TestAcquire_AttemptBudget(t *testing.T) {
	date := time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		failures int
		wantErr  bool
		wantCall int
	}{
		{"succeeds on ninth", 8, false, 9},
		{"succeeds on last allowed", 9, false, 10},
		{"exhausted", 10, true, 10},
		{"never succeeds", 1000, true, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &scriptedFetcher{failures: tt.failures, body: []byte("ok")}
			c := newTestCache(t, f)

			_, err := c.Acquire(context.Background(), date, nil)
			assert.Len(t, f.urls, tt.wantCall)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDownloadExhausted)
			var de *DownloadError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, DefaultMaxAttempts, de.Attempts)
			assert.Len(t, de.Stations, DefaultMaxAttempts)
			assert.ErrorContains(t, err, "connection refused")

			entries, _ := os.ReadDir(c.Root())
			assert.Empty(t, entries)
		})
	}
}

func TestAcquire_CustomBudget(t *testing.T) {
	f := &scriptedFetcher{failures: 100}
	c := New(Options{Root: t.TempDir(), Remote: testRemote, Fetcher: f, MaxAttempts: 3, Fallback: "igs0"})

	_, err := c.Acquire(context.Background(), time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC), []string{"aaaa"})
	var de *DownloadError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{"aaaa", "igs0", "igs0"}, de.Stations)
}

func TestAcquire_ContextCancelled(t *testing.T) {
	f := &scriptedFetcher{failures: 100}
	c := newTestCache(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Acquire(ctx, time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.urls)
}

func TestHTTPFetcher(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/gnss/data/daily/2021/337/brdc3370.21n.gz" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	remote := Remote{Scheme: "http", Host: host, NavPath: "/gnss/data/daily/"}
	c := New(Options{Root: t.TempDir(), Remote: remote, Fetcher: NewHTTPFetcher(5 * time.Second)})

	src, err := c.Acquire(context.Background(), time.Date(2021, 12, 3, 0, 0, 0, 0, time.UTC), []string{"nope"})
	require.NoError(t, err)
	assert.Equal(t, "brdc", src.Station)
	assert.EqualValues(t, 2, hits.Load())

	rc, err := src.Open()
	require.NoError(t, err)
	defer rc.Close()
	buf := make([]byte, 16)
	n, _ := rc.Read(buf)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestHTTPFetcher_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(time.Second).Fetch(context.Background(), srv.URL+"/x")
	assert.ErrorContains(t, err, "503")
}
