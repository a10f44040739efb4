package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/rayback/internal/fetch"
	"github.com/go-scripts/rayback/internal/plan"
	"github.com/go-scripts/rayback/internal/types"
	"github.com/go-scripts/rayback/internal/writer"
)

// archive is a fake capture server that records every request
type archive struct {
	mu       sync.Mutex
	hits     map[string]int
	fail     map[string]bool
	truncate map[string]bool
	delay    time.Duration
	active   atomic.Int32
	peak     atomic.Int32
}

func newArchive() *archive {
	return &archive{
		hits:     make(map[string]int),
		fail:     make(map[string]bool),
		truncate: make(map[string]bool),
	}
}

func (a *archive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := a.active.Add(1)
	defer a.active.Add(-1)
	for {
		peak := a.peak.Load()
		if n <= peak || a.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	a.mu.Lock()
	a.hits[r.URL.Path]++
	fail := a.fail[r.URL.Path]
	truncate := a.truncate[r.URL.Path]
	a.mu.Unlock()

	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	switch {
	case fail:
		http.NotFound(w, r)
	case truncate:
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "only a few bytes")
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	default:
		io.WriteString(w, "content of "+r.URL.Path)
	}
}

func (a *archive) hitCount(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[path]
}

func (a *archive) totalHits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, n := range a.hits {
		total += n
	}
	return total
}

type counter struct {
	n atomic.Int32
}

func (c *counter) Increment() {
	c.n.Add(1)
}

func testClient() *fetch.Client {
	opts := fetch.DefaultOptions()
	opts.RetryAttempts = 0
	return fetch.New(opts)
}

func testPlan(base string, paths ...string) *plan.Plan {
	var jobs []types.DownloadJob
	for _, p := range paths {
		jobs = append(jobs, types.DownloadJob{RelPath: strings.TrimPrefix(p, "/"), URL: base + p})
	}
	return plan.New(jobs)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestExecuteDownloadsEveryJob(t *testing.T) {
	a := newArchive()
	server := httptest.NewServer(a)
	defer server.Close()

	out := t.TempDir()
	progress := &counter{}
	d, err := New(testClient(), out, Options{Concurrency: 3, Progress: progress})
	require.NoError(t, err)

	p := testPlan(server.URL, "/index.html", "/css/site.css", "/docs/page/index.html", "/img/logo.png")
	stats, err := d.Execute(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Downloaded)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, int32(4), progress.n.Load())
	assert.Equal(t, "content of /docs/page/index.html", readFile(t, filepath.Join(out, "docs", "page", "index.html")))
	assert.Equal(t, "content of /img/logo.png", readFile(t, filepath.Join(out, "img", "logo.png")))
	assert.Equal(t, int64(len("content of /index.html")+len("content of /css/site.css")+
		len("content of /docs/page/index.html")+len("content of /img/logo.png")), stats.Bytes)
}

func TestExecuteSkipsExistingFiles(t *testing.T) {
	a := newArchive()
	server := httptest.NewServer(a)
	defer server.Close()

	out := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(out, "css"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "css", "site.css"), []byte("kept"), 0644))

	progress := &counter{}
	d, err := New(testClient(), out, Options{Concurrency: 2, Progress: progress})
	require.NoError(t, err)

	stats, err := d.Execute(context.Background(), testPlan(server.URL, "/css/site.css", "/index.html"))
	require.NoError(t, err)

	assert.Equal(t, 0, a.hitCount("/css/site.css"))
	assert.Equal(t, 1, a.hitCount("/index.html"))
	assert.Equal(t, "kept", readFile(t, filepath.Join(out, "css", "site.css")))
	assert.Equal(t, Stats{Downloaded: 1, Skipped: 1, Bytes: int64(len("content of /index.html"))}, stats)
	assert.Equal(t, int32(2), progress.n.Load())
}

func TestExecuteCompletedPlanMakesNoRequests(t *testing.T) {
	a := newArchive()
	server := httptest.NewServer(a)
	defer server.Close()

	out := t.TempDir()
	p := testPlan(server.URL, "/a.html", "/b.html", "/c/index.html")

	d, err := New(testClient(), out, Options{Concurrency: 2})
	require.NoError(t, err)
	_, err = d.Execute(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 3, a.totalHits())

	stats, err := d.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 3, a.totalHits())
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 0, stats.Downloaded)
}

func TestExecuteStopsOnFirstFailure(t *testing.T) {
	a := newArchive()
	a.fail["/b.html"] = true
	server := httptest.NewServer(a)
	defer server.Close()

	out := t.TempDir()
	progress := &counter{}
	d, err := New(testClient(), out, Options{Concurrency: 1, Progress: progress})
	require.NoError(t, err)

	p := testPlan(server.URL, "/a.html", "/b.html", "/c.html", "/d.html")
	_, err = d.Execute(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTransport))

	var statusErr *fetch.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	assert.Equal(t, "content of /a.html", readFile(t, filepath.Join(out, "a.html")))
	assert.NoFileExists(t, filepath.Join(out, "b.html"))
	assert.Equal(t, 0, a.hitCount("/c.html"))
	assert.Equal(t, 0, a.hitCount("/d.html"))
	assert.Equal(t, int32(1), progress.n.Load())
}

func TestExecuteResumesAfterFailure(t *testing.T) {
	a := newArchive()
	a.fail["/c.html"] = true
	server := httptest.NewServer(a)
	defer server.Close()

	out := t.TempDir()
	p := testPlan(server.URL, "/a.html", "/b.html", "/c.html")

	d, err := New(testClient(), out, Options{Concurrency: 1})
	require.NoError(t, err)
	_, err = d.Execute(context.Background(), p)
	require.Error(t, err)

	a.mu.Lock()
	a.fail["/c.html"] = false
	a.mu.Unlock()

	stats, err := d.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 1, Skipped: 2, Bytes: int64(len("content of /c.html"))}, stats)
	assert.Equal(t, 1, a.hitCount("/a.html"))
	assert.Equal(t, 1, a.hitCount("/b.html"))
	assert.Equal(t, 2, a.hitCount("/c.html"))
}

func TestExecuteInterruptedBodyLeavesNoDestination(t *testing.T) {
	a := newArchive()
	a.truncate["/big.bin"] = true
	server := httptest.NewServer(a)
	defer server.Close()

	out := t.TempDir()
	d, err := New(testClient(), out, Options{Concurrency: 1})
	require.NoError(t, err)

	_, err = d.Execute(context.Background(), testPlan(server.URL, "/big.bin"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTransport), "got %v", err)

	assert.NoFileExists(t, filepath.Join(out, "big.bin"))
	assert.NoFileExists(t, filepath.Join(out, "big.bin"+writer.TempExt))
}

func TestExecuteRespectsConcurrency(t *testing.T) {
	a := newArchive()
	a.delay = 20 * time.Millisecond
	server := httptest.NewServer(a)
	defer server.Close()

	var paths []string
	for i := 0; i < 12; i++ {
		paths = append(paths, fmt.Sprintf("/f%02d.txt", i))
	}

	d, err := New(testClient(), t.TempDir(), Options{Concurrency: 3})
	require.NoError(t, err)

	stats, err := d.Execute(context.Background(), testPlan(server.URL, paths...))
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Downloaded)
	assert.LessOrEqual(t, a.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, a.peak.Load(), int32(2))
}

func TestExecuteEmptyPlan(t *testing.T) {
	d, err := New(testClient(), t.TempDir(), Options{Concurrency: 4})
	require.NoError(t, err)

	stats, err := d.Execute(context.Background(), plan.New(nil))
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestExecuteFilesystemError(t *testing.T) {
	a := newArchive()
	server := httptest.NewServer(a)
	defer server.Close()

	out := t.TempDir()
	// A file where a directory is needed
	require.NoError(t, os.WriteFile(filepath.Join(out, "docs"), []byte("x"), 0644))

	d, err := New(testClient(), out, Options{Concurrency: 1})
	require.NoError(t, err)

	_, err = d.Execute(context.Background(), testPlan(server.URL, "/docs/page.html"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrFilesystem), "got %v", err)
}

func TestNewRejectsZeroConcurrency(t *testing.T) {
	_, err := New(testClient(), t.TempDir(), Options{})
	assert.Error(t, err)
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	a := newArchive()
	server := httptest.NewServer(a)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := t.TempDir()
	d, err := New(testClient(), out, Options{Concurrency: 2})
	require.NoError(t, err)

	_, err = d.Execute(ctx, testPlan(server.URL, "/a.html", "/b.html"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.NoFileExists(t, filepath.Join(out, "a.html"))
	assert.Equal(t, 0, a.totalHits())
}

// cancelAfter cancels the run once n jobs have completed
type cancelAfter struct {
	n      int32
	done   atomic.Int32
	cancel context.CancelFunc
}

func (c *cancelAfter) Increment() {
	if c.done.Add(1) == c.n {
		c.cancel()
	}
}

func TestExecuteCancelledMidPlan(t *testing.T) {
	a := newArchive()
	server := httptest.NewServer(a)
	defer server.Close()

	out := t.TempDir()
	// Already present, so the resumed run only passes through skips
	for _, name := range []string{"a.html", "b.html"} {
		require.NoError(t, os.WriteFile(filepath.Join(out, name), []byte("kept"), 0644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(testClient(), out, Options{
		Concurrency: 1,
		Progress:    &cancelAfter{n: 1, cancel: cancel},
	})
	require.NoError(t, err)

	stats, err := d.Execute(ctx, testPlan(server.URL, "/a.html", "/b.html", "/c.html", "/d.html"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, a.totalHits())
	assert.NoFileExists(t, filepath.Join(out, "c.html"))
}
