package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/go-scripts/rayback/internal/plan"
	"github.com/go-scripts/rayback/internal/queue"
	"github.com/go-scripts/rayback/internal/types"
	"github.com/go-scripts/rayback/internal/writer"
)

// Getter opens the body of a URL
type Getter interface {
	GetStream(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Progress is notified once per completed job
type Progress interface {
	Increment()
}

// Options configures the Downloader
type Options struct {
	// Concurrency is the number of jobs in flight at once.
	Concurrency int

	Progress Progress
}

// Stats summarises an Execute call
type Stats struct {
	Downloaded int
	Skipped    int
	Bytes      int64
}

// Downloader fetches every job of a plan into an output directory
type Downloader struct {
	getter Getter
	writer *writer.FileWriter
	opts   Options

	mu    sync.Mutex
	stats Stats
}

// New creates a Downloader writing below outDir
func New(getter Getter, outDir string, opts Options) (*Downloader, error) {
	if opts.Concurrency <= 0 {
		return nil, errors.New("downloader: concurrency must be positive")
	}
	w, err := writer.New(outDir)
	if err != nil {
		return nil, err
	}
	return &Downloader{getter: getter, writer: w, opts: opts}, nil
}

// Execute downloads every job of p. Jobs whose destination already exists
// are skipped. The first failure stops scheduling; jobs already in flight
// finish, and the error is returned. A cancelled ctx that leaves jobs
// unattempted is an error too.
func (d *Downloader) Execute(ctx context.Context, p *plan.Plan) (Stats, error) {
	d.record(func(s *Stats) { *s = Stats{} })
	jobs := queue.New(append([]types.DownloadJob(nil), p.Jobs...))

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Concurrency; i++ {
		group.Go(func() error {
			return d.worker(ctx, gctx, jobs)
		})
	}

	err := group.Wait()
	if left := jobs.Len(); err == nil && left > 0 {
		// Only cancellation of ctx stops the queue without a failing job
		err = fmt.Errorf("download interrupted with %d jobs left: %w", left, context.Cause(ctx))
	}
	stats := d.Stats()
	if err != nil {
		return stats, err
	}

	log.Info("Download finished",
		"downloaded", stats.Downloaded,
		"skipped", stats.Skipped,
		"size", humanize.Bytes(uint64(stats.Bytes)))
	return stats, nil
}

// Stats returns the counters accumulated so far
func (d *Downloader) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// worker takes jobs until the queue is empty or another worker failed.
// In-flight requests run on ctx so a sibling's failure does not cut them short.
func (d *Downloader) worker(ctx, gctx context.Context, jobs *queue.Queue[types.DownloadJob]) error {
	for {
		if gctx.Err() != nil {
			jobs.Stop()
			return nil
		}
		job, ok := jobs.Next()
		if !ok {
			return nil
		}

		if err := d.download(ctx, job); err != nil {
			jobs.Stop()
			log.Error("Download failed", "path", job.RelPath, "url", job.URL, "error", err)
			return fmt.Errorf("download %s: %w", job.RelPath, err)
		}

		if d.opts.Progress != nil {
			d.opts.Progress.Increment()
		}
	}
}

func (d *Downloader) download(ctx context.Context, job types.DownloadJob) error {
	// A resumed run finds completed files in place
	exists, err := d.writer.Exists(job.RelPath)
	if err != nil {
		return err
	}
	if exists {
		log.Debug("Skipping existing file", "path", job.RelPath)
		d.record(func(s *Stats) { s.Skipped++ })
		return nil
	}

	body, err := d.getter.GetStream(ctx, job.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	n, err := d.writer.WriteStream(job.RelPath, transportReader{body})
	if err != nil {
		return err
	}

	log.Debug("Downloaded", "path", job.RelPath, "size", humanize.Bytes(uint64(n)))
	d.record(func(s *Stats) {
		s.Downloaded++
		s.Bytes += n
	})
	return nil
}

func (d *Downloader) record(update func(*Stats)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	update(&d.stats)
}

// transportReader tags body read failures as transport errors
type transportReader struct {
	r io.Reader
}

func (tr transportReader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: read body: %w", types.ErrTransport, err)
	}
	return n, err
}
