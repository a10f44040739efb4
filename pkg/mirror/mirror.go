// Package mirror rebuilds a local copy of an archived website.
//
// A run has two phases that never overlap. Discovery queries the CDX index
// for every capture under the site URL, keeps the newest capture of each
// resource and saves the result as a plan inside the output directory.
// Download then fetches every job of the plan. A later run that finds the
// plan reuses it as is and only downloads files that are still missing.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/go-scripts/rayback/internal/aggregate"
	"github.com/go-scripts/rayback/internal/cdx"
	"github.com/go-scripts/rayback/internal/downloader"
	"github.com/go-scripts/rayback/internal/fetch"
	"github.com/go-scripts/rayback/internal/plan"
	"github.com/go-scripts/rayback/internal/progress"
)

// Options configures a mirror run
type Options struct {
	// SiteURL is the URL prefix of the original website.
	SiteURL string
	// OutDir receives the downloaded files and the plan.
	OutDir string

	Pages               int
	PageConcurrency     int
	DownloadConcurrency int

	// CDXEndpoint and ArchiveURL default to the Wayback Machine.
	CDXEndpoint string
	ArchiveURL  string

	HTTP fetch.Options

	// Progress receives the progress display. Nil disables it.
	Progress io.Writer
}

// Mirror runs discovery and download for one site
type Mirror struct {
	opts   Options
	client *fetch.Client
}

// New creates a Mirror
func New(opts Options) (*Mirror, error) {
	if opts.OutDir == "" {
		return nil, errors.New("mirror: output directory is required")
	}
	if _, err := cdx.ParsePrefix(opts.SiteURL); err != nil {
		return nil, err
	}
	if opts.PageConcurrency <= 0 || opts.DownloadConcurrency <= 0 {
		return nil, errors.New("mirror: concurrency must be positive")
	}

	return &Mirror{
		opts:   opts,
		client: fetch.New(opts.HTTP),
	}, nil
}

// PlanPath returns where the plan is persisted
func (m *Mirror) PlanPath() string {
	return plan.PathIn(m.opts.OutDir)
}

// Run recovers or discovers the plan, then downloads it
func (m *Mirror) Run(ctx context.Context) error {
	p, err := m.Plan(ctx)
	if err != nil {
		return err
	}
	return m.Download(ctx, p)
}

// Plan loads the persisted plan, or discovers and persists a new one when
// none can be read. Nothing is persisted if discovery fails.
func (m *Mirror) Plan(ctx context.Context) (*plan.Plan, error) {
	path := m.PlanPath()

	p, err := plan.Load(path)
	if err == nil {
		log.Info("Loaded existing download plan", "path", path, "jobs", p.Len())
		return p, nil
	}
	log.Info("Could not open preexisting download plan", "error", err)

	p, err = m.Discover(ctx)
	if err != nil {
		return nil, err
	}

	if err := plan.Save(p, path); err != nil {
		return nil, err
	}
	log.Info("Download plan saved", "path", path)

	return p, nil
}

// Discover queries the index and builds a fresh plan without saving it
func (m *Mirror) Discover(ctx context.Context) (*plan.Plan, error) {
	client := cdx.NewClient(m.client, m.opts.CDXEndpoint)

	spin := progress.NewSpinner(m.opts.Progress, "Fetching archive records for "+m.opts.SiteURL)
	jobs, err := aggregate.Discover(ctx, client, m.opts.SiteURL, aggregate.DiscoverOptions{
		Pages:       m.opts.Pages,
		Concurrency: m.opts.PageConcurrency,
		Index: aggregate.Options{
			ArchiveURL: m.opts.ArchiveURL,
			Root:       m.opts.OutDir,
		},
		OnPage: func(pages, resources int) {
			spin.Update(fmt.Sprintf("Fetching archive records: %d/%d pages, %s resources",
				pages, m.opts.Pages, humanize.Comma(int64(resources))))
		},
	})
	if err != nil {
		spin.Stop("Fetching archive records failed")
		return nil, err
	}

	spin.Stop(fmt.Sprintf("Index fetched, %s total resources", humanize.Comma(int64(len(jobs)))))
	log.Info("Index fetched", "resources", len(jobs))

	return plan.New(jobs), nil
}

// Download fetches every job of p that is not on disk yet
func (m *Mirror) Download(ctx context.Context, p *plan.Plan) error {
	bar := progress.New(m.opts.Progress, "Downloading", p.Len())

	d, err := downloader.New(m.client, m.opts.OutDir, downloader.Options{
		Concurrency: m.opts.DownloadConcurrency,
		Progress:    bar,
	})
	if err != nil {
		return err
	}

	_, err = d.Execute(ctx, p)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("download plan: %w", err)
	}

	return nil
}
