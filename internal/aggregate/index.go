// Package aggregate merges capture rows into one download job per resource.
//
// Rows arrive page by page in no particular order. For every original URL
// only the capture with the greatest timestamp is kept, which makes the
// result independent of arrival order.
package aggregate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/rayback/internal/types"
)

// DefaultArchiveURL is where raw captures are retrieved from
const DefaultArchiveURL = "https://web.archive.org"

// DefaultDocument is appended to paths that look like directories
const DefaultDocument = "index.html"

// Options configures an Index
type Options struct {
	// ArchiveURL is the scheme and host serving /web/<timestamp>id_/<url>.
	ArchiveURL string

	// Root is the directory the directory-detection heuristic looks in.
	Root string
}

type resource struct {
	timestamp string
	original  *url.URL
}

// Index holds the newest capture of every resource seen so far.
// It is safe for concurrent use.
type Index struct {
	opts      Options
	mu        sync.Mutex
	resources map[string]resource
}

// New creates an empty Index
func New(opts Options) *Index {
	if opts.ArchiveURL == "" {
		opts.ArchiveURL = DefaultArchiveURL
	}
	opts.ArchiveURL = strings.TrimRight(opts.ArchiveURL, "/")

	return &Index{
		opts:      opts,
		resources: make(map[string]resource),
	}
}

// Add records entry and reports whether it became the newest capture of its URL.
// Equal or older timestamps are ignored.
func (ix *Index) Add(entry types.SnapshotEntry) bool {
	key := entry.Original.String()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	prev, ok := ix.resources[key]
	if ok && entry.Timestamp <= prev.timestamp {
		return false
	}
	if ok {
		log.Debug("Replacing older capture", "url", key, "old", prev.timestamp, "new", entry.Timestamp)
	}

	ix.resources[key] = resource{timestamp: entry.Timestamp, original: entry.Original}
	return true
}

// AddAll records every entry of a page
func (ix *Index) AddAll(entries []types.SnapshotEntry) {
	for _, e := range entries {
		ix.Add(e)
	}
}

// Len returns the number of distinct resources
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.resources)
}

// newest returns the newest timestamp recorded for rawURL
func (ix *Index) newest(rawURL string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	r, ok := ix.resources[rawURL]
	return r.timestamp, ok
}

// SourceURL returns the raw (identity) replay URL of a capture
func (ix *Index) SourceURL(timestamp, original string) string {
	return fmt.Sprintf("%s/web/%sid_/%s", ix.opts.ArchiveURL, timestamp, original)
}

// candidate is a job competing for a local path
type candidate struct {
	job       types.DownloadJob
	timestamp string
}

// preferred picks the newest capture, the smaller source URL on a tie
func preferred(a, b candidate) candidate {
	if a.timestamp != b.timestamp {
		if a.timestamp > b.timestamp {
			return a
		}
		return b
	}
	if a.job.URL <= b.job.URL {
		return a
	}
	return b
}

// Jobs derives the download jobs, sorted by source URL.
// Resources mapping to the same local path keep the newest capture.
func (ix *Index) Jobs() []types.DownloadJob {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	byPath := make(map[string]candidate, len(ix.resources))
	for key, r := range ix.resources {
		c := candidate{
			job: types.DownloadJob{
				RelPath: RelPath(ix.opts.Root, r.original),
				URL:     ix.SourceURL(r.timestamp, key),
			},
			timestamp: r.timestamp,
		}

		prev, ok := byPath[c.job.RelPath]
		if !ok {
			byPath[c.job.RelPath] = c
			continue
		}

		kept := preferred(prev, c)
		log.Warn("Resources share a local path", "path", c.job.RelPath, "kept", kept.job.URL)
		byPath[c.job.RelPath] = kept
	}

	jobs := make([]types.DownloadJob, 0, len(byPath))
	for _, c := range byPath {
		jobs = append(jobs, c.job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].URL < jobs[j].URL
	})

	return jobs
}
