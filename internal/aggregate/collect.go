package aggregate

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/rayback/internal/cdx"
	"github.com/go-scripts/rayback/internal/types"
)

// Collect merges every page of stream into ix. The first failed page stops
// the stream; pages still in flight are drained and discarded, and the error
// is returned. onPage, if set, is called after each merged page.
func Collect(stream *cdx.Stream, ix *Index, onPage func(cdx.PageResult)) error {
	var firstErr error

	for result := range stream.C {
		if firstErr != nil {
			continue
		}
		if result.Err != nil {
			firstErr = result.Err
			stream.Stop()
			continue
		}

		ix.AddAll(result.Entries)
		if onPage != nil {
			onPage(result)
		}
	}

	return firstErr
}

// DiscoverOptions configures Discover
type DiscoverOptions struct {
	Pages       int
	Concurrency int
	Index       Options

	// OnPage is called after each page with the number of pages merged so
	// far and the number of distinct resources found.
	OnPage func(pages, resources int)
}

// Discover queries every page of the index under prefix and returns the
// resulting jobs. Any page failure fails the whole discovery.
func Discover(ctx context.Context, client *cdx.Client, prefix string, opts DiscoverOptions) ([]types.DownloadJob, error) {
	stream, err := client.QueryPages(ctx, prefix, opts.Pages, opts.Concurrency)
	if err != nil {
		return nil, err
	}

	ix := New(opts.Index)
	done := 0
	err = Collect(stream, ix, func(result cdx.PageResult) {
		done++
		log.Debug("Merged index page", "page", result.Page, "entries", len(result.Entries))
		if opts.OnPage != nil {
			opts.OnPage(done, ix.Len())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", prefix, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discover %s: %w", prefix, err)
	}

	return ix.Jobs(), nil
}
