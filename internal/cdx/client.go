package cdx

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	jsoniter "github.com/json-iterator/go"

	"github.com/go-scripts/rayback/internal/queue"
	"github.com/go-scripts/rayback/internal/types"
)

// DefaultEndpoint is the Wayback Machine CDX search API
const DefaultEndpoint = "https://web.archive.org/cdx/search/cdx"

// ErrMalformedResponse is returned when a result row does not have exactly two fields
var ErrMalformedResponse = fmt.Errorf("%w: malformed response (expected 2 fields)", types.ErrParse)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Getter fetches a URL with query parameters and returns the body
type Getter interface {
	GetString(ctx context.Context, rawURL string, query url.Values) (string, error)
}

// Client queries the CDX index one page at a time
type Client struct {
	getter   Getter
	endpoint string
}

// NewClient creates a Client. An empty endpoint selects DefaultEndpoint.
func NewClient(getter Getter, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{getter: getter, endpoint: endpoint}
}

// PageResult is the outcome of one page query
type PageResult struct {
	Page    int
	Entries []types.SnapshotEntry
	Err     error
}

// Stream delivers page results in completion order
type Stream struct {
	// C is closed once every started page has been delivered. Consumers
	// must drain it.
	C <-chan PageResult

	pages *queue.Queue[int]
}

// Stop prevents further pages from being queried. Pages already in flight
// still complete and are delivered on C.
func (s *Stream) Stop() {
	s.pages.Stop()
}

func query(prefix string, page int) url.Values {
	return url.Values{
		"url":       {prefix},
		"fl":        {"timestamp,original"},
		"matchType": {"prefix"},
		"gzip":      {"false"},
		"output":    {"json"},
		"filter":    {"statuscode:200"},
		"collapse":  {"digest"},
		"page":      {strconv.Itoa(page)},
	}
}

// ParsePrefix validates a query URL and returns it parsed
func ParsePrefix(prefix string) (*url.URL, error) {
	u, err := url.Parse(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q: %w", types.ErrParse, prefix, err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: invalid URL %q: absolute URL with a host required", types.ErrParse, prefix)
	}
	return u, nil
}

// QueryPage fetches a single page of captures under prefix.
// An empty response means there are no results on this page.
func (c *Client) QueryPage(ctx context.Context, prefix string, page int) ([]types.SnapshotEntry, error) {
	base, err := ParsePrefix(prefix)
	if err != nil {
		return nil, err
	}

	body, err := c.getter.GetString(ctx, c.endpoint, query(prefix, page))
	if err != nil {
		return nil, fmt.Errorf("query page %d: %w", page, err)
	}

	entries, err := parsePage(body, base)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	return entries, nil
}

func parsePage(body string, base *url.URL) ([]types.SnapshotEntry, error) {
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}

	var rows [][]string
	if err := json.Unmarshal([]byte(body), &rows); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", types.ErrParse, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	entries := make([]types.SnapshotEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != 2 {
			return nil, ErrMalformedResponse
		}
		timestamp, raw := row[0], row[1]

		original, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid capture URL %q: %w", types.ErrParse, raw, err)
		}

		// Scheme and port are ignored
		if !strings.EqualFold(original.Hostname(), base.Hostname()) {
			log.Warn("Skipping URL that doesn't match the query host", "url", raw, "host", base.Hostname())
			continue
		}

		entries = append(entries, types.SnapshotEntry{
			Timestamp: timestamp,
			Original:  original,
		})
	}

	return entries, nil
}

// QueryPages queries pages [0, pageCount) with up to concurrency pages in
// flight. Results arrive in arbitrary order.
func (c *Client) QueryPages(ctx context.Context, prefix string, pageCount, concurrency int) (*Stream, error) {
	if _, err := ParsePrefix(prefix); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		return nil, errors.New("cdx: concurrency must be positive")
	}

	log.Info("Querying snapshots", "url", prefix, "pages", pageCount, "concurrency", concurrency)

	pages := queue.Range(pageCount)
	results := make(chan PageResult, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				page, ok := pages.Next()
				if !ok {
					return
				}

				entries, err := c.QueryPage(ctx, prefix, page)
				results <- PageResult{Page: page, Entries: entries, Err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return &Stream{C: results, pages: pages}, nil
}
