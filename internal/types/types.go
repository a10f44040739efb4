package types

import "net/url"

// SnapshotEntry is a single capture row returned by the index API
type SnapshotEntry struct {
	// Timestamp is the 14-digit capture time (YYYYMMDDhhmmss). Fixed width,
	// so string order is chronological order.
	Timestamp string
	Original  *url.URL
}

// DownloadJob represents one resource of the mirror and where it comes from
type DownloadJob struct {
	RelPath string `json:"rel_path"`
	URL     string `json:"url"`
}
