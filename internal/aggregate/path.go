package aggregate

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// RelPath derives the local, slash-separated path of a capture relative to
// the output directory: the URL path below the site root, with DocumentPath
// applied. The result is cleaned, so URLs that land on the same file on
// disk also get the same RelPath.
func RelPath(root string, original *url.URL) string {
	return strings.TrimLeft(path.Clean("/"+DocumentPath(root, original.Path)), "/")
}

// DocumentPath guesses whether p names a directory and, if so, appends
// DefaultDocument so the result can be browsed or served locally.
//
// p is treated as a directory when it is empty, ends in a slash, exists as a
// directory under root, or its last segment has no extension. This is a
// heuristic: a capture of "/a/b" may well be a file, and a directory check
// made before anything is downloaded normally finds nothing.
func DocumentPath(root, p string) string {
	if p == "" || strings.HasSuffix(p, "/") || isDir(root, p) || path.Ext(path.Base(p)) == "" {
		return path.Join(p, DefaultDocument)
	}
	return p
}

func isDir(root, p string) bool {
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(p)))
	return err == nil && info.IsDir()
}
