// Package web serves the embedded static client bundle over HTTP. The
// zip archive is opened once at start and indexed in memory; nothing is
// ever extracted to the file system.
package web

import (
	"archive/zip"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"path"
	"strings"
)

//go:embed bundle.zip
var bundleZip []byte

// contentTypes is the authoritative extension table. Files outside it
// are served as octet-stream.
var contentTypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "text/javascript; charset=utf-8",
	".json":  "application/json",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".map":   "application/json",
}

// Bundle is the in-memory index of the embedded archive. Read-only
// after Load, so concurrent request handlers need no locking.
type Bundle struct {
	entries map[string][]byte
}

// Load opens the embedded archive and reads every entry into memory.
func Load() (*Bundle, error) {
	return loadArchive(bundleZip)
}

func loadArchive(data []byte) (*Bundle, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open asset bundle: %w", err)
	}

	b := &Bundle{entries: make(map[string][]byte, len(reader.File))}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open bundle entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read bundle entry %s: %w", f.Name, err)
		}
		b.entries["/"+strings.TrimPrefix(f.Name, "/")] = content
	}
	return b, nil
}

// Get resolves a request path by exact match, with "/" mapped to
// /index.html.
func (b *Bundle) Get(requestPath string) ([]byte, string, bool) {
	if requestPath == "/" || requestPath == "" {
		requestPath = "/index.html"
	}
	content, ok := b.entries[requestPath]
	if !ok {
		return nil, "", false
	}
	return content, contentTypeFor(requestPath), true
}

// Len reports the number of indexed entries.
func (b *Bundle) Len() int { return len(b.entries) }

func contentTypeFor(requestPath string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(requestPath))]; ok {
		return ct
	}
	return "application/octet-stream"
}
