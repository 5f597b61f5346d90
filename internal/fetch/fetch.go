package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/validate"
)

const (
	defaultMaxDownloadSize = 500 * 1024 * 1024
	userAgent              = "catflash-fetch/1.0"
)

// ProgressFunc receives the number of bytes written so far and the expected
// total (or -1 when the server does not announce a length).
type ProgressFunc func(written, total int64)

// Fetcher downloads and unpacks firmware and tool archives.
type Fetcher struct {
	http    *http.Client
	maxSize int64
	limits  Limits
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.http = c
		}
	}
}

// WithMaxDownloadSize caps the size of a single download.
func WithMaxDownloadSize(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// WithLimits overrides the extraction limits.
func WithLimits(l Limits) Option {
	return func(f *Fetcher) { f.limits = l }
}

// New creates a Fetcher with sane defaults.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		http: &http.Client{
			Timeout: constants.DownloadTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("too many redirects")
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return fmt.Errorf("redirect to disallowed scheme: %s", req.URL.Scheme)
				}
				return nil
			},
		},
		maxSize: defaultMaxDownloadSize,
		limits:  DefaultLimits,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Download fetches rawURL into a temporary file inside dir and returns its
// path. The caller owns the file.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir string, progress ProgressFunc) (string, error) {
	if err := validate.HTTPURL(rawURL); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	if resp.ContentLength > f.maxSize {
		return "", fmt.Errorf("download exceeds maximum size (%d bytes)", f.maxSize)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".catflash-*.download")
	if err != nil {
		return "", err
	}

	success := false
	name := tmpFile.Name()
	defer func() {
		if !success {
			tmpFile.Close()
			if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Printf("[Fetch] WARNING: failed to remove temp file %s: %v", name, rmErr)
			}
		}
	}()

	var dst io.Writer = tmpFile
	if progress != nil {
		dst = &progressWriter{w: tmpFile, total: resp.ContentLength, fn: progress}
	}
	n, err := io.Copy(dst, io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if n > f.maxSize {
		return "", fmt.Errorf("download exceeds maximum size (%d bytes)", f.maxSize)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("finalize download: %w", err)
	}
	success = true
	return name, nil
}

// FetchArchive downloads rawURL and extracts it into destDir.
func (f *Fetcher) FetchArchive(ctx context.Context, rawURL, destDir string, progress ProgressFunc) error {
	path, err := f.Download(ctx, rawURL, destDir, progress)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	return Extract(ctx, path, destDir, f.limits)
}

// Unpack extracts the archive at path into a fresh directory and returns
// the archive's single top-level directory when it has one. An earlier
// extraction with the same root name under destDir is replaced.
func (f *Fetcher) Unpack(ctx context.Context, path, destDir string) (string, error) {
	staging, err := os.MkdirTemp(destDir, ".extract-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := Extract(ctx, path, staging, f.limits); err != nil {
		return "", err
	}

	root, name := staging, filepath.Base(path)
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		name = entries[0].Name()
		root = filepath.Join(staging, name)
	} else {
		name = trimArchiveExt(name)
	}

	final := filepath.Join(destDir, name)
	if err := os.RemoveAll(final); err != nil {
		return "", fmt.Errorf("remove previous %s: %w", final, err)
	}
	if err := os.Rename(root, final); err != nil {
		return "", fmt.Errorf("move extracted tree: %w", err)
	}
	return final, nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.fn(p.written, p.total)
	return n, err
}
