package fetch

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Limits bounds what a single archive may unpack to. Zero disables a limit.
type Limits struct {
	MaxFileSize  int64
	MaxTotalSize int64
	MaxFiles     int
}

// DefaultLimits fit a firmware repository or a toolchain release with room
// to spare.
var DefaultLimits = Limits{
	MaxFileSize:  500 << 20,
	MaxTotalSize: 2 << 30,
	MaxFiles:     20000,
}

var (
	zipMagic  = []byte("PK")
	gzipMagic = []byte{0x1f, 0x8b}
)

// entry is one archive member, independent of the container format.
type entry struct {
	name string
	mode fs.FileMode
	dir  bool
	link bool
	// open is nil for entries that carry no data.
	open func() (io.ReadCloser, error)
}

type walkFunc func(archivePath string, visit func(entry) error) error

// Extract unpacks a zip or tar.gz archive into destDir. Links and entries
// resolving outside destDir are rejected, as is anything over limits.
func Extract(ctx context.Context, archivePath, destDir string, limits Limits) error {
	walk, err := walkerFor(archivePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}

	u := unpacker{dest: filepath.Clean(destDir), limits: limits}
	return walk(archivePath, func(e entry) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("extraction cancelled: %w", err)
		}
		return u.unpack(e)
	})
}

// walkerFor picks the format by extension, falling back to magic bytes for
// names like "main.download".
func walkerFor(archivePath string) (walkFunc, error) {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return walkZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return walkTarGz, nil
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head, _ := bufio.NewReader(f).Peek(2)
	switch {
	case bytes.Equal(head, zipMagic):
		return walkZip, nil
	case bytes.Equal(head, gzipMagic):
		return walkTarGz, nil
	}
	return nil, fmt.Errorf("unrecognised archive format: %s", filepath.Base(archivePath))
}

func walkZip(archivePath string, visit func(entry) error) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		info := f.FileInfo()
		e := entry{
			name: f.Name,
			mode: f.Mode(),
			dir:  info.IsDir(),
			link: info.Mode()&fs.ModeSymlink != 0,
			open: f.Open,
		}
		if err := visit(e); err != nil {
			return err
		}
	}
	return nil
}

func walkTarGz(archivePath string, visit func(entry) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		e := entry{
			name: hdr.Name,
			mode: fs.FileMode(hdr.Mode),
			dir:  hdr.Typeflag == tar.TypeDir,
			link: hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink,
		}
		if hdr.Typeflag == tar.TypeReg {
			e.open = func() (io.ReadCloser, error) { return io.NopCloser(tr), nil }
		}
		if err := visit(e); err != nil {
			return err
		}
	}
}

type unpacker struct {
	dest   string
	limits Limits
	files  int
	total  int64
}

func (u *unpacker) unpack(e entry) error {
	u.files++
	if u.limits.MaxFiles > 0 && u.files > u.limits.MaxFiles {
		return fmt.Errorf("archive contains too many files (max %d)", u.limits.MaxFiles)
	}
	if e.link {
		return fmt.Errorf("archive contains link entry (not allowed): %s", e.name)
	}
	target := filepath.Join(u.dest, e.name)
	if !strings.HasPrefix(target, u.dest+string(os.PathSeparator)) {
		return fmt.Errorf("invalid path in archive: %s", e.name)
	}

	if e.dir {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", e.name, err)
		}
		return nil
	}
	if e.open == nil {
		return nil
	}

	rc, err := e.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", e.name, err)
	}
	defer rc.Close()

	var src io.Reader = rc
	if u.limits.MaxFileSize > 0 {
		src = io.LimitReader(rc, u.limits.MaxFileSize+1)
	}
	n, err := writeFile(target, e.mode, src)
	if err != nil {
		return err
	}
	if u.limits.MaxFileSize > 0 && n > u.limits.MaxFileSize {
		return fmt.Errorf("file %s exceeds maximum size (%d bytes)", e.name, u.limits.MaxFileSize)
	}
	u.total += n
	if u.limits.MaxTotalSize > 0 && u.total > u.limits.MaxTotalSize {
		return fmt.Errorf("archive exceeds total extraction limit (%d bytes)", u.limits.MaxTotalSize)
	}
	return nil
}

func writeFile(target string, mode fs.FileMode, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, r)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close extracted file %s: %w", target, closeErr)
	}
	return n, err
}

func trimArchiveExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".tgz", ".zip", ".download"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
