package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarGzBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func serve(t *testing.T, routes map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchRepositoryReturnsArchiveRoot(t *testing.T) {
	archive := zipBytes(t, map[string]string{
		"BomberCat-main/firmware/host_relay_nfc/host_relay_nfc.ino": "void setup() {}",
		"BomberCat-main/README.md": "# BomberCat",
	})
	srv := serve(t, map[string][]byte{
		"/ElectronicCats/BomberCat/archive/refs/heads/main.zip": archive,
	})

	dest := t.TempDir()
	repo := Repository{Owner: "ElectronicCats", Name: "BomberCat", Branch: "main", BaseURL: srv.URL}
	root, err := New().FetchRepository(context.Background(), repo, dest)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dest, "BomberCat-main"), root)
	data, err := os.ReadFile(filepath.Join(root, "firmware", "host_relay_nfc", "host_relay_nfc.ino"))
	require.NoError(t, err)
	assert.Equal(t, "void setup() {}", string(data))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp download and staging dirs are cleaned up")
}

func TestFetchRepositoryReplacesStaleTree(t *testing.T) {
	dest := t.TempDir()
	stale := filepath.Join(dest, "BomberCat-main", "stale.ino")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	srv := serve(t, map[string][]byte{
		"/o/BomberCat/archive/refs/heads/main.zip": zipBytes(t, map[string]string{"BomberCat-main/new.ino": "new"}),
	})
	root, err := New().FetchRepository(context.Background(), Repository{Owner: "o", Name: "BomberCat", BaseURL: srv.URL}, dest)
	require.NoError(t, err)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(root, "new.ino"))
}

func TestFetchRepositoryHTTPError(t *testing.T) {
	srv := serve(t, nil)
	_, err := New().FetchRepository(context.Background(), Repository{Owner: "o", Name: "r", BaseURL: srv.URL}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestArchiveURLDefaults(t *testing.T) {
	repo := Repository{Owner: "ElectronicCats", Name: "BomberCat"}
	assert.Equal(t, "https://github.com/ElectronicCats/BomberCat/archive/refs/heads/main.zip", repo.ArchiveURL())
}

func TestDownloadRejectsNonHTTP(t *testing.T) {
	_, err := New().Download(context.Background(), "file:///etc/passwd", t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestDownloadEnforcesMaxSize(t *testing.T) {
	srv := serve(t, map[string][]byte{"/big": bytes.Repeat([]byte("x"), 2048)})
	dir := t.TempDir()
	_, err := New(WithMaxDownloadSize(1024)).Download(context.Background(), srv.URL+"/big", dir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum size")

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestDownloadReportsProgress(t *testing.T) {
	srv := serve(t, map[string][]byte{"/f": bytes.Repeat([]byte("y"), 4096)})
	var last int64
	path, err := New().Download(context.Background(), srv.URL+"/f", t.TempDir(), func(written, total int64) {
		assert.GreaterOrEqual(t, written, last)
		last = written
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4096, last)
	assert.FileExists(t, path)
}

func TestFetchArchiveTarGz(t *testing.T) {
	srv := serve(t, map[string][]byte{
		"/arduino-cli_0.35.3_Linux_64bit.tar.gz": tarGzBytes(t, map[string]string{"arduino-cli": "#!/bin/sh\n"}),
	})
	dest := t.TempDir()
	require.NoError(t, New().FetchArchive(context.Background(), srv.URL+"/arduino-cli_0.35.3_Linux_64bit.tar.gz", dest, nil))

	info, err := os.Stat(filepath.Join(dest, "arduino-cli"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "executable bit survives extraction")
}

func TestExtractRejectsZipSlip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, map[string]string{"../escape.txt": "boom"}), 0o644))

	err := Extract(context.Background(), archive, filepath.Join(dir, "out"), DefaultLimits)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestExtractRejectsTarSymlink(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "link", Linkname: "/etc/passwd", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	dir := t.TempDir()
	archive := filepath.Join(dir, "links.tar.gz")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	err := Extract(context.Background(), archive, filepath.Join(dir, "out"), DefaultLimits)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link entry")
}

func TestExtractFileCountLimit(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "many.zip")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, map[string]string{"a": "1", "b": "2", "c": "3"}), 0o644))

	err := Extract(context.Background(), archive, filepath.Join(dir, "out"), Limits{MaxFiles: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many files")
}

func TestExtractDetectsFormatByMagic(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "payload.download")
	require.NoError(t, os.WriteFile(archive, zipBytes(t, map[string]string{"x.ino": "x"}), 0o644))

	require.NoError(t, Extract(context.Background(), archive, filepath.Join(dir, "out"), DefaultLimits))
	assert.FileExists(t, filepath.Join(dir, "out", "x.ino"))

	junk := filepath.Join(dir, "junk.download")
	require.NoError(t, os.WriteFile(junk, []byte("not an archive"), 0o644))
	assert.Error(t, Extract(context.Background(), junk, filepath.Join(dir, "out2"), DefaultLimits))
}
