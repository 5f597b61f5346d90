package selector

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the tree root during discovery. It uses
// gitignore syntax.
const IgnoreFileName = ".catflashignore"

// Options controls candidate discovery.
type Options struct {
	// FirmwareSubdir is scanned one level deep first. Default "firmware".
	FirmwareSubdir string
	// EntryExts are the extensions of files that mark a variant directory.
	// Default [".ino"].
	EntryExts []string
}

func (o Options) withDefaults() Options {
	if o.FirmwareSubdir == "" {
		o.FirmwareSubdir = "firmware"
	}
	if len(o.EntryExts) == 0 {
		o.EntryExts = []string{".ino"}
	}
	return o
}

// excludedSegments are path segment substrings that disqualify a directory
// in the whole-tree fallback scan.
var excludedSegments = []string{"examples", "test"}

// Discover lists firmware candidates under root in lexical path order.
// The firmware subdirectory is scanned first; only if it yields nothing is
// the whole tree walked.
func Discover(root string, opts Options) ([]Candidate, error) {
	opts = opts.withDefaults()
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("selector: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("selector: %s is not a directory", root)
	}

	ign := loadIgnore(root)

	candidates, err := scanFirmwareDir(root, opts, ign)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return candidates, nil
	}
	return walkTree(root, opts, ign)
}

func scanFirmwareDir(root string, opts Options, ign *ignore.GitIgnore) ([]Candidate, error) {
	fwDir := filepath.Join(root, opts.FirmwareSubdir)
	entries, err := os.ReadDir(fwDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("selector: read %s: %w", fwDir, err)
	}

	var out []Candidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(fwDir, entry.Name())
		if ignored(ign, root, dir, true) {
			continue
		}
		if file := firstEntryFile(dir, opts.EntryExts); file != "" {
			out = append(out, Candidate{Variant: entry.Name(), Dir: dir, EntryFile: file})
		}
	}
	return out, nil
}

func walkTree(root string, opts Options, ign *ignore.GitIgnore) ([]Candidate, error) {
	var out []Candidate
	seen := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if excludedPath(root, path) || ignored(ign, root, path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !hasEntryExt(d.Name(), opts.EntryExts) || ignored(ign, root, path, false) {
			return nil
		}
		dir := filepath.Dir(path)
		if seen[dir] || excludedPath(root, path) {
			return nil
		}
		seen[dir] = true
		out = append(out, Candidate{Variant: filepath.Base(dir), Dir: dir, EntryFile: d.Name()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("selector: walk %s: %w", root, err)
	}
	return out, nil
}

func firstEntryFile(dir string, exts []string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.Type().IsRegular() && hasEntryExt(e.Name(), exts) {
			return e.Name()
		}
	}
	return ""
}

func hasEntryExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range exts {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// excludedPath checks path relative to root, so a root that itself lives
// under a "test" directory is still scanned.
func excludedPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		lower := strings.ToLower(seg)
		for _, bad := range excludedSegments {
			if strings.Contains(lower, bad) {
				return true
			}
		}
	}
	return false
}

func loadIgnore(root string) *ignore.GitIgnore {
	f, err := os.Open(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}

func ignored(ign *ignore.GitIgnore, root, path string, isDir bool) bool {
	if ign == nil {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if ign.MatchesPath(rel) {
		return true
	}
	return isDir && ign.MatchesPath(rel+"/")
}
