package patcher

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/catflash/catflash/internal/observe"
)

// SourceExts are the file extensions PatchDir visits.
var SourceExts = []string{".ino", ".h", ".hpp", ".c", ".cpp"}

// IsSource reports whether name has one of SourceExts.
func IsSource(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SourceExts {
		if ext == e {
			return true
		}
	}
	return false
}

// Summary totals a set of outcomes.
type Summary struct {
	Files     int `json:"files"`
	Changed   int `json:"changed"`
	Rewritten int `json:"rewritten"`
	Commented int `json:"commented"`
	Guarded   int `json:"guarded"`
	Failed    int `json:"failed"`
}

// Summarize totals outcomes.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		s.Files++
		if o.Err != nil {
			s.Failed++
			continue
		}
		if o.Changed() {
			s.Changed++
		}
		s.Rewritten += o.IncludesRewritten
		s.Commented += o.IncludesCommented
		if o.GuardInserted {
			s.Guarded++
		}
	}
	return s
}

// PatchDir runs p over every source file under dir in lexical order.
// A file that fails is reported through obs and recorded with Err set;
// the remaining files are still processed. Hidden directories are skipped.
func PatchDir(ctx context.Context, dir string, p FilePatcher, obs observe.Observer) ([]Outcome, error) {
	obs = observe.OrNop(obs)

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && IsSource(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("patcher: scan %s: %w", dir, err)
	}

	outcomes := make([]Outcome, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		name := relName(dir, path)
		res, err := p.PatchFile(path)
		if err != nil {
			res.Path = path
			res.Err = err
			observe.Logf(obs, observe.LevelWarning, "Warning: Could not process %s: %v", name, err)
			outcomes = append(outcomes, res)
			continue
		}
		report(obs, name, res)
		outcomes = append(outcomes, res)
	}
	return outcomes, nil
}

func report(obs observe.Observer, name string, res Outcome) {
	if res.IncludesRewritten > 0 {
		observe.Logf(obs, observe.LevelInfo, "Fixed %d include(s) in %s", res.IncludesRewritten, name)
	}
	for _, h := range res.CommentedHeaders {
		observe.Logf(obs, observe.LevelWarning, "Commenting out incompatible include: %s in %s", h, name)
	}
	if res.GuardInserted {
		observe.Logf(obs, observe.LevelInfo, "Added platform compatibility defines to %s", name)
	}
}

func relName(dir, path string) string {
	if rel, err := filepath.Rel(dir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(path)
}
