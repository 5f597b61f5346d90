package patcher

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Rewrite is one literal substitution applied to whole file contents.
type Rewrite struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// RewriteTable is applied in order.
type RewriteTable []Rewrite

// DefaultRewrites maps the spellings of the PN7150 driver header seen in
// the wild onto the bracketed ElectronicCats name.
func DefaultRewrites() RewriteTable {
	return RewriteTable{
		{Old: `"ElectronicCats_PN7150.h"`, New: `<ElectronicCats_PN7150.h>`},
		{Old: `"Electroniccats_PN7150.h"`, New: `<ElectronicCats_PN7150.h>`},
		{Old: `"PN7150.h"`, New: `<ElectronicCats_PN7150.h>`},
		{Old: `Electroniccats_PN7150.h`, New: `ElectronicCats_PN7150.h`},
	}
}

// WithHeader returns a copy of t where every entry whose Old mentions token
// targets header instead, keeping the entry's quote or bracket form.
func (t RewriteTable) WithHeader(token, header string) RewriteTable {
	out := make(RewriteTable, len(t))
	copy(out, t)
	if header == "" {
		return out
	}
	for i, r := range out {
		if !strings.Contains(r.Old, token) {
			continue
		}
		pre, post := delimiters(r.New)
		out[i].New = pre + header + post
	}
	return out
}

// Apply replaces every occurrence of each Old in content and returns the
// number of replacements. Entries whose New contains Old are skipped
// because applying them twice would keep growing the file.
func (t RewriteTable) Apply(content string) (string, int) {
	total := 0
	for _, r := range t {
		if r.Old == "" || strings.Contains(r.New, r.Old) {
			continue
		}
		if n := strings.Count(content, r.Old); n > 0 {
			content = strings.ReplaceAll(content, r.Old, r.New)
			total += n
		}
	}
	return content, total
}

// ApplyPath rewrites the file name of an include path whose base name
// equals an entry's bare Old header.
func (t RewriteTable) ApplyPath(p string) string {
	dir, base := path.Split(p)
	for _, r := range t {
		old, repl := bare(r.Old), bare(r.New)
		if old != "" && base == old {
			base = repl
		}
	}
	return dir + base
}

func bare(s string) string {
	return strings.Trim(s, `"<>`)
}

func delimiters(s string) (string, string) {
	if len(s) >= 2 {
		switch {
		case s[0] == '<' && s[len(s)-1] == '>':
			return "<", ">"
		case s[0] == '"' && s[len(s)-1] == '"':
			return `"`, `"`
		}
	}
	return "", ""
}

// FindLibraryHeader looks under an Arduino libraries directory for a
// library whose folder name contains token and returns the first header in
// it (or its src folder) whose name also contains token. Matching
// ignores case.
func FindLibraryHeader(libsDir, token string) (library, header string, ok bool) {
	entries, err := os.ReadDir(libsDir)
	if err != nil {
		return "", "", false
	}
	lower := strings.ToLower(token)
	for _, e := range entries {
		if !e.IsDir() || !strings.Contains(strings.ToLower(e.Name()), lower) {
			continue
		}
		headers, _ := filepath.Glob(filepath.Join(libsDir, e.Name(), "*.h"))
		nested, _ := filepath.Glob(filepath.Join(libsDir, e.Name(), "src", "*.h"))
		for _, h := range append(headers, nested...) {
			name := filepath.Base(h)
			if strings.Contains(strings.ToLower(name), lower) {
				return e.Name(), name, true
			}
		}
	}
	return "", "", false
}
