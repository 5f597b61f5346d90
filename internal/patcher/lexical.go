package patcher

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Marker is appended to every include the patcher comments out.
const Marker = "// Commented out - incompatible with target platform"

// GuardMarker identifies a file that already carries a platform guard.
const GuardMarker = "#ifdef ARDUINO_ARCH_RP2040"

var guardBlock = []string{
	"// Platform compatibility defines",
	GuardMarker,
	"  #define BOMBERCAT_RP2040",
	"#endif",
	"",
	"#ifdef ARDUINO_ARCH_MBED",
	"  #define BOMBERCAT_MBED",
	"#endif",
	"",
	"#ifdef ARDUINO_ARCH_ESP32",
	"  #define BOMBERCAT_ESP32",
	"#endif",
	"",
}

// DefaultSensitive are tokens whose quoted includes are re-emitted in
// bracket form so the compiler resolves them from installed libraries.
var DefaultSensitive = []string{"PN7150", "ElectronicCats"}

var (
	includeRe = regexp.MustCompile(`^\s*#\s*include\s*[<"]([^>"]+)[>"]`)
	quotedRe  = regexp.MustCompile(`^(\s*)#\s*include\s*"([^"]+)"(.*)$`)
)

// Outcome describes what a patch pass did to one file.
type Outcome struct {
	Path              string   `json:"path"`
	IncludesRewritten int      `json:"includes_rewritten"`
	IncludesCommented int      `json:"includes_commented"`
	GuardInserted     bool     `json:"guard_inserted"`
	CommentedHeaders  []string `json:"commented_headers,omitempty"`
	Written           bool     `json:"written"`
	Preview           string   `json:"preview,omitempty"`
	Err               error    `json:"-"`
}

// Changed reports whether the pass altered the file contents.
func (o Outcome) Changed() bool {
	return o.IncludesRewritten > 0 || o.IncludesCommented > 0 || o.GuardInserted
}

// FilePatcher rewrites a single source file.
type FilePatcher interface {
	PatchFile(path string) (Outcome, error)
}

// Lexical is a line-oriented FilePatcher. It does not run a preprocessor;
// it recognises include directives and comments textually.
type Lexical struct {
	Rewrites  RewriteTable
	Headers   *HeaderSet
	Sensitive []string
	// DryRun computes outcomes and a preview without writing.
	DryRun bool
}

var _ FilePatcher = (*Lexical)(nil)

// NewLexical returns a patcher using the default sensitive tokens.
func NewLexical(rewrites RewriteTable, headers *HeaderSet) *Lexical {
	return &Lexical{Rewrites: rewrites, Headers: headers, Sensitive: DefaultSensitive}
}

// PatchFile patches path in place. On any error the file is left as it was.
func (l *Lexical) PatchFile(path string) (Outcome, error) {
	out := Outcome{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		return out, fmt.Errorf("patcher: stat %s: %w", path, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("patcher: read %s: %w", path, err)
	}
	text, err := decode(raw)
	if err != nil {
		return out, fmt.Errorf("patcher: decode %s: %w", path, err)
	}

	patched, res := l.Patch(text)
	res.Path = path
	if patched == text {
		return res, nil
	}
	if l.DryRun {
		res.Preview = Preview(path, text, patched)
		return res, nil
	}
	if err := os.WriteFile(path, []byte(patched), info.Mode().Perm()); err != nil {
		return out, fmt.Errorf("patcher: write %s: %w", path, err)
	}
	res.Written = true
	return res, nil
}

// decode turns raw bytes into text, replacing invalid UTF-8 with U+FFFD.
func decode(raw []byte) (string, error) {
	b, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Patch applies the rewrite table, bracket normalisation, include
// commenting and guard insertion to text.
func (l *Lexical) Patch(text string) (string, Outcome) {
	var out Outcome
	content, n := l.Rewrites.Apply(text)
	out.IncludesRewritten = n

	src := strings.Split(content, "\n")
	crlf := strings.HasSuffix(src[0], "\r")
	lines := make([]string, 0, len(src))
	inBlock := false
	for _, raw := range src {
		line, cr := splitCR(raw)
		prefix, code, ok := splitLeadingComments(line, inBlock)
		inBlock = advanceComment(line, inBlock)
		if !ok {
			lines = append(lines, raw)
			continue
		}

		if m := quotedRe.FindStringSubmatch(code); m != nil && l.mentionsSensitive(code) {
			bracketed := "#include <" + l.Rewrites.ApplyPath(m[2]) + ">" + m[3]
			if bracketed != code {
				code = bracketed
				out.IncludesRewritten++
			}
		}

		m := includeRe.FindStringSubmatch(code)
		if m == nil || !l.Headers.Matches(m[1], code) {
			lines = append(lines, prefix+code+cr)
			continue
		}
		out.IncludesCommented++
		out.CommentedHeaders = append(out.CommentedHeaders, m[1])

		// A block comment opened after the directive must stay live, so the
		// opener moves to its own line.
		var tail string
		if advanceComment(code, false) {
			open := strings.Index(code, "/*")
			code, tail = strings.TrimRight(code[:open], " \t"), code[open:]
		}
		commented := prefix + "// " + code + " " + Marker
		if strings.TrimSpace(prefix) == "" {
			commented = "// " + prefix + code + " " + Marker
		}
		lines = append(lines, commented+cr)
		if tail != "" {
			lines = append(lines, tail+cr)
		}
	}

	if out.IncludesCommented > 0 && !strings.Contains(content, GuardMarker) {
		lines = insertGuard(lines, crlf)
		out.GuardInserted = true
	}
	return strings.Join(lines, "\n"), out
}

func (l *Lexical) mentionsSensitive(line string) bool {
	for _, tok := range l.Sensitive {
		if strings.Contains(line, tok) {
			return true
		}
	}
	return false
}

func splitCR(s string) (string, string) {
	if strings.HasSuffix(s, "\r") {
		return s[:len(s)-1], "\r"
	}
	return s, ""
}

// splitLeadingComments splits line into a prefix of whitespace and closed
// block comments and the code after it. ok is false when no code follows:
// the line is blank, is a line comment, or stays inside a block comment.
func splitLeadingComments(line string, inBlock bool) (prefix, code string, ok bool) {
	rest := line
	if inBlock {
		end := strings.Index(rest, "*/")
		if end < 0 {
			return line, "", false
		}
		rest = rest[end+2:]
	}
	for {
		trimmed := strings.TrimLeft(rest, " \t")
		switch {
		case trimmed == "", strings.HasPrefix(trimmed, "//"):
			return line, "", false
		case strings.HasPrefix(trimmed, "/*"):
			end := strings.Index(trimmed[2:], "*/")
			if end < 0 {
				return line, "", false
			}
			rest = trimmed[end+4:]
		default:
			return line[:len(line)-len(trimmed)], trimmed, true
		}
	}
}

// advanceComment reports whether a block comment is still open after line.
// String literals are not tracked.
func advanceComment(line string, inBlock bool) bool {
	for len(line) > 0 {
		if inBlock {
			end := strings.Index(line, "*/")
			if end < 0 {
				return true
			}
			line = line[end+2:]
			inBlock = false
			continue
		}
		start := strings.Index(line, "/*")
		lineComment := strings.Index(line, "//")
		if start < 0 || (lineComment >= 0 && lineComment < start) {
			return false
		}
		line = line[start+2:]
		inBlock = true
	}
	return inBlock
}

// FirstActiveLine returns the index of the first line that is neither
// blank nor inside a comment, or len(lines) when there is none.
func FirstActiveLine(lines []string) int {
	inBlock := false
	for i, raw := range lines {
		line, _ := splitCR(raw)
		startsInBlock := inBlock
		inBlock = advanceComment(line, inBlock)
		if startsInBlock {
			continue
		}
		if _, _, ok := splitLeadingComments(line, false); ok {
			return i
		}
	}
	return len(lines)
}

// insertGuard places the guard block before the first active line, or at
// the end when there is none.
func insertGuard(lines []string, crlf bool) []string {
	pos := FirstActiveLine(lines)

	block := make([]string, len(guardBlock))
	for i, g := range guardBlock {
		if crlf {
			g += "\r"
		}
		block[i] = g
	}
	out := make([]string, 0, len(lines)+len(block))
	out = append(out, lines[:pos]...)
	out = append(out, block...)
	return append(out, lines[pos:]...)
}
