package patcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catflash/catflash/internal/observe"
)

const relaySketch = `// BomberCat relay host
/* Reads a card and forwards it
   over MQTT */
#include <Wire.h>
#include "ElectronicCats_PN7150.h"
#include <mbed.h>
#include "TDBStore.h"
#include "ElectronicCats_Helpers.h"
// #include <rtos.h> already disabled

void setup() {
  Serial.begin(115200);
}
`

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestPatcher(extra ...string) *Lexical {
	headers := DefaultHeaderSet()
	headers.Merge(extra...)
	return NewLexical(DefaultRewrites(), headers)
}

// activeIncludes returns include lines that are not commented out.
func activeIncludes(content string) []string {
	var out []string
	inBlock := false
	for _, line := range strings.Split(content, "\n") {
		_, code, ok := splitLeadingComments(line, inBlock)
		inBlock = advanceComment(line, inBlock)
		if ok && includeRe.MatchString(code) {
			out = append(out, strings.TrimSpace(code))
		}
	}
	return out
}

func TestPatchCommentsExcludedHeaderAndInsertsGuard(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "relay.ino", "// BomberCat relay\n#include <Wire.h>\n#include \"ElectronicCats_PN7150.h\"\n\nvoid setup() {}\n")

	res, err := newTestPatcher("PN7150").PatchFile(path)
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.Equal(t, 1, res.IncludesCommented)
	assert.True(t, res.GuardInserted)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "// #include <ElectronicCats_PN7150.h> "+Marker)

	guard := strings.Index(content, GuardMarker)
	require.GreaterOrEqual(t, guard, 0)
	assert.Greater(t, guard, strings.Index(content, "// BomberCat relay"))
	assert.Less(t, guard, strings.Index(content, "#include <Wire.h>"))
	assert.Equal(t, []string{"#include <Wire.h>"}, activeIncludes(content))
}

func TestPatchIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "relay.ino", relaySketch)
	p := newTestPatcher("PN7150")

	first, err := p.PatchFile(path)
	require.NoError(t, err)
	require.True(t, first.Changed())
	once, err := os.ReadFile(path)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	second, err := p.PatchFile(path)
	require.NoError(t, err)
	assert.False(t, second.Changed())
	assert.False(t, second.Written)

	twice, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, past, info.ModTime(), time.Second)
}

func TestPatchLeavesNoActiveExcludedInclude(t *testing.T) {
	headers := DefaultHeaderSet()
	headers.Merge("PN7150", "ElectronicCats_Helpers")
	p := NewLexical(DefaultRewrites(), headers)

	patched, res := p.Patch(relaySketch)
	assert.Equal(t, 4, res.IncludesCommented)

	for _, line := range activeIncludes(patched) {
		m := includeRe.FindStringSubmatch(line)
		require.NotNil(t, m)
		for _, tok := range headers.Tokens() {
			assert.False(t, headers.Matches(m[1], line), "active include %q matches %q", line, tok)
		}
	}
	assert.Equal(t, []string{"#include <Wire.h>"}, activeIncludes(patched))
	assert.Contains(t, patched, "// #include <rtos.h> already disabled\n")
}

func TestPatchKeepsBlockCommentOpenedAfterExcludedInclude(t *testing.T) {
	p := newTestPatcher()
	src := "#include <mbed.h> /* legacy\n#include <rtos.h>\n*/\nvoid setup() {}\n"

	once, first := p.Patch(src)
	assert.Equal(t, 1, first.IncludesCommented)
	assert.Equal(t, []string{"mbed.h"}, first.CommentedHeaders)
	assert.Empty(t, activeIncludes(once))

	lines := strings.Split(once, "\n")
	assert.Equal(t, "// #include <mbed.h> "+Marker, lines[0])
	assert.Equal(t, "/* legacy", lines[1])
	assert.Equal(t, "#include <rtos.h>", lines[2])
	assert.Equal(t, "*/", lines[3])
	assert.Equal(t, "// Platform compatibility defines", lines[4])

	twice, second := p.Patch(once)
	assert.False(t, second.Changed())
	assert.Equal(t, once, twice)
}

func TestPatchSeesIncludeAfterClosedBlockComment(t *testing.T) {
	p := newTestPatcher()

	once, first := p.Patch("/* hdr */ #include <mbed.h>\nint x;\n")
	assert.Equal(t, 1, first.IncludesCommented)
	assert.Contains(t, once, "/* hdr */ // #include <mbed.h> "+Marker+"\n")
	assert.Empty(t, activeIncludes(once))

	twice, second := p.Patch(once)
	assert.False(t, second.Changed())
	assert.Equal(t, once, twice)
}

func TestPatchIncludeAfterBlockCommentClosesOnSameLine(t *testing.T) {
	p := newTestPatcher()

	patched, res := p.Patch("/* started\nstill comment */ #include <rtos.h>\nint x;\n")
	assert.Equal(t, 1, res.IncludesCommented)
	assert.Contains(t, patched, "still comment */ // #include <rtos.h> "+Marker+"\n")
	assert.Empty(t, activeIncludes(patched))
}

func TestPatchBracketsSensitiveQuotedIncludes(t *testing.T) {
	p := NewLexical(DefaultRewrites(), NewHeaderSet())

	patched, res := p.Patch("  #include \"ElectronicCats_Helpers.h\" // helpers\n#include \"PN7150.h\"\n#include \"local.h\"\n")
	assert.Equal(t, "  #include <ElectronicCats_Helpers.h> // helpers\n#include <ElectronicCats_PN7150.h>\n#include \"local.h\"\n", patched)
	assert.Equal(t, 2, res.IncludesRewritten)
	assert.Zero(t, res.IncludesCommented)
	assert.False(t, res.GuardInserted)
}

func TestPatchGuardSkipsLeadingBlockComment(t *testing.T) {
	p := newTestPatcher()
	src := "/*\n * License text\n#include <not_a_real_include>\n */\n\n#include <mbed.h>\nint x;\n"

	patched, res := p.Patch(src)
	require.True(t, res.GuardInserted)
	lines := strings.Split(patched, "\n")
	assert.Equal(t, "#include <not_a_real_include>", lines[2])
	assert.True(t, strings.HasPrefix(lines[5], "// #include <mbed.h>"))
	assert.Equal(t, "// Platform compatibility defines", lines[6])
	assert.Equal(t, "int x;", lines[6+len(guardBlock)])
	assert.Equal(t, 1, res.IncludesCommented)
}

func TestPatchKeepsCRLF(t *testing.T) {
	p := newTestPatcher()
	patched, res := p.Patch("#include <rtos.h>\r\nvoid loop() {}\r\n")
	require.True(t, res.GuardInserted)
	for _, line := range strings.Split(strings.TrimSuffix(patched, "\n"), "\n") {
		assert.True(t, strings.HasSuffix(line, "\r"), "line %q lost its CR", line)
	}
	assert.Contains(t, patched, "// #include <rtos.h> "+Marker+"\r\n")
}

func TestPatchExistingGuardIsNotDuplicated(t *testing.T) {
	p := newTestPatcher()
	src := GuardMarker + "\n#endif\n#include <KVStore.h>\n"
	patched, res := p.Patch(src)
	assert.False(t, res.GuardInserted)
	assert.Equal(t, 1, strings.Count(patched, GuardMarker))
}

func TestPatchFileToleratesInvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "legacy.h", "// caf\xe9\n#include <mbed.h>\n")

	res, err := newTestPatcher().PatchFile(path)
	require.NoError(t, err)
	assert.True(t, res.Written)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "caf\uFFFD")
}

func TestDryRunLeavesFileAndBuildsPreview(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "relay.ino", relaySketch)
	p := newTestPatcher("PN7150")
	p.DryRun = true

	res, err := p.PatchFile(path)
	require.NoError(t, err)
	assert.True(t, res.Changed())
	assert.False(t, res.Written)
	assert.Contains(t, res.Preview, "--- a/relay.ino")
	assert.Contains(t, res.Preview, "-#include <mbed.h>")
	assert.Contains(t, res.Preview, "+// #include <mbed.h> "+Marker)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, relaySketch, string(data))
}

func TestStats(t *testing.T) {
	add, del := Stats("a\nb\nc\n", "a\nB\nc\nd\n")
	assert.Equal(t, 2, add)
	assert.Equal(t, 1, del)
}

type failingPatcher struct {
	inner FilePatcher
	fail  string
}

func (f failingPatcher) PatchFile(path string) (Outcome, error) {
	if filepath.Base(path) == f.fail {
		return Outcome{}, errors.New("permission denied")
	}
	return f.inner.PatchFile(path)
}

type logRecorder struct {
	observe.Nop
	lines []string
}

func (r *logRecorder) OnLog(msg string, _ observe.Level, _ time.Time) {
	r.lines = append(r.lines, msg)
}

func TestPatchDirContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.ino", "#include <mbed.h>\n")
	writeSource(t, dir, "b.h", "#include <rtos.h>\n")
	writeSource(t, dir, "src/c.cpp", "#include <TDBStore.h>\n")
	writeSource(t, dir, "notes.txt", "#include <mbed.h>\n")
	writeSource(t, dir, ".git/x.h", "#include <mbed.h>\n")

	rec := &logRecorder{}
	outcomes, err := PatchDir(context.Background(), dir, failingPatcher{inner: newTestPatcher(), fail: "b.h"}, rec)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	sum := Summarize(outcomes)
	assert.Equal(t, Summary{Files: 3, Changed: 2, Commented: 2, Guarded: 2, Failed: 1}, sum)
	assert.Error(t, outcomes[1].Err)

	data, err := os.ReadFile(filepath.Join(dir, "b.h"))
	require.NoError(t, err)
	assert.Equal(t, "#include <rtos.h>\n", string(data))
	data, err = os.ReadFile(filepath.Join(dir, ".git", "x.h"))
	require.NoError(t, err)
	assert.Equal(t, "#include <mbed.h>\n", string(data))

	assert.Contains(t, rec.lines, "Warning: Could not process b.h: permission denied")
	assert.Contains(t, rec.lines, "Commenting out incompatible include: TDBStore.h in src/c.cpp")
}

func TestPatchDirHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.ino", "#include <mbed.h>\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := PatchDir(ctx, dir, newTestPatcher(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes)
}

func TestHeaderSetNormalisesMembers(t *testing.T) {
	s := NewHeaderSet("mbed.h", "MBED", " ", "KVStore", "kvstore.h", "PN7150")
	assert.Equal(t, []string{"mbed.h", "KVStore", "PN7150"}, s.Tokens())
	assert.Equal(t, 0, s.Merge("Mbed.H"))
	assert.Equal(t, 1, s.Merge("rtos"))
	assert.True(t, s.Contains("RTOS.h"))

	assert.True(t, s.Matches("ElectronicCats_PN7150.h", "#include <ElectronicCats_PN7150.h>"))
	assert.True(t, s.Matches("kvstore.h", `#include "kvstore.h"`))
	assert.False(t, s.Matches("Wire.h", "#include <Wire.h>"))

	var nilSet *HeaderSet
	assert.False(t, nilSet.Matches("mbed.h", "#include <mbed.h>"))
	assert.Zero(t, nilSet.Len())
}

func TestRewriteTableWithHeader(t *testing.T) {
	table := DefaultRewrites().WithHeader("PN7150", "Electroniccats_PN7150_v2.h")
	assert.Equal(t, `<Electroniccats_PN7150_v2.h>`, table[0].New)
	assert.Equal(t, `<Electroniccats_PN7150_v2.h>`, table[2].New)
	assert.Equal(t, `Electroniccats_PN7150_v2.h`, table[3].New)
	assert.Equal(t, `<ElectronicCats_PN7150.h>`, DefaultRewrites()[0].New)

	assert.Equal(t, "lib/Electroniccats_PN7150_v2.h", table.ApplyPath("lib/PN7150.h"))
	assert.Equal(t, "Other.h", table.ApplyPath("Other.h"))
}

func TestRewriteApplySkipsSelfContainingEntries(t *testing.T) {
	table := RewriteTable{{Old: "Foo.h", New: "Foo.h.bak"}, {Old: "Bar.h", New: "Baz.h"}}
	out, n := table.Apply("#include <Foo.h>\n#include <Bar.h>\n")
	assert.Equal(t, "#include <Foo.h>\n#include <Baz.h>\n", out)
	assert.Equal(t, 1, n)
}

func TestFindLibraryHeader(t *testing.T) {
	libs := t.TempDir()
	writeSource(t, libs, "Adafruit_PN532/Adafruit_PN532.h", "")
	writeSource(t, libs, "Electroniccats_PN7150/src/Electroniccats_PN7150.h", "")
	writeSource(t, libs, "Electroniccats_PN7150/src/Mode.h", "")

	lib, header, ok := FindLibraryHeader(libs, "pn7150")
	require.True(t, ok)
	assert.Equal(t, "Electroniccats_PN7150", lib)
	assert.Equal(t, "Electroniccats_PN7150.h", header)

	_, _, ok = FindLibraryHeader(filepath.Join(libs, "missing"), "pn7150")
	assert.False(t, ok)
}
