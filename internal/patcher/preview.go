package patcher

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Preview renders a line diff of before and after. Unchanged lines are
// omitted; only the header and the +/- lines are kept.
func Preview(path, before, after string) string {
	diffs := lineDiff(before, after)
	name := filepath.Base(path)

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", name, name)
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		default:
			continue
		}
		for _, line := range splitLines(d.Text) {
			b.WriteString(prefix)
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Stats counts added and removed lines between before and after.
func Stats(before, after string) (additions, deletions int) {
	for _, d := range lineDiff(before, after) {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += len(splitLines(d.Text))
		case diffmatchpatch.DiffDelete:
			deletions += len(splitLines(d.Text))
		}
	}
	return additions, deletions
}

func lineDiff(before, after string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffCharsToLines(diffs, lines)
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return []string{""}
	}
	return strings.Split(text, "\n")
}
