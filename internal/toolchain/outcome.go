package toolchain

import (
	"fmt"
	"strings"

	"github.com/catflash/catflash/internal/sanitize"
)

// Operation names the kind of toolchain command whose output is classified.
type Operation string

const (
	OpConfigInit      Operation = "config-init"
	OpConfigAdd       Operation = "config-add"
	OpUpdateIndex     Operation = "update-index"
	OpLibraryInstall  Operation = "lib-install"
	OpPlatformInstall Operation = "core-install"
	OpCompile         Operation = "compile"
	OpUpload          Operation = "upload"
	OpList            Operation = "list"
)

// benignPattern marks a non-zero exit as harmless when its output contains
// Text and the command is one of Ops (or any command when Ops is empty).
type benignPattern struct {
	Text string
	Ops  []Operation
}

// benignPatterns is the single place where failure output is recognised as
// "nothing to do".
var benignPatterns = []benignPattern{
	{Text: "already installed", Ops: []Operation{OpLibraryInstall, OpPlatformInstall}},
	{Text: "already exists", Ops: []Operation{OpConfigInit}},
	{Text: "already present", Ops: []Operation{OpConfigAdd}},
}

const maxReasonBytes = 200

func (p benignPattern) matches(op Operation, output string) bool {
	if !strings.Contains(strings.ToLower(output), p.Text) {
		return false
	}
	if len(p.Ops) == 0 {
		return true
	}
	for _, o := range p.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Classify turns a finished command into a Result. Output containing
// "already installed" on success is also reported as AlreadyPresent.
func Classify(op Operation, out Output, runErr error) Result {
	combined := out.Stdout + "\n" + out.Stderr
	if runErr != nil {
		return Failed(runErr.Error())
	}
	if out.ExitCode == 0 {
		if strings.Contains(strings.ToLower(combined), "already installed") {
			return Result{Outcome: OutcomeAlreadyPresent}
		}
		return Result{Outcome: OutcomeInstalled}
	}
	if IsBenign(op, combined) {
		return Result{Outcome: OutcomeAlreadyPresent}
	}
	return Failed(FailureReason(out))
}

// IsBenign reports whether output of a failed op matches a known benign pattern.
func IsBenign(op Operation, output string) bool {
	for _, p := range benignPatterns {
		if p.matches(op, output) {
			return true
		}
	}
	return false
}

// FailureReason renders a non-zero exit as "command failed with code N: <stderr>".
func FailureReason(out Output) string {
	msg := fmt.Sprintf("command failed with code %d", out.ExitCode)
	detail := strings.TrimSpace(out.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(out.Stdout)
	}
	if detail != "" {
		msg += ": " + sanitize.TruncateUTF8(sanitize.StripControlChars(detail), maxReasonBytes)
	}
	return msg
}
