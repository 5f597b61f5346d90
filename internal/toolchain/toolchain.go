package toolchain

import (
	"context"
	"errors"
)

var (
	// ErrTimeout is returned when a toolchain command exceeds its deadline.
	ErrTimeout = errors.New("toolchain: command timed out")
	// ErrNotInstalled indicates no arduino-cli binary could be located.
	ErrNotInstalled = errors.New("toolchain: arduino-cli not found")
)

// Outcome classifies the result of an install operation.
type Outcome string

const (
	OutcomeFailed         Outcome = "failed"
	OutcomeInstalled      Outcome = "installed"
	OutcomeAlreadyPresent Outcome = "already_present"
)

// Result is the structured outcome of an install call. Reason is set for
// failures and carries a short human-readable explanation.
type Result struct {
	Outcome Outcome
	Reason  string
}

// OK reports whether the component is usable after the call.
func (r Result) OK() bool {
	return r.Outcome == OutcomeInstalled || r.Outcome == OutcomeAlreadyPresent
}

// Failed builds a failure result.
func Failed(reason string) Result {
	return Result{Outcome: OutcomeFailed, Reason: reason}
}

// Board is one entry of the connected board listing.
type Board struct {
	Port     string `json:"port"`
	Protocol string `json:"protocol,omitempty"`
	Name     string `json:"name"`
	FQBN     string `json:"fqbn,omitempty"`
}

// Toolchain is the external compiler/uploader and its package subsystem.
// All calls block until the underlying command finishes or times out.
type Toolchain interface {
	Initialize(ctx context.Context) error
	ListInstalledLibraries(ctx context.Context) (string, error)
	InstallLibrary(ctx context.Context, name string) Result
	ListInstalledPlatforms(ctx context.Context) (string, error)
	InstallPlatform(ctx context.Context, id string) Result
	Compile(ctx context.Context, fqbn, sourceDir, buildDir string) error
	Upload(ctx context.Context, fqbn, port, sourceDir string) error
	ListBoards(ctx context.Context) ([]Board, error)
}
