package testutil

import (
	"context"
	"sync"

	"github.com/catflash/catflash/internal/toolchain"
)

// FakeToolchain is a scripted toolchain.Toolchain with call counters.
type FakeToolchain struct {
	mu sync.Mutex

	// Libraries and Platforms are the listing texts returned by the List calls.
	Libraries string
	Platforms string
	ListErr   error
	// Installable maps library or platform names to their install result.
	// Missing names fail with "library not found".
	Installable map[string]toolchain.Result
	Boards      []toolchain.Board

	InitErr    error
	CompileErr error
	UploadErr  error

	// Gate, when non-nil, blocks Initialize until it is closed or the
	// context ends.
	Gate chan struct{}

	calls    map[string]int
	attempts []string
	compiled []string
	uploaded []string
}

var _ toolchain.Toolchain = (*FakeToolchain)(nil)

func (f *FakeToolchain) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

// Calls returns how many times method was invoked.
func (f *FakeToolchain) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Attempts returns every name passed to InstallLibrary, in order.
func (f *FakeToolchain) Attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempts...)
}

// Compiled returns the source dirs passed to Compile.
func (f *FakeToolchain) Compiled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.compiled...)
}

// Uploaded returns "fqbn@port" for every Upload call.
func (f *FakeToolchain) Uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploaded...)
}

func (f *FakeToolchain) Initialize(ctx context.Context) error {
	f.count("Initialize")
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.InitErr
}

func (f *FakeToolchain) ListInstalledLibraries(context.Context) (string, error) {
	f.count("ListInstalledLibraries")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Libraries, f.ListErr
}

func (f *FakeToolchain) InstallLibrary(_ context.Context, name string) toolchain.Result {
	f.count("InstallLibrary")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, name)
	if res, ok := f.Installable[name]; ok {
		return res
	}
	return toolchain.Failed("library not found: " + name)
}

func (f *FakeToolchain) ListInstalledPlatforms(context.Context) (string, error) {
	f.count("ListInstalledPlatforms")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Platforms, f.ListErr
}

func (f *FakeToolchain) InstallPlatform(_ context.Context, id string) toolchain.Result {
	f.count("InstallPlatform")
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.Installable[id]; ok {
		return res
	}
	return toolchain.Failed("platform not found: " + id)
}

func (f *FakeToolchain) Compile(_ context.Context, fqbn, sourceDir, buildDir string) error {
	f.count("Compile")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiled = append(f.compiled, sourceDir)
	return f.CompileErr
}

func (f *FakeToolchain) Upload(_ context.Context, fqbn, port, sourceDir string) error {
	f.count("Upload")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, fqbn+"@"+port)
	return f.UploadErr
}

func (f *FakeToolchain) ListBoards(context.Context) ([]toolchain.Board, error) {
	f.count("ListBoards")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]toolchain.Board(nil), f.Boards...), nil
}
