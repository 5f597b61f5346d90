package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/catflash/catflash/internal/eventbus"
	"github.com/catflash/catflash/internal/orchestrator"
	"github.com/catflash/catflash/internal/selector"
	"github.com/catflash/catflash/internal/toolchain"
)

type fakeFlows struct {
	mu sync.Mutex

	state    orchestrator.InstallState
	flashing bool
	deps     orchestrator.DependencyStatus
	boards   []toolchain.Board
	root     string

	installErr error
	flashErr   error

	installs      int
	flashRequests []orchestrator.FlashRequest
	discoveries   int
}

func (f *fakeFlows) State() orchestrator.InstallState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeFlows) Flashing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flashing
}

func (f *fakeFlows) StartInstall(context.Context) (orchestrator.InstallState, *orchestrator.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return f.state, nil, f.installErr
	}
	if f.state.InProgress {
		return f.state, nil, nil
	}
	f.installs++
	f.state = orchestrator.InstallState{InProgress: true, Message: "Installation started"}
	return f.state, &orchestrator.Task{}, nil
}

func (f *fakeFlows) StartFlash(_ context.Context, req orchestrator.FlashRequest) (*orchestrator.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flashErr != nil {
		return nil, f.flashErr
	}
	f.flashRequests = append(f.flashRequests, req)
	return &orchestrator.Task{}, nil
}

func (f *fakeFlows) CheckDependencies(context.Context) orchestrator.DependencyStatus {
	return f.deps
}

func (f *fakeFlows) DetectBoards(context.Context) ([]toolchain.Board, error) {
	return f.boards, nil
}

func (f *fakeFlows) Firmwares() ([]selector.Candidate, error) {
	f.mu.Lock()
	f.discoveries++
	root := f.root
	f.mu.Unlock()
	return selector.Discover(root, selector.Options{})
}

func (f *fakeFlows) FirmwareRoot() string {
	return f.root
}

func newTestAPIServer(t *testing.T, flows *fakeFlows) *APIServer {
	t.Helper()
	if flows.root == "" {
		flows.root = t.TempDir()
	}
	srv, err := NewAPIServer(flows, nil, Options{})
	require.NoError(t, err)
	return srv
}

func startTestAPIServer(t *testing.T, flows *fakeFlows, bus *eventbus.Bus) *APIServer {
	t.Helper()
	if flows.root == "" {
		flows.root = t.TempDir()
	}
	srv, err := NewAPIServer(flows, bus, Options{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	return srv
}
