package orchestrator

import "sync"

// InstallState is the observable state of the dependency install workflow.
// The zero value is the idle state.
type InstallState struct {
	InProgress bool   `json:"in_progress"`
	Completed  bool   `json:"completed"`
	Error      bool   `json:"error"`
	Message    string `json:"message"`
}

// Idle reports whether no install has run yet.
func (s InstallState) Idle() bool {
	return s == InstallState{}
}

// stateGuard owns the install state and the flash flag. Every transition
// happens under mu so two concurrent starts cannot both succeed.
type stateGuard struct {
	mu       sync.Mutex
	install  InstallState
	flashing bool
}

func (g *stateGuard) snapshot() InstallState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.install
}

func (g *stateGuard) isFlashing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flashing
}

// beginInstall moves to InProgress. It returns the state seen before the
// call and whether the transition happened.
func (g *stateGuard) beginInstall() (InstallState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.install.InProgress {
		return g.install, errAlreadyInstalling
	}
	if g.flashing {
		return g.install, ErrFlashInProgress
	}
	g.install = InstallState{InProgress: true, Message: "Installation started"}
	return g.install, nil
}

func (g *stateGuard) finishInstall(err error, message string) InstallState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.install = InstallState{Error: true, Message: err.Error()}
	} else {
		g.install = InstallState{Completed: true, Message: message}
	}
	return g.install
}

func (g *stateGuard) beginFlash() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.flashing {
		return ErrFlashInProgress
	}
	if g.install.InProgress {
		return ErrInstallInProgress
	}
	g.flashing = true
	return nil
}

func (g *stateGuard) finishFlash() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flashing = false
}
