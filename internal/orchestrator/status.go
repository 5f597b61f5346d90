package orchestrator

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/selector"
	"github.com/catflash/catflash/internal/toolchain"
)

// DependencyStatus reports what the install workflow has left in place.
type DependencyStatus struct {
	ArduinoCLI  bool       `json:"arduino_cli"`
	Boards      bool       `json:"boards"`
	Initialized bool       `json:"initialized"`
	LastInstall *store.Run `json:"last_install,omitempty"`
}

// CheckDependencies inspects the toolchain without installing anything.
// A completed install in this process, or a successful install on record,
// counts as both the toolchain and the core being present.
func (o *Orchestrator) CheckDependencies(ctx context.Context) DependencyStatus {
	var st DependencyStatus

	if loc, ok := o.tc.(binaryLocator); ok {
		_, err := loc.Locate()
		st.ArduinoCLI = err == nil
	} else {
		st.ArduinoCLI = true
	}
	if ir, ok := o.tc.(initializedReporter); ok {
		st.Initialized = ir.Initialized()
	}
	if st.ArduinoCLI {
		if listing, err := o.tc.ListInstalledPlatforms(ctx); err == nil {
			st.Boards = strings.Contains(listing, o.cfg.CoreID)
		}
	}

	if o.runs != nil {
		run, err := o.runs.LastSuccessfulRun(ctx, store.RunInstall)
		switch {
		case err == nil:
			st.LastInstall = &run
		case !store.IsNotFound(err):
			log.Printf("[Orchestrator] last install lookup: %v", err)
		}
	}

	if o.State().Completed {
		st.ArduinoCLI, st.Boards, st.Initialized = true, true, true
	}
	return st
}

// DetectBoards lists connected boards.
func (o *Orchestrator) DetectBoards(ctx context.Context) ([]toolchain.Board, error) {
	return o.tc.ListBoards(ctx)
}

// LikelyBomberCat reports whether b looks like an RP2040-based board.
func LikelyBomberCat(b toolchain.Board) bool {
	hay := strings.ToLower(b.FQBN + " " + b.Name)
	for _, token := range []string{"rp2040", "pico", "bombercat"} {
		if strings.Contains(hay, token) {
			return true
		}
	}
	return false
}

// FirmwareRoot is where the downloaded repository is extracted.
func (o *Orchestrator) FirmwareRoot() string {
	repo := o.cfg.Repository
	branch := repo.Branch
	if branch == "" {
		branch = "main"
	}
	return filepath.Join(o.cfg.SketchDir, repo.Name+"-"+branch)
}

// Firmwares discovers and describes the variants in the extracted tree.
// A tree that has not been downloaded yields an empty list.
func (o *Orchestrator) Firmwares() ([]selector.Candidate, error) {
	candidates, err := selector.Discover(o.FirmwareRoot(), o.cfg.Discovery)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return candidates, nil
}
