package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/observe"
	"github.com/catflash/catflash/internal/resolver"
	"github.com/catflash/catflash/internal/toolchain"
)

const installSucceeded = "All dependencies installed successfully!"

func (o *Orchestrator) install(task *Task) {
	report, err := o.runInstall(o.ctx)

	message := installSucceeded
	if err == nil && report.Failed > 0 {
		message = fmt.Sprintf("Dependencies installed; %d of %d libraries failed: %s",
			report.Failed, len(report.Results), strings.Join(report.FailedNames, ", "))
	}

	if task.runID != "" && len(report.Results) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), constants.StoreQueryTimeout)
		if serr := o.runs.SaveResolutions(ctx, task.runID, resolutions(report)); serr != nil {
			log.Printf("[Orchestrator] save resolutions: %v", serr)
		}
		cancel()
	}

	state := o.guard.finishInstall(err, message)
	if err != nil {
		o.logf(observe.LevelError, "Installation failed: %v", err)
	} else {
		level := observe.LevelSuccess
		if report.Failed > 0 {
			level = observe.LevelWarning
		}
		o.logf(level, "%s", message)
		o.progress(constants.ProgressInstallDone)
	}
	o.finishRun(task.runID, err, state.Message, "")
	o.obs.OnInstallComplete(err == nil, state.Message)
	task.finish(err)
}

// runInstall bootstraps the toolchain, installs the core and resolves the
// library set. Library failures are reported, not returned.
func (o *Orchestrator) runInstall(ctx context.Context) (resolver.Report, error) {
	o.progress(constants.ProgressToolchainStart)
	if bi, ok := o.tc.(binaryInstaller); ok {
		rng := observe.Range{From: constants.ProgressToolchainStart, To: constants.ProgressToolchainReady}
		if _, err := bi.EnsureBinary(ctx, rng); err != nil {
			return resolver.Report{}, wrapStep("install arduino-cli", err)
		}
	}
	o.progress(constants.ProgressToolchainReady)

	if err := o.tc.Initialize(ctx); err != nil {
		return resolver.Report{}, wrapStep("initialize toolchain", err)
	}
	o.progress(constants.ProgressBoardURLs)

	if err := o.installCore(ctx); err != nil {
		return resolver.Report{}, err
	}

	rng := observe.Range{From: constants.ProgressLibrariesStart, To: constants.ProgressLibrariesDone}
	report := resolver.New(o.tc, o.obs).Resolve(ctx, o.cfg.Requirements, rng)
	if err := ctx.Err(); err != nil {
		return report, wrapStep("resolve libraries", err)
	}
	return report, nil
}

func (o *Orchestrator) installCore(ctx context.Context) error {
	id := o.cfg.CoreID
	o.logf(observe.LevelInfo, "Installing %s core...", id)
	o.progress(constants.ProgressCoreStart)

	if listing, err := o.tc.ListInstalledPlatforms(ctx); err == nil && strings.Contains(listing, id) {
		o.logf(observe.LevelSuccess, "%s core already installed", id)
		o.progress(constants.ProgressCoreDone)
		return nil
	}

	res := o.tc.InstallPlatform(ctx, id)
	switch res.Outcome {
	case toolchain.OutcomeAlreadyPresent:
		o.logf(observe.LevelSuccess, "%s core already installed", id)
	case toolchain.OutcomeInstalled:
		o.logf(observe.LevelSuccess, "%s core installed", id)
	default:
		o.logf(observe.LevelError, "Core installation error: %s", res.Reason)
		return fmt.Errorf("install core %s: %s", id, res.Reason)
	}
	o.progress(constants.ProgressCoreDone)
	return nil
}

func resolutions(report resolver.Report) []store.LibraryResolution {
	out := make([]store.LibraryResolution, 0, len(report.Results))
	for i, r := range report.Results {
		res := store.LibraryResolution{
			Position:     i,
			Requirement:  r.Requirement.Name,
			Installed:    r.Installed,
			ResolvedName: r.ResolvedName,
		}
		for _, a := range r.Attempts {
			res.Attempts = append(res.Attempts, store.ResolutionAttempt{
				Name:    a.Name,
				Outcome: string(a.Outcome),
				Reason:  a.Reason,
			})
		}
		out = append(out, res)
	}
	return out
}
