package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/observe"
	"github.com/catflash/catflash/internal/patcher"
	"github.com/catflash/catflash/internal/selector"
	"github.com/catflash/catflash/internal/sketch"
	"github.com/catflash/catflash/internal/validate"
)

// Final log lines of a flash session.
const (
	ReadyMessage       = "BomberCat is ready to use!"
	FlashFailedMessage = "Flash failed"
)

// pn7150Token locates the installed PN7150 driver in the libraries dir.
const pn7150Token = "PN7150"

// FlashRequest describes one flash session.
type FlashRequest struct {
	Port string `json:"port"`
	FQBN string `json:"fqbn,omitempty"`
	// Firmware is stored as the relay preference when it names a role.
	Firmware selector.Preference `json:"firmware_type,omitempty"`
	Params   sketch.Params       `json:"config"`
	// CompileOnly stops after a successful compile; Port may then be empty.
	CompileOnly bool `json:"compile_only,omitempty"`
}

// Validate checks the request and fills parameter defaults.
func (r *FlashRequest) Validate() error {
	r.Port = strings.TrimSpace(r.Port)
	if r.Port == "" && !r.CompileOnly {
		return errors.New("orchestrator: port is required")
	}
	if r.Port != "" {
		if err := validate.Arg("port", r.Port); err != nil {
			return err
		}
	}
	if r.FQBN != "" {
		if err := validate.FQBN(r.FQBN); err != nil {
			return err
		}
	}
	pref, err := selector.ParsePreference(string(r.Firmware))
	if err != nil {
		return err
	}
	r.Firmware = pref
	return r.Params.Validate()
}

// FlashResult summarizes a finished flash session.
type FlashResult struct {
	Variant string          `json:"variant"`
	Dir     string          `json:"dir"`
	FQBN    string          `json:"fqbn"`
	Port    string          `json:"port,omitempty"`
	Patch   patcher.Summary `json:"patch"`
}

func (o *Orchestrator) flash(task *Task, fqbn string, req FlashRequest) {
	res, err := o.runFlash(o.ctx, fqbn, req)
	if err != nil {
		o.logf(observe.LevelError, "%s: %v", FlashFailedMessage, err)
		o.finishRun(task.runID, err, "", res.Variant)
	} else {
		msg := "Firmware flashed successfully"
		if req.CompileOnly {
			msg = "Firmware compiled successfully"
		}
		o.finishRun(task.runID, nil, msg, res.Variant)
	}
	task.finish(err)
}

// runFlash runs the flash steps in order; the first failure stops it.
func (o *Orchestrator) runFlash(ctx context.Context, fqbn string, req FlashRequest) (FlashResult, error) {
	res := FlashResult{FQBN: fqbn, Port: req.Port}

	if req.Firmware.IsRole() {
		if err := o.prefs.SetRelayPreference(req.Firmware); err != nil {
			return res, wrapStep("store firmware preference", err)
		}
		o.logf(observe.LevelInfo, "Set firmware preference to: %s", strings.ToUpper(string(req.Firmware)))
	}

	cand, err := o.Acquire(ctx)
	if err != nil {
		return res, err
	}
	res.Variant, res.Dir = cand.Variant, cand.Dir

	summary, err := o.Patch(ctx, cand.Dir)
	if err != nil {
		return res, err
	}
	res.Patch = summary
	o.logf(observe.LevelSuccess, "Firmware ready: %s", cand.Variant)
	o.progress(constants.ProgressSelected)

	o.logf(observe.LevelInfo, "Configuring firmware parameters...")
	o.progress(constants.ProgressConfigure)
	if _, err := sketch.Configure(cand.Dir, cand.EntryFile, req.Params); err != nil {
		return res, wrapStep("configure firmware", err)
	}
	o.logf(observe.LevelSuccess, "Firmware configured successfully")
	o.progress(constants.ProgressConfigured)

	o.logf(observe.LevelInfo, "Compiling firmware for %s...", fqbn)
	o.progress(constants.ProgressCompileStart)
	if err := o.tc.Compile(ctx, fqbn, cand.Dir, o.cfg.BuildDir); err != nil {
		o.logf(observe.LevelError, "Compilation error: %v", err)
		return res, wrapStep("compile", err)
	}
	o.logf(observe.LevelSuccess, "Firmware compiled successfully")
	o.progress(constants.ProgressCompileDone)

	if req.CompileOnly {
		return res, nil
	}

	o.logf(observe.LevelInfo, "Flashing firmware to %s...", req.Port)
	o.progress(constants.ProgressUploadStart)
	if err := o.tc.Upload(ctx, fqbn, req.Port, cand.Dir); err != nil {
		o.logf(observe.LevelError, "Flash error: %v", err)
		return res, wrapStep("upload", err)
	}
	o.logf(observe.LevelSuccess, "Firmware flashed successfully!")
	o.progress(constants.ProgressUploadDone)
	o.logf(observe.LevelSuccess, ReadyMessage)
	return res, nil
}

// Acquire downloads the firmware repository and selects one variant using
// the stored relay preference. The example firmware stands in when the
// preference asks for it, or, with ExampleFallback, when the download fails
// or nothing is found.
func (o *Orchestrator) Acquire(ctx context.Context) (selector.Candidate, error) {
	pref, err := o.prefs.RelayPreference()
	if err != nil {
		o.logf(observe.LevelWarning, "Ignoring relay preference: %v", err)
		pref = selector.PreferUnset
	}
	if pref == selector.PreferExample {
		o.logf(observe.LevelInfo, "Example firmware requested")
		return o.example(nil)
	}

	o.logf(observe.LevelInfo, "Downloading BomberCat firmware from %s...", o.cfg.Repository)
	o.progress(constants.ProgressDownload)
	root, err := o.fetcher.FetchRepository(ctx, o.cfg.Repository, o.cfg.SketchDir)
	if err != nil {
		if ctx.Err() != nil {
			return selector.Candidate{}, wrapStep("download firmware", ctx.Err())
		}
		o.logf(observe.LevelError, "Error downloading firmware: %v", err)
		return o.example(wrapStep("download firmware", err))
	}

	choice, err := o.selectIn(root, pref)
	if errors.Is(err, selector.ErrNoFirmwareFound) {
		o.logf(observe.LevelWarning, "No firmware found in repository")
		return o.example(err)
	}
	if err != nil {
		return selector.Candidate{}, err
	}
	return choice.Candidate, nil
}

func (o *Orchestrator) selectIn(root string, pref selector.Preference) (selector.Choice, error) {
	o.logf(observe.LevelInfo, "Looking for firmware files...")
	candidates, err := selector.Discover(root, o.cfg.Discovery)
	if err != nil {
		return selector.Choice{}, wrapStep("discover firmware", err)
	}
	for _, c := range candidates {
		o.logf(observe.LevelInfo, "Found firmware: %s/%s", c.Variant, c.EntryFile)
	}

	choice, err := selector.Select(candidates, pref)
	if err != nil {
		return choice, err
	}
	name := choice.Candidate.Variant
	switch choice.Rule {
	case selector.RuleRolePreference:
		o.logf(observe.LevelInfo, "Found both HOST and CLIENT relay firmwares!")
		o.logf(observe.LevelSuccess, "Selected %s firmware: %s", strings.ToUpper(string(pref)), name)
	case selector.RuleRoleDefault:
		o.logf(observe.LevelInfo, "Found both HOST and CLIENT relay firmwares!")
		o.logf(observe.LevelSuccess, "Selected HOST firmware by default: %s", name)
	default:
		o.logf(observe.LevelSuccess, "Selected firmware: %s", name)
	}
	return choice, nil
}

// example writes the fallback firmware. cause is the failure that led
// here; when fallback is disabled it is returned instead.
func (o *Orchestrator) example(cause error) (selector.Candidate, error) {
	if cause != nil && !o.cfg.ExampleFallback {
		return selector.Candidate{}, cause
	}
	if cause != nil {
		o.logf(observe.LevelWarning, "Creating example firmware instead")
	}
	if err := os.MkdirAll(o.cfg.SketchDir, 0o755); err != nil {
		return selector.Candidate{}, wrapStep("create sketch dir", err)
	}
	cand, err := sketch.WriteExample(o.cfg.SketchDir)
	if err != nil {
		return selector.Candidate{}, err
	}
	o.logf(observe.LevelSuccess, "Example firmware created: %s", cand.Variant)
	return cand, nil
}

// Patch runs the compatibility pass over dir. The skip list extends the
// header exclusions and an installed PN7150 driver retargets the include
// rewrites to its real header name.
func (o *Orchestrator) Patch(ctx context.Context, dir string) (patcher.Summary, error) {
	lex, err := o.Patcher()
	if err != nil {
		return patcher.Summary{}, err
	}
	o.logf(observe.LevelInfo, "Fixing library compatibility...")
	outcomes, err := patcher.PatchDir(ctx, dir, lex, o.obs)
	if err != nil {
		return patcher.Summary{}, wrapStep("patch firmware", err)
	}
	sum := patcher.Summarize(outcomes)
	log.Printf("[Orchestrator] patched %s: files=%d changed=%d commented=%d failed=%d",
		dir, sum.Files, sum.Changed, sum.Commented, sum.Failed)
	if sum.Changed > 0 {
		o.logf(observe.LevelSuccess, "Compatibility fixes applied to %d file(s)", sum.Changed)
	}
	return sum, nil
}

// Patcher builds the lexical patcher for the current preferences.
func (o *Orchestrator) Patcher() (*patcher.Lexical, error) {
	headers := patcher.NewHeaderSet(o.cfg.Incompatible...)
	skip, err := o.prefs.SkipLibraries()
	if err != nil {
		return nil, fmt.Errorf("read skip list: %w", err)
	}
	if n := headers.Merge(skip...); n > 0 {
		o.logf(observe.LevelInfo, "Excluding %d header token(s) from the skip list: %s", n, strings.Join(skip, ", "))
	}

	rewrites := o.cfg.Rewrites
	if lib, header, ok := patcher.FindLibraryHeader(o.cfg.LibrariesDir, pn7150Token); ok {
		o.logf(observe.LevelInfo, "Found PN7150 library %s with header %s", lib, header)
		rewrites = rewrites.WithHeader(pn7150Token, header)
	}
	return patcher.NewLexical(rewrites, headers), nil
}
