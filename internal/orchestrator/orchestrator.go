package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/catflash/catflash/internal/config"
	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/fetch"
	"github.com/catflash/catflash/internal/observe"
	"github.com/catflash/catflash/internal/patcher"
	"github.com/catflash/catflash/internal/resolver"
	"github.com/catflash/catflash/internal/selector"
	"github.com/catflash/catflash/internal/toolchain"
)

var (
	// ErrFlashInProgress rejects a workflow start while a flash runs.
	ErrFlashInProgress = errors.New("orchestrator: flash already in progress")
	// ErrInstallInProgress rejects a flash while dependencies install.
	ErrInstallInProgress = errors.New("orchestrator: dependency installation in progress")
	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("orchestrator: shutting down")

	errAlreadyInstalling = errors.New("orchestrator: installation already in progress")
)

// RunRecorder persists workflow runs. *store.Store implements it.
type RunRecorder interface {
	BeginRun(ctx context.Context, params store.RunParams) (store.Run, error)
	FinishRun(ctx context.Context, id string, success bool, message, variant string) error
	SaveResolutions(ctx context.Context, runID string, resolutions []store.LibraryResolution) error
	LastSuccessfulRun(ctx context.Context, kind store.RunKind) (store.Run, error)
}

// SourceFetcher downloads and unpacks a firmware repository and returns
// the root of the extracted tree. *fetch.Fetcher implements it.
type SourceFetcher interface {
	FetchRepository(ctx context.Context, repo fetch.Repository, destDir string) (string, error)
}

// binaryInstaller is implemented by toolchains that can bootstrap their own
// executable.
type binaryInstaller interface {
	EnsureBinary(ctx context.Context, rng observe.Range) (string, error)
}

// binaryLocator is implemented by toolchains that can report whether their
// executable is present without installing it.
type binaryLocator interface {
	Locate() (string, error)
}

type initializedReporter interface {
	Initialized() bool
}

// Config holds the inputs of both workflows.
type Config struct {
	FQBN   string
	CoreID string

	Repository fetch.Repository
	Discovery  selector.Options

	SketchDir    string
	BuildDir     string
	LibrariesDir string

	// ExampleFallback synthesizes the example firmware when the download
	// fails or no variant is found.
	ExampleFallback bool

	Requirements []resolver.Requirement
	Incompatible []string
	Rewrites     patcher.RewriteTable
}

// ConfigFromSettings builds a Config from loaded settings with the default
// library set, header exclusions and include rewrites.
func ConfigFromSettings(s config.Settings) Config {
	return Config{
		FQBN:            s.FQBN,
		CoreID:          s.CoreID,
		Repository:      s.Repository(),
		Discovery:       selector.Options{FirmwareSubdir: s.FirmwareSubdir},
		SketchDir:       s.SketchDir,
		BuildDir:        s.BuildDir,
		LibrariesDir:    s.LibrariesDir,
		ExampleFallback: s.ExampleFallback,
		Requirements:    resolver.DefaultRequirements(),
		Incompatible:    patcher.DefaultIncompatible,
		Rewrites:        patcher.DefaultRewrites(),
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder persists runs and library resolutions.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) {
		o.runs = r
	}
}

// WithFetcher overrides the repository fetcher.
func WithFetcher(f SourceFetcher) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.fetcher = f
		}
	}
}

// Orchestrator sequences the install and flash workflows. At most one
// install and one flash exist at a time, and they never overlap.
type Orchestrator struct {
	cfg     Config
	tc      toolchain.Toolchain
	obs     observe.Observer
	fetcher SourceFetcher
	runs    RunRecorder
	prefs   config.Prefs

	guard stateGuard

	ctx    context.Context
	cancel context.CancelFunc

	// lifeMu orders wg.Add against Shutdown's wg.Wait.
	lifeMu  sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates an orchestrator. Workflows run under an internal context
// that Shutdown cancels.
func New(cfg Config, tc toolchain.Toolchain, obs observe.Observer, opts ...Option) *Orchestrator {
	if cfg.CoreID == "" {
		cfg.CoreID = config.DefaultCoreID
	}
	if cfg.FQBN == "" {
		cfg.FQBN = config.DefaultFQBN
	}
	if cfg.BuildDir == "" && cfg.SketchDir != "" {
		cfg.BuildDir = filepath.Join(filepath.Dir(cfg.SketchDir), "build")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg,
		tc:      tc,
		obs:     observe.OrNop(obs),
		fetcher: fetch.New(),
		prefs:   config.Prefs{Dir: cfg.SketchDir},
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start satisfies the runtime service contract; workflows start on demand.
func (o *Orchestrator) Start(context.Context) error {
	log.Printf("[Orchestrator] ready (fqbn=%s core=%s)", o.cfg.FQBN, o.cfg.CoreID)
	return nil
}

// Shutdown cancels running workflows and waits for them to return.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.lifeMu.Lock()
	o.closing = true
	o.lifeMu.Unlock()
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the install state.
func (o *Orchestrator) State() InstallState {
	return o.guard.snapshot()
}

// Flashing reports whether a flash workflow is running.
func (o *Orchestrator) Flashing() bool {
	return o.guard.isFlashing()
}

// Prefs exposes the preference files the workflows read.
func (o *Orchestrator) Prefs() config.Prefs {
	return o.prefs
}

// Config returns the workflow configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// StartInstall launches the install workflow. When an install is already
// running nothing is started and the current state is returned with a nil
// task. A running flash rejects the request with ErrFlashInProgress.
func (o *Orchestrator) StartInstall(ctx context.Context) (install InstallState, started *Task, err error) {
	if !o.reserve() {
		return o.State(), nil, ErrShuttingDown
	}
	defer o.releaseUnless(&started)

	state, err := o.guard.beginInstall()
	if errors.Is(err, errAlreadyInstalling) {
		return state, nil, nil
	}
	if err != nil {
		return state, nil, err
	}

	task := newTask(KindInstall)
	task.runID = o.beginRun(ctx, store.RunParams{Kind: store.RunInstall, FQBN: o.cfg.FQBN})

	go func() {
		defer o.wg.Done()
		o.install(task)
	}()
	return state, task, nil
}

// StartFlash launches the flash workflow for req.
func (o *Orchestrator) StartFlash(ctx context.Context, req FlashRequest) (started *Task, err error) {
	if !o.reserve() {
		return nil, ErrShuttingDown
	}
	defer o.releaseUnless(&started)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := o.guard.beginFlash(); err != nil {
		return nil, err
	}

	fqbn := o.boardFor(req.FQBN)
	task := newTask(KindFlash)
	task.runID = o.beginRun(ctx, store.RunParams{Kind: store.RunFlash, FQBN: fqbn, Port: req.Port})

	go func() {
		defer o.wg.Done()
		defer o.guard.finishFlash()
		o.flash(task, fqbn, req)
	}()
	return task, nil
}

// reserve counts a workflow goroutine in wg before it is started. It fails
// once Shutdown has begun.
func (o *Orchestrator) reserve() bool {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if o.closing {
		return false
	}
	o.wg.Add(1)
	return true
}

// releaseUnless returns the reservation when no task was started.
func (o *Orchestrator) releaseUnless(started **Task) {
	if *started == nil {
		o.wg.Done()
	}
}

// boardFor picks the request FQBN, then the stored board preference, then
// the configured default.
func (o *Orchestrator) boardFor(requested string) string {
	if requested != "" {
		return requested
	}
	if pref, err := o.prefs.BoardPreference(); err != nil {
		log.Printf("[Orchestrator] board preference unreadable: %v", err)
	} else if pref != "" {
		return pref
	}
	return o.cfg.FQBN
}

func (o *Orchestrator) beginRun(ctx context.Context, params store.RunParams) string {
	if o.runs == nil {
		return ""
	}
	run, err := o.runs.BeginRun(ctx, params)
	if err != nil {
		log.Printf("[Orchestrator] record %s run: %v", params.Kind, err)
		return ""
	}
	return run.ID
}

func (o *Orchestrator) finishRun(id string, err error, message, variant string) {
	if o.runs == nil || id == "" {
		return
	}
	if err != nil {
		message = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.StoreQueryTimeout)
	defer cancel()
	if ferr := o.runs.FinishRun(ctx, id, err == nil, message, variant); ferr != nil {
		log.Printf("[Orchestrator] finish run %s: %v", id, ferr)
	}
}

func (o *Orchestrator) progress(percent int) {
	o.obs.OnProgress(percent)
}

func (o *Orchestrator) logf(level observe.Level, format string, args ...any) {
	observe.Logf(o.obs, level, format, args...)
}

func wrapStep(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", step, err)
}
