package toolchain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/fetch"
	"github.com/catflash/catflash/internal/observe"
	"github.com/catflash/catflash/internal/sanitize"
	"github.com/catflash/catflash/internal/validate"
)

// Config configures the arduino-cli backed toolchain.
type Config struct {
	// Binary is an explicit arduino-cli path. When empty the tools dir and
	// PATH are searched, and a release is downloaded as a last resort.
	Binary          string
	ToolsDir        string
	Version         string
	DownloadBaseURL string
	BoardURLs       []string

	Timeout          time.Duration
	CompileTimeout   time.Duration
	UploadTimeout    time.Duration
	BoardListTimeout time.Duration

	// MaxLogLines caps how many output lines of one command are forwarded
	// to the observer. Board listings use BoardListLogLines.
	MaxLogLines       int
	BoardListLogLines int

	// LiveOutput streams compile and upload output line by line.
	LiveOutput bool
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = constants.ToolchainDefaultTimeout
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = constants.ToolchainCompileTimeout
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = constants.ToolchainUploadTimeout
	}
	if c.BoardListTimeout <= 0 {
		c.BoardListTimeout = constants.ToolchainBoardListTimeout
	}
	if c.MaxLogLines <= 0 {
		c.MaxLogLines = 100
	}
	if c.BoardListLogLines <= 0 {
		c.BoardListLogLines = 10
	}
	return c
}

// ArduinoCLI implements Toolchain on top of the arduino-cli binary.
type ArduinoCLI struct {
	cfg     Config
	runner  Runner
	// live runs compile and upload when LiveOutput is set.
	live    Runner
	fetcher *fetch.Fetcher
	obs     observe.Observer

	// initMu serialises bootstrap work; mu guards the fields below it.
	initMu      sync.Mutex
	mu          sync.Mutex
	binary      string
	initialized bool
	builds      map[string]string
}

// Option customises an ArduinoCLI.
type Option func(*ArduinoCLI)

// WithRunner replaces the command runner for every operation.
func WithRunner(r Runner) Option {
	return func(a *ArduinoCLI) {
		if r != nil {
			a.runner = r
			a.live = r
		}
	}
}

// WithFetcher replaces the fetcher used to download arduino-cli.
func WithFetcher(f *fetch.Fetcher) Option {
	return func(a *ArduinoCLI) {
		if f != nil {
			a.fetcher = f
		}
	}
}

// WithObserver routes command logs to obs.
func WithObserver(obs observe.Observer) Option {
	return func(a *ArduinoCLI) { a.obs = observe.OrNop(obs) }
}

// NewArduinoCLI creates a toolchain backed by arduino-cli.
func NewArduinoCLI(cfg Config, opts ...Option) *ArduinoCLI {
	a := &ArduinoCLI{
		cfg:     cfg.withDefaults(),
		runner:  ExecRunner{},
		live:    LiveRunner(),
		fetcher: fetch.New(),
		obs:     observe.Nop{},
		builds:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ Toolchain = (*ArduinoCLI)(nil)

// BinaryPath returns the resolved arduino-cli path, or "" before one was found.
func (a *ArduinoCLI) BinaryPath() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.binary
}

// Locate finds an existing arduino-cli without downloading anything.
func (a *ArduinoCLI) Locate() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locateLocked()
}

func (a *ArduinoCLI) locateLocked() (string, error) {
	if a.binary != "" {
		return a.binary, nil
	}
	if a.cfg.Binary != "" {
		if _, err := os.Stat(a.cfg.Binary); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotInstalled, a.cfg.Binary)
		}
		a.binary = a.cfg.Binary
		return a.binary, nil
	}
	if a.cfg.ToolsDir != "" {
		if rel, err := CurrentRelease(a.cfg.DownloadBaseURL, a.cfg.Version); err == nil {
			candidate := filepath.Join(a.cfg.ToolsDir, rel.Executable)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				a.binary = candidate
				return a.binary, nil
			}
		}
	}
	if path, err := exec.LookPath("arduino-cli"); err == nil {
		a.binary = path
		return a.binary, nil
	}
	return "", ErrNotInstalled
}

// EnsureBinary locates arduino-cli, downloading the pinned release into the
// tools dir when needed. Download progress is reported within rng.
func (a *ArduinoCLI) EnsureBinary(ctx context.Context, rng observe.Range) (string, error) {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	return a.ensureBinary(ctx, &rng)
}

func (a *ArduinoCLI) ensureBinary(ctx context.Context, rng *observe.Range) (string, error) {
	path, err := a.Locate()
	if err == nil {
		return path, nil
	}
	if a.cfg.Binary != "" || a.cfg.ToolsDir == "" {
		return "", err
	}

	rel, err := CurrentRelease(a.cfg.DownloadBaseURL, a.cfg.Version)
	if err != nil {
		return "", err
	}
	observe.Logf(a.obs, observe.LevelInfo, "Downloading Arduino CLI %s...", a.cfg.Version)
	log.Printf("[Toolchain] downloading %s", rel.URL)

	var progress fetch.ProgressFunc
	if rng != nil {
		last := -1
		progress = func(written, total int64) {
			if total <= 0 {
				return
			}
			if p := rng.At(int(written*100/total), 100); p != last {
				last = p
				a.obs.OnProgress(p)
			}
		}
	}
	if err := a.fetcher.FetchArchive(ctx, rel.URL, a.cfg.ToolsDir, progress); err != nil {
		return "", fmt.Errorf("download arduino-cli: %w", err)
	}

	path = filepath.Join(a.cfg.ToolsDir, rel.Executable)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: archive did not contain %s", ErrNotInstalled, rel.Executable)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return "", fmt.Errorf("chmod arduino-cli: %w", err)
	}
	a.mu.Lock()
	a.binary = path
	a.mu.Unlock()
	observe.Logf(a.obs, observe.LevelSuccess, "Arduino CLI installed successfully")
	return path, nil
}

// Initialize prepares arduino-cli: binary, config file, board manager URLs
// and the core index. Only a missing binary is fatal; the remaining steps
// log warnings. Subsequent calls are no-ops.
func (a *ArduinoCLI) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if a.Initialized() {
		return nil
	}
	observe.Logf(a.obs, observe.LevelInfo, "Initializing Arduino CLI...")

	if _, err := a.ensureBinary(ctx, nil); err != nil {
		return err
	}

	if res := a.classified(ctx, OpConfigInit, a.cfg.Timeout, "config", "init"); !res.OK() {
		observe.Logf(a.obs, observe.LevelWarning, "Config init warning: %s", res.Reason)
	} else if res.Outcome == OutcomeAlreadyPresent {
		observe.Logf(a.obs, observe.LevelInfo, "Arduino CLI config already exists")
	}

	for _, url := range a.cfg.BoardURLs {
		if err := validate.HTTPURL(url); err != nil {
			observe.Logf(a.obs, observe.LevelWarning, "Skipping board manager URL: %v", err)
			continue
		}
		if res := a.classified(ctx, OpConfigAdd, a.cfg.Timeout, "config", "add", "board_manager.additional_urls", url); !res.OK() {
			observe.Logf(a.obs, observe.LevelWarning, "Board URL already added or error: %s", res.Reason)
		}
	}

	observe.Logf(a.obs, observe.LevelInfo, "Updating board definitions...")
	if res := a.classified(ctx, OpUpdateIndex, a.cfg.Timeout, "core", "update-index"); !res.OK() {
		observe.Logf(a.obs, observe.LevelWarning, "Core update warning: %s", res.Reason)
	}

	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()
	return nil
}

// Initialized reports whether Initialize has completed.
func (a *ArduinoCLI) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

func (a *ArduinoCLI) ListInstalledLibraries(ctx context.Context) (string, error) {
	return a.listing(ctx, "lib", "list")
}

func (a *ArduinoCLI) InstallLibrary(ctx context.Context, name string) Result {
	if err := validate.Arg("library name", name); err != nil {
		return Failed(err.Error())
	}
	return a.classified(ctx, OpLibraryInstall, a.cfg.Timeout, "lib", "install", name)
}

func (a *ArduinoCLI) ListInstalledPlatforms(ctx context.Context) (string, error) {
	return a.listing(ctx, "core", "list")
}

func (a *ArduinoCLI) InstallPlatform(ctx context.Context, id string) Result {
	if err := validate.Arg("platform id", id); err != nil {
		return Failed(err.Error())
	}
	return a.classified(ctx, OpPlatformInstall, a.cfg.Timeout, "core", "install", id)
}

func (a *ArduinoCLI) Compile(ctx context.Context, fqbn, sourceDir, buildDir string) error {
	if err := validate.FQBN(fqbn); err != nil {
		return err
	}
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return fmt.Errorf("create build dir: %w", err)
	}
	res := a.classified(ctx, OpCompile, a.cfg.CompileTimeout,
		"compile", "--fqbn", fqbn, "--build-path", buildDir, sourceDir)
	if !res.OK() {
		return errors.New(res.Reason)
	}
	a.mu.Lock()
	a.builds[filepath.Clean(sourceDir)] = buildDir
	a.mu.Unlock()
	return nil
}

func (a *ArduinoCLI) Upload(ctx context.Context, fqbn, port, sourceDir string) error {
	if err := validate.FQBN(fqbn); err != nil {
		return err
	}
	if err := validate.Arg("port", port); err != nil {
		return err
	}
	args := []string{"upload", "--fqbn", fqbn, "--port", port}
	a.mu.Lock()
	buildDir := a.builds[filepath.Clean(sourceDir)]
	a.mu.Unlock()
	if buildDir != "" {
		args = append(args, "--input-dir", buildDir)
	}
	args = append(args, sourceDir)
	res := a.classified(ctx, OpUpload, a.cfg.UploadTimeout, args...)
	if !res.OK() {
		return errors.New(res.Reason)
	}
	return nil
}

func (a *ArduinoCLI) ListBoards(ctx context.Context) ([]Board, error) {
	bin, err := a.Locate()
	if err != nil {
		return nil, err
	}
	out, err := a.run(ctx, bin, OpList, a.cfg.BoardListTimeout, a.cfg.BoardListLogLines, "board", "list")
	if err != nil {
		return nil, err
	}
	if out.ExitCode != 0 {
		return nil, errors.New(FailureReason(out))
	}
	return ParseBoardList(out.Stdout), nil
}

func (a *ArduinoCLI) listing(ctx context.Context, args ...string) (string, error) {
	bin, err := a.Locate()
	if err != nil {
		return "", err
	}
	// Listings are consulted repeatedly; only their failures are logged.
	out, err := a.runner.Run(ctx, Command{Binary: bin, Args: args, Timeout: a.cfg.Timeout})
	if err != nil {
		return "", err
	}
	if out.ExitCode != 0 {
		return "", errors.New(FailureReason(out))
	}
	return out.Stdout, nil
}

// classified runs one command and maps it to a Result.
func (a *ArduinoCLI) classified(ctx context.Context, op Operation, timeout time.Duration, args ...string) Result {
	bin, err := a.Locate()
	if err != nil {
		return Failed(err.Error())
	}
	out, err := a.run(ctx, bin, op, timeout, a.cfg.MaxLogLines, args...)
	res := Classify(op, out, err)
	if res.Outcome == OutcomeFailed {
		observe.Logf(a.obs, observe.LevelError, "Command error: %s", res.Reason)
	}
	return res
}

func (a *ArduinoCLI) streams(op Operation) bool {
	return a.cfg.LiveOutput && (op == OpCompile || op == OpUpload)
}

// RunnerFor returns the runner used for op. With LiveOutput, compile and
// upload run on the live runner; everything else, including the JSON board
// listing, keeps separate stdout and stderr pipes.
func (a *ArduinoCLI) RunnerFor(op Operation) Runner {
	if a.streams(op) {
		return a.live
	}
	return a.runner
}

func (a *ArduinoCLI) run(ctx context.Context, bin string, op Operation, timeout time.Duration, maxLines int, args ...string) (Output, error) {
	cmd := Command{Binary: bin, Args: args, Timeout: timeout}
	observe.Logf(a.obs, observe.LevelInfo, "Running: %s", cmd.String())

	live := a.streams(op)
	if live {
		cmd.OnLine = func(line string) {
			observe.Logf(a.obs, observe.LevelInfo, "%s", sanitize.StripControlChars(line))
		}
	}
	out, err := a.RunnerFor(op).Run(ctx, cmd)
	if err != nil {
		log.Printf("[Toolchain] %s: %v", strings.Join(args, " "), err)
	}
	if !live {
		a.forward(out.Stdout, observe.LevelInfo, maxLines)
		a.forward(out.Stderr, observe.LevelWarning, maxLines)
	}
	return out, err
}

func (a *ArduinoCLI) forward(text string, level observe.Level, maxLines int) {
	lines, dropped := sanitize.HeadLines(sanitize.StripControlChars(text), maxLines)
	for _, line := range lines {
		observe.Logf(a.obs, level, "%s", line)
	}
	if dropped > 0 {
		observe.Logf(a.obs, level, "... (truncated %d more lines)", dropped)
	}
}
