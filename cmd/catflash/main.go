package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/catflash/catflash/internal/config"
	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/daemon"
	"github.com/catflash/catflash/internal/orchestrator"
	"github.com/catflash/catflash/internal/toolchain"
	catflashversion "github.com/catflash/catflash/internal/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	instance string
	envFile  string
	fqbn     string
	jsonMode bool
	verbose  bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "catflash",
		Short:         "Install the BomberCat toolchain and flash its firmware",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = catflashversion.Current().Full()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.instance, "instance", config.DefaultInstance, "instance name")
	pf.StringVar(&flags.envFile, "env-file", "", "dotenv file with CATFLASH_* overrides")
	pf.StringVar(&flags.fqbn, "fqbn", "", "board FQBN (overrides CATFLASH_FQBN)")
	pf.BoolVar(&flags.jsonMode, "json", false, "print machine-readable JSON")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "show internal log output")

	rootCmd.AddCommand(
		newInstallCommand(flags),
		newFlashCommand(flags),
		newFirmwareCommand(flags),
		newPatchCommand(flags),
		newStatusCommand(flags),
		newVersionCommand(flags),
	)
	return rootCmd
}

// OutputFormatter prints results as JSON or plain text.
type OutputFormatter struct {
	jsonMode bool
}

func newOutputFormatter(flags *globalFlags) *OutputFormatter {
	return &OutputFormatter{jsonMode: flags.jsonMode}
}

// Print writes data as indented JSON.
func (f *OutputFormatter) Print(data any) error {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// localEnv is an in-process orchestrator backed by the instance state.
type localEnv struct {
	paths    config.InstancePaths
	settings config.Settings
	store    *store.Store
	tc       *toolchain.ArduinoCLI
	orch     *orchestrator.Orchestrator
	console  *consoleObserver
}

func openLocal(flags *globalFlags) (*localEnv, error) {
	paths, err := config.EnsureInstanceDirs(flags.instance)
	if err != nil {
		return nil, fmt.Errorf("prepare instance directories: %w", err)
	}
	envFile := paths.EnvFile
	if flags.envFile != "" {
		envFile = config.ExpandPath(flags.envFile)
	}
	settings, err := config.LoadSettingsFrom(paths, envFile, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if flags.fqbn != "" {
		settings.FQBN = flags.fqbn
	}

	st, err := store.Open(store.Options{InstanceName: flags.instance})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	settings = daemon.ApplyStoredSettings(st, settings)

	console := newConsoleObserver(os.Stdout, flags.jsonMode)
	if !flags.verbose {
		silenceStdLog()
	}
	tc := toolchain.NewArduinoCLI(settings.Toolchain(), toolchain.WithObserver(console))
	orch := orchestrator.New(
		orchestrator.ConfigFromSettings(settings),
		tc,
		console,
		orchestrator.WithRecorder(daemon.NewSettingsRecorder(st, tc)),
	)
	return &localEnv{paths: paths, settings: settings, store: st, tc: tc, orch: orch, console: console}, nil
}

func (e *localEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.orch.Shutdown(ctx)
	e.console.Finish()
	_ = e.store.Close()
}

// noteRunningDaemon warns that a local workflow runs beside catflashd.
func noteRunningDaemon(e *localEnv) {
	if daemon.IsRunning(e.paths) {
		fmt.Fprintln(os.Stderr, "Note: catflashd is running for this instance and will not see this session.")
	}
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// waitTask blocks until task ends or ctx is cancelled, in which case the
// orchestrator is shut down so the workflow stops.
func waitTask(ctx context.Context, env *localEnv, task *orchestrator.Task) error {
	if task == nil {
		return errors.New("no workflow was started")
	}
	err := task.Wait(ctx)
	if ctx.Err() != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = env.orch.Shutdown(shutdownCtx)
		return fmt.Errorf("interrupted: %w", ctx.Err())
	}
	return err
}
