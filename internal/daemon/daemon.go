package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/catflash/catflash/internal/config"
	"github.com/catflash/catflash/internal/config/store"
	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/eventbus"
	"github.com/catflash/catflash/internal/observe"
	"github.com/catflash/catflash/internal/orchestrator"
	"github.com/catflash/catflash/internal/procutil"
	daemonruntime "github.com/catflash/catflash/internal/runtime"
	"github.com/catflash/catflash/internal/server"
	"github.com/catflash/catflash/internal/toolchain"
)

// Options groups dependencies required to construct a Daemon.
type Options struct {
	Settings config.Settings
	Paths    config.InstancePaths
	Store    *store.Store

	// Toolchain replaces the arduino-cli toolchain built from Settings.
	Toolchain toolchain.Toolchain
	// Fetcher replaces the firmware repository downloader.
	Fetcher orchestrator.SourceFetcher
	// AllowedOrigins extends the browser origins accepted on /ws.
	AllowedOrigins []string
}

// Daemon wires the orchestrator and the HTTP API into one process.
type Daemon struct {
	store        *store.Store
	paths        config.InstancePaths
	bus          *eventbus.Bus
	orchestrator *orchestrator.Orchestrator
	apiServer    *server.APIServer
	serviceHost  *daemonruntime.ServiceHost
	lifecycle    *daemonruntime.Lifecycle
	runtimeInfo  *RuntimeInfo

	errMu  sync.Mutex
	runErr error
}

// New creates a daemon bound to the provided state store.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: state store is required")
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	if opts.Paths.Home == "" {
		opts.Paths = config.GetInstancePaths(opts.Store.InstanceName())
	}

	settings := ApplyStoredSettings(opts.Store, opts.Settings)
	bus := eventbus.New()

	tc := opts.Toolchain
	if tc == nil {
		tc = toolchain.NewArduinoCLI(settings.Toolchain(),
			toolchain.WithObserver(observe.NewBusObserver(bus, eventbus.SourceToolchain)))
	}

	recorder := NewSettingsRecorder(opts.Store, tc)
	orchOpts := []orchestrator.Option{orchestrator.WithRecorder(recorder)}
	if opts.Fetcher != nil {
		orchOpts = append(orchOpts, orchestrator.WithFetcher(opts.Fetcher))
	}
	orch := orchestrator.New(
		orchestrator.ConfigFromSettings(settings),
		tc,
		observe.NewBusObserver(bus, eventbus.SourceOrchestrator),
		orchOpts...,
	)

	apiServer, err := server.NewAPIServer(orch, bus, server.Options{
		Addr:           settings.ListenAddr,
		AllowedOrigins: opts.AllowedOrigins,
		FirmwareSubdir: settings.FirmwareSubdir,
	})
	if err != nil {
		bus.Shutdown()
		return nil, fmt.Errorf("daemon: create API server: %w", err)
	}

	host := daemonruntime.NewServiceHost()
	if err := host.Register("orchestrator", func(context.Context) (daemonruntime.Service, error) {
		return orch, nil
	}, daemonruntime.WithShutdownTimeout(constants.ServiceShutdownTimeout)); err != nil {
		bus.Shutdown()
		return nil, err
	}
	if err := host.Register("api", func(context.Context) (daemonruntime.Service, error) {
		return apiServer, nil
	}, daemonruntime.WithShutdownTimeout(constants.HTTPShutdownTimeout)); err != nil {
		bus.Shutdown()
		return nil, err
	}

	return &Daemon{
		store:        opts.Store,
		paths:        opts.Paths,
		bus:          bus,
		orchestrator: orch,
		apiServer:    apiServer,
		serviceHost:  host,
		lifecycle:    daemonruntime.NewLifecycle(),
		runtimeInfo:  &RuntimeInfo{},
	}, nil
}

// ApplyStoredSettings fills in the arduino-cli path remembered from an
// earlier successful install when none is configured. A remembered binary
// that no longer exists is forgotten.
func ApplyStoredSettings(st *store.Store, s config.Settings) config.Settings {
	if s.ArduinoCLIPath != "" {
		return s
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.StoreQueryTimeout)
	defer cancel()
	bin, err := st.LoadSetting(ctx, store.SettingArduinoCLIPath)
	switch {
	case store.IsNotFound(err):
		return s
	case err != nil:
		log.Printf("[Daemon] load stored settings: %v", err)
		return s
	}
	if _, err := os.Stat(bin); err != nil {
		log.Printf("[Daemon] forgetting missing arduino-cli %s", bin)
		if err := st.DeleteSettings(ctx, store.SettingArduinoCLIPath); err != nil {
			log.Printf("[Daemon] delete stale setting: %v", err)
		}
		return s
	}
	s.ArduinoCLIPath = bin
	return s
}

// Start runs the daemon until Shutdown is called or a service fails.
func (d *Daemon) Start() error {
	if err := daemonruntime.WritePIDFile(d.paths.PIDFile, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer daemonruntime.RemovePIDFile(d.paths.PIDFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.serviceHost.Start(ctx); err != nil {
		return fmt.Errorf("daemon: start services: %w", err)
	}
	d.watchHostErrors()

	d.runtimeInfo.record(d.apiServer.Addr())
	if err := d.runtimeInfo.Write(d.paths.Runtime); err != nil {
		log.Printf("[Daemon] write runtime info: %v", err)
	}
	defer RemoveRuntimeInfo(d.paths.Runtime)
	log.Printf("[Daemon] catflashd serving on http://%s (services: %v)", d.apiServer.Addr(), d.serviceHost.Running())

	<-d.lifecycle.Done()
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*constants.ServiceShutdownTimeout)
	if err := d.serviceHost.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[Daemon] service shutdown error: %v", err)
		d.setRunError(err)
	}
	stopCancel()

	d.bus.Shutdown()
	if err := d.store.Close(); err != nil {
		log.Printf("[Daemon] store close error: %v", err)
	}
	return d.getRunError()
}

// Shutdown signals the daemon to stop. It does not wait.
func (d *Daemon) Shutdown() {
	d.lifecycle.Shutdown()
}

// Lifecycle returns the shutdown coordinator.
func (d *Daemon) Lifecycle() *daemonruntime.Lifecycle {
	return d.lifecycle
}

// Addr returns the API listen address, or "" before Start.
func (d *Daemon) Addr() string {
	return d.apiServer.Addr()
}

// Orchestrator returns the workflow orchestrator.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orchestrator
}

// Bus returns the event bus carrying workflow events.
func (d *Daemon) Bus() *eventbus.Bus {
	return d.bus
}

func (d *Daemon) watchHostErrors() {
	go func() {
		for {
			select {
			case <-d.lifecycle.Done():
				return
			case err := <-d.serviceHost.Errors():
				if err == nil {
					continue
				}
				log.Printf("[Daemon] %v", err)
				d.setRunError(err)
				d.lifecycle.Shutdown()
			}
		}
	}()
}

func (d *Daemon) setRunError(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.runErr == nil {
		d.runErr = err
	}
}

func (d *Daemon) getRunError() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}

// IsRunning reports whether a live catflashd owns the PID file in paths.
// A stale PID file is removed.
func IsRunning(paths config.InstancePaths) bool {
	pid, err := daemonruntime.ReadPIDFile(paths.PIDFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			daemonruntime.RemovePIDFile(paths.PIDFile)
		}
		return false
	}
	if !procutil.IsProcessAlive(pid) {
		daemonruntime.RemovePIDFile(paths.PIDFile)
		return false
	}
	return true
}

// ErrNotRunning is returned by Stop when no live catflashd owns the PID file.
var ErrNotRunning = errors.New("daemon: catflashd is not running")

// Stop terminates the catflashd recorded in paths and waits up to timeout
// for it to exit.
func Stop(paths config.InstancePaths, timeout time.Duration) error {
	if !IsRunning(paths) {
		return ErrNotRunning
	}
	pid, err := daemonruntime.ReadPIDFile(paths.PIDFile)
	if err != nil {
		return ErrNotRunning
	}
	if err := procutil.TerminateByPID(pid); err != nil {
		return fmt.Errorf("daemon: terminate pid %d: %w", pid, err)
	}

	if !procutil.WaitExit(pid, timeout) {
		return fmt.Errorf("daemon: pid %d still running after %s", pid, timeout)
	}
	daemonruntime.RemovePIDFile(paths.PIDFile)
	RemoveRuntimeInfo(paths.Runtime)
	return nil
}
