package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/eventbus"
	"github.com/catflash/catflash/internal/observability"
	"github.com/catflash/catflash/internal/orchestrator"
	"github.com/catflash/catflash/internal/selector"
	"github.com/catflash/catflash/internal/toolchain"
	catflashversion "github.com/catflash/catflash/internal/version"
)

// Workflows is the part of the orchestrator the API drives.
type Workflows interface {
	State() orchestrator.InstallState
	Flashing() bool
	StartInstall(ctx context.Context) (orchestrator.InstallState, *orchestrator.Task, error)
	StartFlash(ctx context.Context, req orchestrator.FlashRequest) (*orchestrator.Task, error)
	CheckDependencies(ctx context.Context) orchestrator.DependencyStatus
	DetectBoards(ctx context.Context) ([]toolchain.Board, error)
	Firmwares() ([]selector.Candidate, error)
	FirmwareRoot() string
}

var _ Workflows = (*orchestrator.Orchestrator)(nil)

// Options configures the API server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	FirmwareSubdir string
}

// APIServer exposes the workflows over HTTP and streams their events over
// a websocket.
type APIServer struct {
	opts     Options
	flows    Workflows
	bus      *eventbus.Bus
	hub      *Hub
	firmware *firmwareCache
	metrics  *observability.PrometheusExporter
	started  time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewAPIServer creates a server. bus may be nil, in which case the
// websocket only carries greeting messages.
func NewAPIServer(flows Workflows, bus *eventbus.Bus, opts Options) (*APIServer, error) {
	if flows == nil {
		return nil, errors.New("server: workflows are required")
	}
	cache, err := newFirmwareCache(opts.FirmwareSubdir)
	if err != nil {
		return nil, fmt.Errorf("server: firmware cache: %w", err)
	}
	s := &APIServer{
		opts:     opts,
		flows:    flows,
		bus:      bus,
		firmware: cache,
		started:  time.Now(),
	}
	s.hub = NewHub(func(origin string) bool {
		return originAllowed(origin, opts.AllowedOrigins)
	}, s.greeting)

	counter := observability.NewEventCounter()
	bus.AddObserver(counter)
	s.metrics = observability.NewPrometheusExporter(bus, counter)
	s.metrics.WithWorkflow(s.workflowSnapshot)
	return s, nil
}

// Handler returns the HTTP routes.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/check_dependencies", s.handleCheckDependencies)
	mux.HandleFunc("POST /api/install_dependencies", s.handleInstallDependencies)
	mux.HandleFunc("GET /api/install_status", s.handleInstallStatus)
	mux.HandleFunc("POST /api/flash", s.handleFlash)
	mux.HandleFunc("GET /api/firmware_info", s.handleFirmwareInfo)
	mux.HandleFunc("GET /api/detect_boards", s.handleDetectBoards)
	mux.HandleFunc("GET /api/ports", s.handleDetectBoards)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
	return withVersionHeader(mux)
}

// Start binds the listener and serves in the background.
func (s *APIServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("server: already started")
	}

	addr := s.opts.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: constants.HTTPReadHeaderTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(runCtx)
	}()
	if s.bus != nil {
		s.hub.Forward(runCtx, s.bus, &s.wg)
	}

	s.wg.Add(1)
	go func(srv *http.Server) {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[APIServer] serve: %v", err)
		}
	}(s.server)

	log.Printf("[APIServer] listening on http://%s", ln.Addr())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *APIServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and closes websocket clients.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *APIServer) greeting() []Message {
	state := s.flows.State()
	switch {
	case state.InProgress:
		return []Message{{Type: MessageInstallationStatus, Data: CompletionData{InProgress: true, Message: "Installation in progress..."}}}
	case state.Completed:
		return []Message{{Type: MessageInstallationStatus, Data: CompletionData{Success: true, Message: state.Message}}}
	}
	return nil
}

func withVersionHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(catflashversion.HeaderName, catflashversion.String())
		next.ServeHTTP(w, r)
	})
}
