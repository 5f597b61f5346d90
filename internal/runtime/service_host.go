package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/catflash/catflash/internal/constants"
)

// ServiceFactory builds a service when the host starts.
type ServiceFactory func(ctx context.Context) (Service, error)

// Option tunes one registered service.
type Option func(*hosted)

// WithShutdownTimeout bounds how long the service may take to shut down.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(h *hosted) { h.timeout = timeout }
}

type hosted struct {
	name    string
	factory ServiceFactory
	timeout time.Duration
	svc     Service
}

// ServiceHost starts catflashd's services in registration order and stops
// them in reverse. Errors reported by a running service surface on Errors.
type ServiceHost struct {
	mu       sync.Mutex
	services []*hosted
	running  bool
	cancel   context.CancelFunc
	errs     chan error
}

func NewServiceHost() *ServiceHost {
	return &ServiceHost{errs: make(chan error, 1)}
}

// Register adds a service. Names must be unique and registration closes
// once the host is running.
func (h *ServiceHost) Register(name string, factory ServiceFactory, opts ...Option) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.running:
		return fmt.Errorf("runtime: cannot register service %q after start", name)
	case factory == nil:
		return fmt.Errorf("runtime: service %q has no factory", name)
	case slices.ContainsFunc(h.services, func(s *hosted) bool { return s.name == name }):
		return fmt.Errorf("runtime: service %q already registered", name)
	}

	s := &hosted{name: name, factory: factory, timeout: constants.ServiceShutdownTimeout}
	for _, opt := range opts {
		opt(s)
	}
	h.services = append(h.services, s)
	return nil
}

// Start brings every service up. If one fails, those already started are
// shut down again and the error is returned.
func (h *ServiceHost) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return errors.New("runtime: service host already started")
	}
	h.running = true
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	services := slices.Clone(h.services)
	h.mu.Unlock()

	for i, s := range services {
		if err := h.bringUp(runCtx, s); err != nil {
			rollbackCtx, done := context.WithTimeout(context.Background(), constants.ServiceShutdownTimeout)
			for _, prev := range slices.Backward(services[:i]) {
				if err := h.bringDown(rollbackCtx, prev); err != nil {
					log.Printf("[Runtime] rollback: %v", err)
				}
			}
			done()
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			cancel()
			return err
		}
		log.Printf("[Runtime] service %s started", s.name)
	}
	return nil
}

// Stop shuts every running service down, newest first. It returns the first
// failure after all services have been asked to stop.
func (h *ServiceHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.cancel()
	services := slices.Clone(h.services)
	h.mu.Unlock()

	var first error
	for _, s := range slices.Backward(services) {
		if err := h.bringDown(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Running returns the names of live services in start order.
func (h *ServiceHost) Running() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for _, s := range h.services {
		if s.svc != nil {
			names = append(names, s.name)
		}
	}
	return names
}

// Errors delivers failures reported by running services. Only the first
// unread error is buffered.
func (h *ServiceHost) Errors() <-chan error {
	return h.errs
}

func (h *ServiceHost) bringUp(ctx context.Context, s *hosted) error {
	svc, err := s.factory(ctx)
	if err != nil {
		return fmt.Errorf("runtime: create service %q: %w", s.name, err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("runtime: start service %q: %w", s.name, err)
	}
	h.mu.Lock()
	s.svc = svc
	h.mu.Unlock()

	if reporter, ok := svc.(interface{ Errors() <-chan error }); ok && reporter.Errors() != nil {
		go h.forward(s.name, reporter.Errors())
	}
	return nil
}

func (h *ServiceHost) bringDown(ctx context.Context, s *hosted) error {
	h.mu.Lock()
	svc := s.svc
	s.svc = nil
	h.mu.Unlock()
	if svc == nil {
		return nil
	}

	timeout := s.timeout
	if timeout <= 0 {
		timeout = constants.ServiceShutdownTimeout
	}
	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := svc.Shutdown(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("runtime: shutdown service %q: %w", s.name, err)
	}
	return nil
}

func (h *ServiceHost) forward(name string, errs <-chan error) {
	for err := range errs {
		if err == nil {
			continue
		}
		select {
		case h.errs <- fmt.Errorf("%s service error: %w", name, err):
		default:
		}
	}
}
