package runtime

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// Service is a long-running part of catflashd.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Lifecycle is a one-shot shutdown latch shared by the daemon and its
// signal handler.
type Lifecycle struct {
	once sync.Once
	done chan struct{}
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{done: make(chan struct{})}
}

// Done is closed once Shutdown has been called.
func (l *Lifecycle) Done() <-chan struct{} { return l.done }

// Shutdown releases the latch. Later calls do nothing.
func (l *Lifecycle) Shutdown() {
	l.once.Do(func() { close(l.done) })
}

// ShutdownOn triggers Shutdown when one of sigs arrives or ctx ends. The
// returned function stops listening.
func (l *Lifecycle) ShutdownOn(ctx context.Context, sigs ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		select {
		case <-ch:
			l.Shutdown()
		case <-ctx.Done():
			l.Shutdown()
		case <-stop:
		}
	}()

	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(stop)
		})
	}
}
