package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	ptyDevice "github.com/creack/pty"

	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/procutil"
)

// Command describes one toolchain invocation.
type Command struct {
	Binary  string
	Args    []string
	Env     []string
	Timeout time.Duration
	// OnLine, when set, receives each output line as it is produced.
	OnLine func(line string)
}

func (c Command) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.Args, " "))
}

// Output holds what a finished command printed and its exit code.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes toolchain commands. A non-zero exit is reported through
// Output.ExitCode with a nil error; errors mean the command could not run to
// completion (start failure, timeout, cancellation).
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs commands with pipes.
type ExecRunner struct {
	WaitDelay time.Duration
}

func (r ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	ctx, cancel := withTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Cancel = func() error { return procutil.GracefulTerminate(cmd.Process) }
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = constants.ToolchainWaitDelay
	}
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	var lines *lineWriter
	if c.OnLine != nil {
		lines = &lineWriter{fn: c.OnLine}
		cmd.Stdout = io.MultiWriter(&stdout, lines)
		cmd.Stderr = io.MultiWriter(&stderr, lines)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	if lines != nil {
		lines.Flush()
	}
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	return finish(ctx, c, out, cmd.ProcessState, err)
}

// LiveRunner returns the runner for streamed compile and upload output: a
// PTYRunner where pseudo-terminals exist, an ExecRunner on Windows.
func LiveRunner() Runner {
	if goruntime.GOOS == "windows" {
		return ExecRunner{}
	}
	return PTYRunner{}
}

// PTYRunner runs commands inside a pseudo-terminal so tools that only print
// progress to a TTY stream it line by line. Stdout and stderr are merged
// into Output.Stdout.
type PTYRunner struct {
	WaitDelay time.Duration
}

func (r PTYRunner) Run(ctx context.Context, c Command) (Output, error) {
	ctx, cancel := withTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Cancel = func() error { return procutil.GracefulTerminate(cmd.Process) }
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = constants.ToolchainWaitDelay
	}
	cmd.Env = append(os.Environ(), "TERM=dumb")
	cmd.Env = append(cmd.Env, c.Env...)

	ptmx, err := ptyDevice.StartWithSize(cmd, &ptyDevice.Winsize{Rows: 24, Cols: 160})
	if errors.Is(err, ptyDevice.ErrUnsupported) {
		return ExecRunner{WaitDelay: r.WaitDelay}.Run(ctx, c)
	}
	if err != nil {
		return Output{}, fmt.Errorf("start %s in pty: %w", c.Binary, err)
	}

	var buf bytes.Buffer
	lines := &lineWriter{fn: c.OnLine}
	copied := make(chan struct{})
	go func() {
		defer close(copied)
		// Read returns EIO once the child exits and the slave side closes.
		_, _ = io.Copy(io.MultiWriter(&buf, lines), ptmx)
	}()

	waitErr := cmd.Wait()
	select {
	case <-copied:
	case <-time.After(constants.Duration1Second):
	}
	_ = ptmx.Close()
	<-copied
	lines.Flush()

	out := Output{Stdout: strings.ReplaceAll(buf.String(), "\r\n", "\n")}
	return finish(ctx, c, out, cmd.ProcessState, waitErr)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, effectiveTimeout(timeout))
}

func effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return constants.ToolchainDefaultTimeout
	}
	return timeout
}

func finish(ctx context.Context, c Command, out Output, state *os.ProcessState, err error) (Output, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return out, fmt.Errorf("%w: %s timed out after %s", ErrTimeout, c.Binary, effectiveTimeout(c.Timeout))
		}
		return out, fmt.Errorf("%s: %w", c.Binary, ctxErr)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return out, fmt.Errorf("run %s: %w", c.Binary, err)
	}
	if state != nil {
		out.ExitCode = state.ExitCode()
	}
	return out, nil
}

// lineWriter splits a byte stream into lines for OnLine callbacks.
type lineWriter struct {
	mu  sync.Mutex
	fn  func(string)
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.fn == nil {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.buf[:i])); line != "" {
			w.fn(line)
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	if w.fn == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if line := strings.TrimSpace(string(w.buf)); line != "" {
		w.fn(line)
	}
	w.buf = nil
}
