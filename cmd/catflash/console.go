package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/catflash/catflash/internal/observe"
)

const progressWidth = 30

// consoleObserver renders workflow notifications on a terminal. On a TTY
// the progress is redrawn in place below the log lines; otherwise each new
// percentage is printed once.
type consoleObserver struct {
	mu       sync.Mutex
	out      io.Writer
	tty      bool
	quiet    bool
	progress int
	drawn    bool
}

var _ observe.Observer = (*consoleObserver)(nil)

func newConsoleObserver(f *os.File, quiet bool) *consoleObserver {
	return &consoleObserver{
		out:      f,
		tty:      term.IsTerminal(int(f.Fd())),
		quiet:    quiet,
		progress: -1,
	}
}

func (c *consoleObserver) OnLog(message string, level observe.Level, at time.Time) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLine()
	fmt.Fprintf(c.out, "%s %s %s\n", at.Format("15:04:05"), levelTag(level), message)
	c.redraw()
}

func (c *consoleObserver) OnProgress(percent int) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if percent == c.progress {
		return
	}
	c.progress = percent
	if c.tty {
		c.clearLine()
		c.redraw()
		return
	}
	fmt.Fprintf(c.out, "progress: %d%%\n", percent)
}

func (c *consoleObserver) OnInstallComplete(success bool, message string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLine()
	if success {
		fmt.Fprintf(c.out, "Installation complete: %s\n", message)
	} else {
		fmt.Fprintf(c.out, "Installation failed: %s\n", message)
	}
	c.redraw()
}

// Finish moves past the progress line.
func (c *consoleObserver) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drawn {
		fmt.Fprintln(c.out)
		c.drawn = false
	}
}

func (c *consoleObserver) clearLine() {
	if c.tty && c.drawn {
		fmt.Fprint(c.out, "\r\033[K")
		c.drawn = false
	}
}

func (c *consoleObserver) redraw() {
	if !c.tty || c.progress < 0 {
		return
	}
	filled := c.progress * progressWidth / 100
	fmt.Fprintf(c.out, "[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(".", progressWidth-filled), c.progress)
	c.drawn = true
}

func levelTag(level observe.Level) string {
	switch level {
	case observe.LevelSuccess:
		return "[ OK ]"
	case observe.LevelWarning:
		return "[WARN]"
	case observe.LevelError:
		return "[FAIL]"
	default:
		return "[INFO]"
	}
}

// silenceStdLog drops the component log lines; the console observer shows
// what the user needs.
func silenceStdLog() {
	log.SetOutput(io.Discard)
}
