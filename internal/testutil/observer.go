package testutil

import (
	"strings"
	"sync"
	"time"

	"github.com/catflash/catflash/internal/observe"
)

// LogEntry is one recorded OnLog call.
type LogEntry struct {
	Message string
	Level   observe.Level
	At      time.Time
}

// Completion is one recorded OnInstallComplete call.
type Completion struct {
	Success bool
	Message string
}

// Recorder is an observe.Observer that keeps every notification for
// assertions. It is safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	logs        []LogEntry
	progress    []int
	completions []Completion
}

func (r *Recorder) OnLog(message string, level observe.Level, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, LogEntry{Message: message, Level: level, At: at})
}

func (r *Recorder) OnProgress(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, percent)
}

func (r *Recorder) OnInstallComplete(success bool, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, Completion{Success: success, Message: message})
}

// Logs returns a copy of the recorded log entries.
func (r *Recorder) Logs() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.logs...)
}

// Messages returns recorded log messages at the given levels (all when none given).
func (r *Recorder) Messages(levels ...observe.Level) []string {
	var out []string
	for _, e := range r.Logs() {
		if len(levels) == 0 || containsLevel(levels, e.Level) {
			out = append(out, e.Message)
		}
	}
	return out
}

// HasLog reports whether any message at level contains substr.
func (r *Recorder) HasLog(level observe.Level, substr string) bool {
	for _, m := range r.Messages(level) {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// Progress returns a copy of the recorded progress values.
func (r *Recorder) Progress() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...)
}

// Completions returns a copy of the recorded completion events.
func (r *Recorder) Completions() []Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Completion(nil), r.completions...)
}

func containsLevel(levels []observe.Level, l observe.Level) bool {
	for _, x := range levels {
		if x == l {
			return true
		}
	}
	return false
}
