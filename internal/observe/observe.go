package observe

import (
	"fmt"
	"time"
)

// Level indicates the severity of a log notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Observer receives fire-and-forget notifications from the flashing core.
// Implementations must return quickly; callers never wait for acknowledgement.
type Observer interface {
	OnLog(message string, level Level, at time.Time)
	OnProgress(percent int)
	OnInstallComplete(success bool, message string)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) OnLog(string, Level, time.Time) {}
func (Nop) OnProgress(int)                 {}
func (Nop) OnInstallComplete(bool, string) {}

// OrNop returns obs, or a Nop observer when obs is nil.
func OrNop(obs Observer) Observer {
	if obs == nil {
		return Nop{}
	}
	return obs
}

// Logf formats a message and forwards it to obs with the current time.
func Logf(obs Observer, level Level, format string, args ...any) {
	if obs == nil {
		return
	}
	obs.OnLog(fmt.Sprintf(format, args...), level, time.Now())
}

// Range is a sub-range of an overall 0-100 progress bar.
type Range struct {
	From int
	To   int
}

// At maps done/total into the range. The result never leaves [From, To].
func (r Range) At(done, total int) int {
	if total <= 0 || done >= total {
		return r.To
	}
	if done <= 0 {
		return r.From
	}
	return r.From + done*(r.To-r.From)/total
}

// Multi fans notifications out to several observers in order.
type Multi []Observer

func (m Multi) OnLog(message string, level Level, at time.Time) {
	for _, o := range m {
		if o != nil {
			o.OnLog(message, level, at)
		}
	}
}

func (m Multi) OnProgress(percent int) {
	for _, o := range m {
		if o != nil {
			o.OnProgress(percent)
		}
	}
}

func (m Multi) OnInstallComplete(success bool, message string) {
	for _, o := range m {
		if o != nil {
			o.OnInstallComplete(success, message)
		}
	}
}
