package observe

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/catflash/catflash/internal/eventbus"
)

// BusObserver publishes notifications on an event bus and mirrors log lines
// to the process logger.
type BusObserver struct {
	bus    *eventbus.Bus
	source eventbus.Source
	// Echo controls whether log lines are also written with log.Printf.
	Echo bool
}

// NewBusObserver returns an observer that publishes on bus as source.
func NewBusObserver(bus *eventbus.Bus, source eventbus.Source) *BusObserver {
	return &BusObserver{bus: bus, source: source, Echo: true}
}

func (o *BusObserver) OnLog(message string, level Level, at time.Time) {
	if o.Echo {
		log.Printf("[%s] %s", strings.ToUpper(string(level)), message)
	}
	eventbus.PublishAt(context.Background(), o.bus, eventbus.Flash.Log, o.source, eventbus.LogEvent{
		Message:   message,
		Level:     eventbus.LogLevel(level),
		Timestamp: at,
	}, at)
}

func (o *BusObserver) OnProgress(percent int) {
	eventbus.Publish(context.Background(), o.bus, eventbus.Flash.Progress, o.source, eventbus.ProgressEvent{Percent: percent})
}

func (o *BusObserver) OnInstallComplete(success bool, message string) {
	eventbus.Publish(context.Background(), o.bus, eventbus.Flash.InstallComplete, o.source, eventbus.InstallCompleteEvent{
		Success: success,
		Message: message,
	})
}
