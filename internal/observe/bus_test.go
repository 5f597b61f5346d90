package observe

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catflash/catflash/internal/eventbus"
)

func TestBusObserverPublishesEachKind(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(log.New(io.Discard, "", 0)))
	logs := eventbus.SubscribeTo(bus, eventbus.Flash.Log)
	progress := eventbus.SubscribeTo(bus, eventbus.Flash.Progress)
	done := eventbus.SubscribeTo(bus, eventbus.Flash.InstallComplete)
	defer logs.Close()
	defer progress.Close()
	defer done.Close()

	obs := NewBusObserver(bus, eventbus.SourceOrchestrator)
	obs.Echo = false

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	obs.OnLog("compiling", LevelWarning, at)
	obs.OnProgress(75)
	obs.OnInstallComplete(true, "ready")

	select {
	case env := <-logs.C():
		assert.Equal(t, "compiling", env.Payload.Message)
		assert.Equal(t, eventbus.LogLevelWarning, env.Payload.Level)
		assert.Equal(t, at, env.Payload.Timestamp)
		assert.Equal(t, eventbus.SourceOrchestrator, env.Source)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no log event")
	}

	select {
	case env := <-progress.C():
		assert.Equal(t, 75, env.Payload.Percent)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no progress event")
	}

	select {
	case env := <-done.C():
		assert.True(t, env.Payload.Success)
		assert.Equal(t, "ready", env.Payload.Message)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no completion event")
	}
}

func TestBusObserverNilBus(t *testing.T) {
	obs := NewBusObserver(nil, eventbus.SourceResolver)
	obs.Echo = false
	assert.NotPanics(t, func() {
		obs.OnLog("x", LevelInfo, time.Now())
		obs.OnProgress(1)
		obs.OnInstallComplete(false, "y")
	})
}
