package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/catflash/catflash/internal/client"
	"github.com/catflash/catflash/internal/observe"
	"github.com/catflash/catflash/internal/server"
)

// followDaemon renders catflashd's event stream until more returns false.
func followDaemon(ctx context.Context, c *client.HTTPClient, more func(server.Message) bool) error {
	console := newConsoleObserver(os.Stdout, false)
	defer console.Finish()

	return c.Watch(ctx, func(msg server.Message, data json.RawMessage) bool {
		switch msg.Type {
		case server.MessageFlashLog:
			var d server.FlashLogData
			if json.Unmarshal(data, &d) == nil {
				at, err := time.Parse(time.RFC3339, d.Timestamp)
				if err != nil {
					at = time.Now()
				}
				console.OnLog(d.Message, observe.Level(d.Level), at)
			}
		case server.MessageFlashProgress:
			var d server.ProgressData
			if json.Unmarshal(data, &d) == nil {
				console.OnProgress(d.Progress)
			}
		case server.MessageInstallationComplete:
			var d server.CompletionData
			if json.Unmarshal(data, &d) == nil {
				console.OnInstallComplete(d.Success, d.Message)
			}
		}
		msg.Data = data
		return more(msg)
	})
}

// logMessage extracts the text of a flash_log message.
func logMessage(msg server.Message) (server.FlashLogData, bool) {
	raw, ok := msg.Data.(json.RawMessage)
	if !ok || msg.Type != server.MessageFlashLog {
		return server.FlashLogData{}, false
	}
	var d server.FlashLogData
	if err := json.Unmarshal(raw, &d); err != nil {
		return server.FlashLogData{}, false
	}
	return d, true
}
