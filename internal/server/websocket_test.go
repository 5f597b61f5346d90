package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catflash/catflash/internal/eventbus"
	"github.com/catflash/catflash/internal/orchestrator"
)

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialWS(t *testing.T, srv *APIServer, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocketGreetsClient(t *testing.T) {
	srv := startTestAPIServer(t, &fakeFlows{}, nil)
	conn := dialWS(t, srv, nil)

	msg := readUntil(t, conn, MessageConnected)
	assert.Contains(t, string(msg.Data), "Connected")
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketReportsRunningInstallOnConnect(t *testing.T) {
	flows := &fakeFlows{state: orchestrator.InstallState{InProgress: true}}
	srv := startTestAPIServer(t, flows, nil)
	conn := dialWS(t, srv, nil)

	msg := readUntil(t, conn, MessageInstallationStatus)
	var data CompletionData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.True(t, data.InProgress)
	assert.False(t, data.Success)
}

func TestWebSocketAnswersPing(t *testing.T) {
	srv := startTestAPIServer(t, &fakeFlows{}, nil)
	conn := dialWS(t, srv, nil)
	readUntil(t, conn, MessageConnected)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readUntil(t, conn, MessagePong)
}

func TestWebSocketForwardsBusEvents(t *testing.T) {
	bus := eventbus.New(eventbus.WithLogger(log.New(io.Discard, "", 0)))
	t.Cleanup(bus.Shutdown)

	srv := startTestAPIServer(t, &fakeFlows{}, bus)
	conn := dialWS(t, srv, nil)
	readUntil(t, conn, MessageConnected)
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	eventbus.Publish(ctx, bus, eventbus.Flash.Log, eventbus.SourceOrchestrator, eventbus.LogEvent{Message: "Compiling firmware...", Level: eventbus.LogLevelInfo})
	eventbus.Publish(ctx, bus, eventbus.Flash.Progress, eventbus.SourceOrchestrator, eventbus.ProgressEvent{Percent: 75})
	eventbus.Publish(ctx, bus, eventbus.Flash.InstallComplete, eventbus.SourceOrchestrator, eventbus.InstallCompleteEvent{Success: true, Message: "ok"})

	var logData FlashLogData
	require.NoError(t, json.Unmarshal(readUntil(t, conn, MessageFlashLog).Data, &logData))
	assert.Equal(t, "Compiling firmware...", logData.Message)
	assert.Equal(t, "info", logData.Level)
	assert.NotEmpty(t, logData.Timestamp)

	var progress ProgressData
	require.NoError(t, json.Unmarshal(readUntil(t, conn, MessageFlashProgress).Data, &progress))
	assert.Equal(t, 75, progress.Progress)

	var done CompletionData
	require.NoError(t, json.Unmarshal(readUntil(t, conn, MessageInstallationComplete).Data, &done))
	assert.True(t, done.Success)
	assert.Equal(t, "ok", done.Message)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := startTestAPIServer(t, &fakeFlows{}, nil)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketAcceptsLocalOrigin(t *testing.T) {
	srv := startTestAPIServer(t, &fakeFlows{}, nil)
	port := srv.Addr()[strings.LastIndex(srv.Addr(), ":"):]

	conn := dialWS(t, srv, http.Header{"Origin": []string{"http://localhost" + port}})
	readUntil(t, conn, MessageConnected)
}

func TestShutdownClosesClients(t *testing.T) {
	srv, err := NewAPIServer(&fakeFlows{root: t.TempDir()}, nil, Options{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	conn := dialWS(t, srv, nil)
	readUntil(t, conn, MessageConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.NoError(t, srv.Shutdown(ctx))
}
