package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/catflash/catflash/internal/observability"
	"github.com/catflash/catflash/internal/orchestrator"
	"github.com/catflash/catflash/internal/selector"
	"github.com/catflash/catflash/internal/sketch"
	"github.com/catflash/catflash/internal/toolchain"
	catflashversion "github.com/catflash/catflash/internal/version"
)

const (
	maxRequestBody     = 64 << 10
	detectBoardsBudget = 30 * time.Second
)

// StatusPayload is returned by GET /api/status.
type StatusPayload struct {
	Install    orchestrator.InstallState `json:"install"`
	Flashing   bool                      `json:"flashing"`
	ArduinoCLI bool                      `json:"arduino_cli_installed"`
	Clients    int                       `json:"websocket_clients"`
	Version    string                    `json:"version"`
	Uptime     float64                   `json:"uptime_sec"`
}

// FlashBody is the JSON body of POST /api/flash.
type FlashBody struct {
	Port         string `json:"port"`
	FQBN         string `json:"fqbn,omitempty"`
	FirmwareType string `json:"firmware_type,omitempty"`
	WiFiSSID     string `json:"wifi_ssid"`
	WiFiPassword string `json:"wifi_password"`
	MQTTServer   string `json:"mqtt_server,omitempty"`
	MQTTPort     int    `json:"mqtt_port,omitempty"`
	HostNumber   *int   `json:"host_number,omitempty"`
	CompileOnly  bool   `json:"compile_only,omitempty"`
}

// Request converts the body into a flash request with defaults applied.
func (b FlashBody) Request() orchestrator.FlashRequest {
	params := sketch.Params{
		WiFiSSID:     b.WiFiSSID,
		WiFiPassword: b.WiFiPassword,
		MQTTServer:   b.MQTTServer,
		MQTTPort:     b.MQTTPort,
		HostNumber:   1,
	}
	if params.MQTTServer == "" {
		params.MQTTServer = sketch.DefaultMQTTServer
	}
	if b.HostNumber != nil {
		params.HostNumber = *b.HostNumber
	}
	return orchestrator.FlashRequest{
		Port:        b.Port,
		FQBN:        b.FQBN,
		Firmware:    selector.Preference(b.FirmwareType),
		Params:      params,
		CompileOnly: b.CompileOnly,
	}
}

// BoardPayload is one entry of GET /api/detect_boards.
type BoardPayload struct {
	toolchain.Board
	LikelyBomberCat bool `json:"likely_bombercat"`
}

// FirmwareInfoPayload is returned by GET /api/firmware_info.
type FirmwareInfoPayload struct {
	Root      string          `json:"root"`
	Firmwares []selector.Info `json:"firmwares"`
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	deps := s.flows.CheckDependencies(r.Context())
	writeJSON(w, http.StatusOK, StatusPayload{
		Install:    s.flows.State(),
		Flashing:   s.flows.Flashing(),
		ArduinoCLI: deps.ArduinoCLI,
		Clients:    s.hub.ClientCount(),
		Version:    catflashversion.String(),
		Uptime:     time.Since(s.started).Seconds(),
	})
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catflashversion.Current())
}

func (s *APIServer) handleCheckDependencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.flows.CheckDependencies(r.Context()))
}

func (s *APIServer) handleInstallStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.flows.State())
}

func (s *APIServer) handleInstallDependencies(w http.ResponseWriter, r *http.Request) {
	// The workflow outlives the request.
	_, task, err := s.flows.StartInstall(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, orchestrator.ErrFlashInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, orchestrator.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		log.Printf("[APIServer] install: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeJSON(w, http.StatusOK, StatusResponse{Status: "Installation already in progress"})
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "Installation started", RunID: task.RunID()})
}

func (s *APIServer) handleFlash(w http.ResponseWriter, r *http.Request) {
	var body FlashBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Port == "" || body.WiFiSSID == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	req := body.Request()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.flows.StartFlash(context.WithoutCancel(r.Context()), req)
	switch {
	case errors.Is(err, orchestrator.ErrFlashInProgress), errors.Is(err, orchestrator.ErrInstallInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, orchestrator.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "Flash operation started", RunID: task.RunID()})
}

func (s *APIServer) handleFirmwareInfo(w http.ResponseWriter, r *http.Request) {
	root := s.flows.FirmwareRoot()
	candidates, err := s.firmware.get(root, s.flows.Firmwares)
	if err != nil {
		log.Printf("[APIServer] firmware discovery: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, FirmwareInfoPayload{Root: root, Firmwares: selector.DescribeAll(candidates)})
}

func (s *APIServer) handleDetectBoards(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), detectBoardsBudget)
	defer cancel()

	boards, err := s.flows.DetectBoards(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]BoardPayload, 0, len(boards))
	for _, b := range boards {
		out = append(out, BoardPayload{Board: b, LikelyBomberCat: orchestrator.LikelyBomberCat(b)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ports": out})
}

func (s *APIServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.metrics.Export())
}

func (s *APIServer) workflowSnapshot() observability.WorkflowSnapshot {
	state := s.flows.State()
	return observability.WorkflowSnapshot{
		InstallInProgress: state.InProgress,
		InstallCompleted:  state.Completed,
		InstallFailed:     state.Error,
		Flashing:          s.flows.Flashing(),
		WebSocketClients:  s.hub.ClientCount(),
	}
}
