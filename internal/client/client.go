package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/catflash/catflash/internal/config"
	"github.com/catflash/catflash/internal/daemon"
	"github.com/catflash/catflash/internal/orchestrator"
	"github.com/catflash/catflash/internal/server"
	catflashversion "github.com/catflash/catflash/internal/version"
)

const (
	defaultHTTPTimeout        = 10 * time.Second
	websocketHandshakeTimeout = 10 * time.Second
	maxErrorBody              = 8 << 10

	// EnvDaemonURL overrides daemon discovery.
	EnvDaemonURL = "CATFLASH_DAEMON_URL"
)

var (
	// ErrDaemonUnavailable is returned when no catflashd address is known.
	ErrDaemonUnavailable = errors.New("catflashd is not running")
	// ErrBusy maps the daemon's 409 responses.
	ErrBusy = errors.New("catflashd is busy")
)

// HTTPClient talks to catflashd's HTTP and websocket API.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	dialer  *websocket.Dialer

	// DaemonVersion is the version header of the last response.
	DaemonVersion string
}

// NewHTTPClient builds a client for baseURL with an optional transport.
func NewHTTPClient(baseURL string, transport http.RoundTripper) *HTTPClient {
	c := &http.Client{Timeout: defaultHTTPTimeout}
	if transport != nil {
		c.Transport = transport
	}
	return &HTTPClient{
		client:  c,
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  &websocket.Dialer{HandshakeTimeout: websocketHandshakeTimeout},
	}
}

// Discover locates a running daemon: CATFLASH_DAEMON_URL first, then the
// runtime file the daemon writes on start.
func Discover(paths config.InstancePaths) (*HTTPClient, error) {
	if raw := strings.TrimSpace(os.Getenv(EnvDaemonURL)); raw != "" {
		return NewHTTPClient(raw, nil), nil
	}
	if !daemon.IsRunning(paths) {
		return nil, ErrDaemonUnavailable
	}
	info, err := daemon.ReadRuntimeInfo(paths.Runtime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	return NewHTTPClient("http://"+info.Addr(), nil), nil
}

// BaseURL returns the daemon base URL.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Status fetches GET /api/status.
func (c *HTTPClient) Status(ctx context.Context) (server.StatusPayload, error) {
	var out server.StatusPayload
	return out, c.do(ctx, http.MethodGet, "/api/status", nil, &out)
}

// CheckDependencies fetches GET /api/check_dependencies.
func (c *HTTPClient) CheckDependencies(ctx context.Context) (orchestrator.DependencyStatus, error) {
	var out orchestrator.DependencyStatus
	return out, c.do(ctx, http.MethodGet, "/api/check_dependencies", nil, &out)
}

// InstallDependencies starts the install workflow on the daemon.
func (c *HTTPClient) InstallDependencies(ctx context.Context) (server.StatusResponse, error) {
	var out server.StatusResponse
	return out, c.do(ctx, http.MethodPost, "/api/install_dependencies", nil, &out)
}

// Flash starts a flash session on the daemon.
func (c *HTTPClient) Flash(ctx context.Context, body server.FlashBody) (server.StatusResponse, error) {
	var out server.StatusResponse
	return out, c.do(ctx, http.MethodPost, "/api/flash", body, &out)
}

// FirmwareInfo fetches GET /api/firmware_info.
func (c *HTTPClient) FirmwareInfo(ctx context.Context) (server.FirmwareInfoPayload, error) {
	var out server.FirmwareInfoPayload
	return out, c.do(ctx, http.MethodGet, "/api/firmware_info", nil, &out)
}

// DetectBoards fetches GET /api/detect_boards.
func (c *HTTPClient) DetectBoards(ctx context.Context) ([]server.BoardPayload, error) {
	var out struct {
		Ports []server.BoardPayload `json:"ports"`
	}
	return out.Ports, c.do(ctx, http.MethodGet, "/api/detect_boards", nil, &out)
}

// VersionWarning compares the last seen daemon version with this build.
func (c *HTTPClient) VersionWarning() string {
	return catflashversion.CheckVersionMismatch(c.DaemonVersion)
}

// Watch streams websocket messages to fn until ctx ends, the connection
// drops, or fn returns false.
func (c *HTTPClient) Watch(ctx context.Context, fn func(server.Message, json.RawMessage) bool) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse daemon url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var raw struct {
			server.Message
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&raw); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !fn(raw.Message, raw.Data) {
			return nil
		}
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v := resp.Header.Get(catflashversion.HeaderName); v != "" {
		c.DaemonVersion = v
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := readAPIError(resp)
		if resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %w", ErrBusy, apiErr)
		}
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(body) == 0 {
		return errors.New(resp.Status)
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload server.ErrorResponse
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
		}
	}
	return errors.New(trimmed)
}
