package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	catflashversion "github.com/catflash/catflash/internal/version"
)

// RuntimeInfo describes a running catflashd for local clients.
type RuntimeInfo struct {
	mu        sync.RWMutex
	addr      string
	pid       int
	version   string
	startTime time.Time
}

type runtimeInfoFile struct {
	Addr      string    `json:"addr"`
	PID       int       `json:"pid"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}

func (r *RuntimeInfo) record(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addr = addr
	r.pid = os.Getpid()
	r.version = catflashversion.String()
	r.startTime = time.Now().UTC()
}

// Addr returns the API listen address.
func (r *RuntimeInfo) Addr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr
}

// PID returns the daemon process id.
func (r *RuntimeInfo) PID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pid
}

// Version returns the daemon build version.
func (r *RuntimeInfo) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// StartTime returns when the daemon started serving.
func (r *RuntimeInfo) StartTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startTime
}

// Write stores the runtime info as JSON at path, replacing it atomically.
func (r *RuntimeInfo) Write(path string) error {
	r.mu.RLock()
	data, err := json.MarshalIndent(runtimeInfoFile{
		Addr:      r.addr,
		PID:       r.pid,
		Version:   r.version,
		StartedAt: r.startTime,
	}, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadRuntimeInfo loads the runtime info written by a running daemon.
func ReadRuntimeInfo(path string) (*RuntimeInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f runtimeInfoFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("daemon: parse %s: %w", path, err)
	}
	if f.Addr == "" {
		return nil, errors.New("daemon: runtime info has no address")
	}
	return &RuntimeInfo{addr: f.Addr, pid: f.PID, version: f.Version, startTime: f.StartedAt}, nil
}

// RemoveRuntimeInfo deletes the runtime info file if it exists.
func RemoveRuntimeInfo(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
