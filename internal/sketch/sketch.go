package sketch

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/catflash/catflash/internal/patcher"
	"github.com/catflash/catflash/internal/sanitize"
	"github.com/catflash/catflash/internal/selector"
)

// HeaderName is the generated configuration header.
const HeaderName = "bombercat_config.h"

// ExampleVariant names the synthesized fallback firmware.
const ExampleVariant = "BomberCat"

const includeLine = `#include "` + HeaderName + `"`

//go:embed templates/*
var templatesFS embed.FS

var headerTemplate = template.Must(
	template.New("bombercat_config.h.tmpl").
		Funcs(template.FuncMap{"cstr": sanitize.CString}).
		ParseFS(templatesFS, "templates/bombercat_config.h.tmpl"),
)

// DefaultMQTTPort is used when Params.MQTTPort is zero.
const DefaultMQTTPort = 1883

// DefaultMQTTServer is the public broker offered when none is given.
const DefaultMQTTServer = "broker.hivemq.com"

// Params are the values baked into the configuration header.
type Params struct {
	WiFiSSID     string `json:"wifi_ssid"`
	WiFiPassword string `json:"wifi_password"`
	MQTTServer   string `json:"mqtt_server"`
	MQTTPort     int    `json:"mqtt_port"`
	HostNumber   int    `json:"host_number"`
}

// Validate checks Params and fills the MQTT port default.
func (p *Params) Validate() error {
	if strings.TrimSpace(p.WiFiSSID) == "" {
		return errors.New("sketch: wifi ssid is required")
	}
	if p.MQTTPort == 0 {
		p.MQTTPort = DefaultMQTTPort
	}
	if p.MQTTPort < 1 || p.MQTTPort > 65535 {
		return fmt.Errorf("sketch: mqtt port %d out of range", p.MQTTPort)
	}
	if p.HostNumber < 0 {
		return fmt.Errorf("sketch: host number %d must not be negative", p.HostNumber)
	}
	return nil
}

// RenderHeader returns the configuration header for p.
func RenderHeader(p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := headerTemplate.Execute(&buf, p); err != nil {
		return nil, fmt.Errorf("sketch: render header: %w", err)
	}
	return buf.Bytes(), nil
}

// Result describes a Configure call.
type Result struct {
	HeaderPath      string `json:"header_path"`
	EntryPath       string `json:"entry_path"`
	IncludeInserted bool   `json:"include_inserted"`
}

// Configure writes the header into dir and makes sure the entry file
// includes it. entry may be empty, in which case the first .ino file in
// dir is used.
func Configure(dir, entry string, p Params) (Result, error) {
	data, err := RenderHeader(p)
	if err != nil {
		return Result{}, err
	}
	if entry == "" {
		if entry, err = firstSketch(dir); err != nil {
			return Result{}, err
		}
	}

	res := Result{
		HeaderPath: filepath.Join(dir, HeaderName),
		EntryPath:  filepath.Join(dir, entry),
	}
	if err := os.WriteFile(res.HeaderPath, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("sketch: write header: %w", err)
	}

	inserted, err := ensureInclude(res.EntryPath)
	if err != nil {
		return Result{}, err
	}
	res.IncludeInserted = inserted
	return res, nil
}

func firstSketch(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.ino"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("sketch: no .ino file in %s", dir)
	}
	sort.Strings(matches)
	return filepath.Base(matches[0]), nil
}

func ensureInclude(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("sketch: stat entry: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("sketch: read entry: %w", err)
	}
	content := string(raw)
	if strings.Contains(content, includeLine) {
		return false, nil
	}

	lines := strings.Split(content, "\n")
	pos := patcher.FirstActiveLine(lines)
	line := includeLine
	if strings.HasSuffix(lines[0], "\r") {
		line += "\r"
	}
	lines = append(lines[:pos], append([]string{line}, lines[pos:]...)...)

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("sketch: write entry: %w", err)
	}
	return true, nil
}

// WriteExample creates the fallback firmware under parent and returns it
// as a candidate. An existing example is overwritten.
func WriteExample(parent string) (selector.Candidate, error) {
	dir := filepath.Join(parent, ExampleVariant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return selector.Candidate{}, fmt.Errorf("sketch: create example dir: %w", err)
	}
	src, err := templatesFS.ReadFile("templates/" + ExampleVariant + ".ino")
	if err != nil {
		return selector.Candidate{}, fmt.Errorf("sketch: read example: %w", err)
	}
	entry := ExampleVariant + ".ino"
	if err := os.WriteFile(filepath.Join(dir, entry), src, 0o644); err != nil {
		return selector.Candidate{}, fmt.Errorf("sketch: write example: %w", err)
	}
	return selector.Candidate{Variant: ExampleVariant, Dir: dir, EntryFile: entry}, nil
}
