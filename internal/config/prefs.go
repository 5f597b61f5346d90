package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/catflash/catflash/internal/selector"
	"github.com/catflash/catflash/internal/validate"
)

// Preference files kept in the sketch directory. Each holds one bare
// token, except the skip list which holds one token per line.
const (
	RelayPreferenceFile = "relay_preference.txt"
	BoardPreferenceFile = "board_preference.txt"
	SkipLibrariesFile   = "skip_problematic_libs.txt"
)

// Prefs reads and writes the plain-text preference files in Dir.
type Prefs struct {
	Dir string
}

// RelayPreference returns the stored relay role, or PreferUnset when the
// file does not exist.
func (p Prefs) RelayPreference() (selector.Preference, error) {
	raw, err := p.read(RelayPreferenceFile)
	if err != nil {
		return selector.PreferUnset, err
	}
	pref, err := selector.ParsePreference(raw)
	if err != nil {
		return selector.PreferUnset, fmt.Errorf("config: %s: %w", RelayPreferenceFile, err)
	}
	return pref, nil
}

// SetRelayPreference stores pref. PreferUnset removes the file.
func (p Prefs) SetRelayPreference(pref selector.Preference) error {
	if pref == selector.PreferUnset {
		return p.remove(RelayPreferenceFile)
	}
	if _, err := selector.ParsePreference(string(pref)); err != nil {
		return err
	}
	return p.write(RelayPreferenceFile, string(pref))
}

// BoardPreference returns the stored FQBN, or "" when none is stored.
func (p Prefs) BoardPreference() (string, error) {
	raw, err := p.read(BoardPreferenceFile)
	if err != nil || raw == "" {
		return "", err
	}
	if err := validate.FQBN(raw); err != nil {
		return "", fmt.Errorf("config: %s: %w", BoardPreferenceFile, err)
	}
	return raw, nil
}

// SetBoardPreference stores fqbn. An empty value removes the file.
func (p Prefs) SetBoardPreference(fqbn string) error {
	fqbn = strings.TrimSpace(fqbn)
	if fqbn == "" {
		return p.remove(BoardPreferenceFile)
	}
	if err := validate.FQBN(fqbn); err != nil {
		return err
	}
	return p.write(BoardPreferenceFile, fqbn)
}

// SkipLibraries returns the extra header tokens to exclude, in file order.
// Blank lines are ignored.
func (p Prefs) SkipLibraries() ([]string, error) {
	raw, err := p.read(SkipLibrariesFile)
	if err != nil || raw == "" {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// SetSkipLibraries replaces the skip list.
func (p Prefs) SetSkipLibraries(tokens []string) error {
	var lines []string
	for _, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			lines = append(lines, tok)
		}
	}
	if len(lines) == 0 {
		return p.remove(SkipLibrariesFile)
	}
	return p.write(SkipLibrariesFile, strings.Join(lines, "\n")+"\n")
}

func (p Prefs) read(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(p.Dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: read %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (p Prefs) write(name, value string) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", p.Dir, err)
	}
	if err := os.WriteFile(filepath.Join(p.Dir, name), []byte(value), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", name, err)
	}
	return nil
}

func (p Prefs) remove(name string) error {
	err := os.Remove(filepath.Join(p.Dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: remove %s: %w", name, err)
	}
	return nil
}
