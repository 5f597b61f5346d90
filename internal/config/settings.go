package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/catflash/catflash/internal/constants"
	"github.com/catflash/catflash/internal/fetch"
	"github.com/catflash/catflash/internal/toolchain"
)

// Default values for the BomberCat target.
const (
	DefaultListenAddr     = "127.0.0.1:8081"
	DefaultFQBN           = "electroniccats:rp2040:bombercat"
	DefaultCoreID         = "rp2040:rp2040"
	DefaultRepoOwner      = "ElectronicCats"
	DefaultRepoName       = "BomberCat"
	DefaultRepoBranch     = "main"
	DefaultFirmwareSubdir = "firmware"
)

// DefaultBoardURLs are the board manager indexes added during bootstrap.
var DefaultBoardURLs = []string{
	"https://github.com/earlephilhower/arduino-pico/releases/download/global/package_rp2040_index.json",
	"https://electroniccats.github.io/Arduino_Boards_Index/package_electroniccats_index.json",
}

// Settings is the resolved runtime configuration. Precedence, highest
// first: command-line flags, CATFLASH_* environment variables, the .env
// file, built-in defaults.
type Settings struct {
	ListenAddr string

	FQBN   string
	CoreID string

	ArduinoCLIPath    string
	ArduinoCLIVersion string
	DownloadBaseURL   string
	BoardURLs         []string

	RepoOwner      string
	RepoName       string
	RepoBranch     string
	GitHubBaseURL  string
	FirmwareSubdir string

	SketchDir    string
	BuildDir     string
	ToolsDir     string
	LibrariesDir string

	// ExampleFallback synthesizes a minimal sketch when no upstream
	// firmware can be used.
	ExampleFallback bool
	LiveOutput      bool

	CompileTimeout time.Duration
	UploadTimeout  time.Duration
}

// DefaultSettings returns the built-in configuration for paths.
func DefaultSettings(paths InstancePaths) Settings {
	return Settings{
		ListenAddr:        DefaultListenAddr,
		FQBN:              DefaultFQBN,
		CoreID:            DefaultCoreID,
		ArduinoCLIVersion: toolchain.DefaultVersion,
		DownloadBaseURL:   toolchain.DefaultDownloadBaseURL,
		BoardURLs:         append([]string(nil), DefaultBoardURLs...),
		RepoOwner:         DefaultRepoOwner,
		RepoName:          DefaultRepoName,
		RepoBranch:        DefaultRepoBranch,
		GitHubBaseURL:     fetch.DefaultGitHubBaseURL,
		FirmwareSubdir:    DefaultFirmwareSubdir,
		SketchDir:         paths.Sketch,
		BuildDir:          paths.Build,
		ToolsDir:          paths.ToolsDir,
		LibrariesDir:      ArduinoLibrariesDir(),
		ExampleFallback:   true,
		CompileTimeout:    constants.ToolchainCompileTimeout,
		UploadTimeout:     constants.ToolchainUploadTimeout,
	}
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadSettings resolves settings from the process environment and the
// instance .env file.
func LoadSettings(paths InstancePaths) (Settings, error) {
	return LoadSettingsFrom(paths, paths.EnvFile, os.LookupEnv)
}

// LoadSettingsFrom resolves settings using lookup for environment values
// and envFile (which may be missing) for file values.
func LoadSettingsFrom(paths InstancePaths, envFile string, lookup LookupFunc) (Settings, error) {
	s := DefaultSettings(paths)

	fileValues := map[string]string{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileValues = values
		case errors.Is(err, fs.ErrNotExist):
		default:
			return s, fmt.Errorf("config: read %s: %w", envFile, err)
		}
	}

	get := func(key string) (string, bool) {
		if lookup != nil {
			if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		v, ok := fileValues[key]
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	path := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = ExpandPath(v)
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			if d <= 0 {
				errs = append(errs, fmt.Errorf("config: %s must be positive", key))
				return
			}
			*dst = d
		}
	}

	str("CATFLASH_LISTEN", &s.ListenAddr)
	str("CATFLASH_FQBN", &s.FQBN)
	str("CATFLASH_CORE", &s.CoreID)
	path("CATFLASH_ARDUINO_CLI", &s.ArduinoCLIPath)
	str("CATFLASH_ARDUINO_CLI_VERSION", &s.ArduinoCLIVersion)
	str("CATFLASH_ARDUINO_CLI_BASE_URL", &s.DownloadBaseURL)
	if v, ok := get("CATFLASH_BOARD_URLS"); ok {
		s.BoardURLs = splitList(v)
	}
	str("CATFLASH_REPO_OWNER", &s.RepoOwner)
	str("CATFLASH_REPO_NAME", &s.RepoName)
	str("CATFLASH_REPO_BRANCH", &s.RepoBranch)
	str("CATFLASH_GITHUB_URL", &s.GitHubBaseURL)
	str("CATFLASH_FIRMWARE_SUBDIR", &s.FirmwareSubdir)
	path("CATFLASH_SKETCH_DIR", &s.SketchDir)
	path("CATFLASH_BUILD_DIR", &s.BuildDir)
	path("CATFLASH_TOOLS_DIR", &s.ToolsDir)
	path("CATFLASH_LIBRARIES_DIR", &s.LibrariesDir)
	boolean("CATFLASH_EXAMPLE_FALLBACK", &s.ExampleFallback)
	boolean("CATFLASH_LIVE_OUTPUT", &s.LiveOutput)
	duration("CATFLASH_COMPILE_TIMEOUT", &s.CompileTimeout)
	duration("CATFLASH_UPLOAD_TIMEOUT", &s.UploadTimeout)

	if err := errors.Join(errs...); err != nil {
		return s, err
	}
	return s, s.Validate()
}

// Validate checks values that would otherwise fail late inside a workflow.
func (s Settings) Validate() error {
	if s.FQBN == "" {
		return errors.New("config: fqbn is required")
	}
	if s.CoreID == "" {
		return errors.New("config: core id is required")
	}
	if s.RepoOwner == "" || s.RepoName == "" {
		return errors.New("config: firmware repository owner and name are required")
	}
	if s.SketchDir == "" || s.BuildDir == "" {
		return errors.New("config: sketch and build directories are required")
	}
	return nil
}

// Toolchain maps the settings onto an arduino-cli configuration.
func (s Settings) Toolchain() toolchain.Config {
	return toolchain.Config{
		Binary:          s.ArduinoCLIPath,
		ToolsDir:        s.ToolsDir,
		Version:         s.ArduinoCLIVersion,
		DownloadBaseURL: s.DownloadBaseURL,
		BoardURLs:       append([]string(nil), s.BoardURLs...),
		CompileTimeout:  s.CompileTimeout,
		UploadTimeout:   s.UploadTimeout,
		LiveOutput:      s.LiveOutput,
	}
}

// Repository returns the firmware source repository.
func (s Settings) Repository() fetch.Repository {
	return fetch.Repository{
		Owner:   s.RepoOwner,
		Name:    s.RepoName,
		Branch:  s.RepoBranch,
		BaseURL: s.GitHubBaseURL,
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
