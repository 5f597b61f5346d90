package toolchain

import (
	"fmt"
	"runtime"
	"strings"
)

const (
	// DefaultVersion is the arduino-cli release downloaded when none is found.
	DefaultVersion = "0.35.3"
	// DefaultDownloadBaseURL hosts arduino-cli release archives.
	DefaultDownloadBaseURL = "https://downloads.arduino.cc/arduino-cli"
)

// Release describes the arduino-cli archive for one OS/arch pair.
type Release struct {
	URL        string
	Executable string
}

// ReleaseFor returns the archive URL and executable name for goos/goarch.
func ReleaseFor(baseURL, version, goos, goarch string) (Release, error) {
	if baseURL == "" {
		baseURL = DefaultDownloadBaseURL
	}
	if version == "" {
		version = DefaultVersion
	}
	var platform, ext string
	exe := "arduino-cli"
	switch goos {
	case "windows":
		platform, ext, exe = "Windows_64bit", ".zip", "arduino-cli.exe"
		if goarch == "386" {
			platform = "Windows_32bit"
		}
	case "darwin":
		platform, ext = "macOS_64bit", ".tar.gz"
		if goarch == "arm64" {
			platform = "macOS_ARM64"
		}
	case "linux":
		ext = ".tar.gz"
		switch goarch {
		case "amd64":
			platform = "Linux_64bit"
		case "386":
			platform = "Linux_32bit"
		case "arm64":
			platform = "Linux_ARM64"
		case "arm":
			platform = "Linux_ARMv7"
		default:
			return Release{}, fmt.Errorf("unsupported architecture %s/%s", goos, goarch)
		}
	default:
		return Release{}, fmt.Errorf("unsupported platform %s", goos)
	}
	return Release{
		URL:        fmt.Sprintf("%s/arduino-cli_%s_%s%s", strings.TrimRight(baseURL, "/"), version, platform, ext),
		Executable: exe,
	}, nil
}

// CurrentRelease is ReleaseFor the running platform.
func CurrentRelease(baseURL, version string) (Release, error) {
	return ReleaseFor(baseURL, version, runtime.GOOS, runtime.GOARCH)
}
