package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set at link time with -ldflags "-X github.com/catflash/catflash/internal/version.version=...".
var (
	version = "dev"
	commit  = ""
	date    = ""
)

// HeaderName is the HTTP response header carrying the daemon version.
const HeaderName = "X-Catflash-Version"

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// String returns the build version for the current binary.
func String() string {
	return version
}

// Current returns the build information of this binary.
func Current() Info {
	return Info{
		Version:   version,
		Commit:    commit,
		BuildDate: date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Full is the one-line form printed by --version.
func (i Info) Full() string {
	var b strings.Builder
	b.WriteString(FormatVersion(i.Version))
	if i.Commit != "" {
		short := i.Commit
		if len(short) > 12 {
			short = short[:12]
		}
		fmt.Fprintf(&b, " (%s", short)
		if i.BuildDate != "" {
			fmt.Fprintf(&b, ", %s", i.BuildDate)
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, " %s %s", i.GoVersion, i.Platform)
	return b.String()
}

// ForTesting swaps the version string until the returned func is called.
func ForTesting(v string) func() {
	prev := version
	version = v
	return func() { version = prev }
}

// FormatVersion prefixes release versions with "v". Empty and "dev" are
// left alone.
func FormatVersion(v string) string {
	switch {
	case v == "", v == "dev", strings.HasPrefix(v, "v"):
		return v
	default:
		return "v" + v
	}
}

// baseVersion strips the "v" prefix and a trailing git describe
// "-N-gHASH" suffix.
func baseVersion(v string) string {
	v = strings.TrimPrefix(v, "v")
	parts := strings.Split(v, "-")
	if n := len(parts); n >= 3 && strings.HasPrefix(parts[n-1], "g") && isDigits(parts[n-2]) {
		parts = parts[:n-2]
	}
	return strings.Join(parts, "-")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CheckVersionMismatch returns a warning when this build and the version
// reported by catflashd differ. Dev builds and unknown versions never warn.
func CheckVersionMismatch(daemonVersion string) string {
	if version == "" || version == "dev" || daemonVersion == "" || daemonVersion == "dev" {
		return ""
	}
	if baseVersion(version) == baseVersion(daemonVersion) {
		return ""
	}
	return fmt.Sprintf("WARNING: catflash %s is talking to catflashd %s; restart the daemon after upgrading",
		FormatVersion(version), FormatVersion(daemonVersion))
}
