package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// FQBNRe matches a fully qualified board name: vendor:arch:board with an
// optional fourth segment of comma-separated key=value board options.
var FQBNRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+:[A-Za-z0-9_.-]+:[A-Za-z0-9_.-]+(:[A-Za-z0-9_.=,-]+)?$`)

// MaxArgLen bounds free-form values that end up on a toolchain command line.
const MaxArgLen = 256

// HTTPURL ensures the URL uses http or https scheme and has a non-empty host.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}

// FQBN validates a board identifier such as "rp2040:rp2040:rpipico".
func FQBN(s string) error {
	if !FQBNRe.MatchString(s) {
		return fmt.Errorf("invalid board identifier %q (want vendor:arch:board)", s)
	}
	return nil
}

// Arg validates a free-form value passed as a single toolchain argument
// (serial port, library name, platform id). It rejects values that could be
// mistaken for a flag or that carry control characters.
func Arg(kind, s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is empty", kind)
	}
	if len(s) > MaxArgLen {
		return fmt.Errorf("%s too long (%d bytes)", kind, len(s))
	}
	if strings.HasPrefix(s, "-") {
		return fmt.Errorf("%s %q must not start with '-'", kind, s)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s %q contains control characters", kind, s)
		}
	}
	return nil
}
