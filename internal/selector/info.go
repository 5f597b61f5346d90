package selector

import "strings"

// Kind classifies a firmware variant by its role.
type Kind string

const (
	KindHost      Kind = "host"
	KindClient    Kind = "client"
	KindMagstripe Kind = "magstripe"
	KindDetector  Kind = "detector"
	KindUnknown   Kind = "unknown"
)

// Info describes a candidate for status displays.
type Info struct {
	Name        string `json:"name"`
	Type        Kind   `json:"type"`
	Description string `json:"description,omitempty"`
}

var kinds = []struct {
	token string
	kind  Kind
	desc  string
}{
	{hostPattern, KindHost, "HOST device - connects to NFC reader"},
	{clientPattern, KindClient, "CLIENT device - emulates NFC card"},
	{"magspoof", KindMagstripe, "Magnetic stripe emulator"},
	{"detecttags", KindDetector, "NFC tag detector"},
}

// Describe classifies c by its variant name.
func Describe(c Candidate) Info {
	lower := strings.ToLower(c.Variant)
	for _, k := range kinds {
		if strings.Contains(lower, k.token) {
			return Info{Name: c.Variant, Type: k.kind, Description: k.desc}
		}
	}
	return Info{Name: c.Variant, Type: KindUnknown}
}

// DescribeAll maps Describe over candidates.
func DescribeAll(candidates []Candidate) []Info {
	out := make([]Info, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Describe(c))
	}
	return out
}
