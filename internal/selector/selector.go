package selector

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoFirmwareFound is returned by Select when discovery produced no
// candidates.
var ErrNoFirmwareFound = errors.New("selector: no firmware found")

// Candidate is one buildable firmware variant inside an extracted tree.
type Candidate struct {
	Variant   string `json:"variant"`
	Dir       string `json:"dir"`
	EntryFile string `json:"entry_file"`
}

// Preference is the stored relay-role token.
type Preference string

const (
	PreferUnset   Preference = ""
	PreferHost    Preference = "host"
	PreferClient  Preference = "client"
	PreferAuto    Preference = "auto"
	PreferExample Preference = "example"
	PreferDetect  Preference = "detect"
)

// ParsePreference normalises s and checks it against the known tokens.
func ParsePreference(s string) (Preference, error) {
	p := Preference(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PreferUnset, PreferHost, PreferClient, PreferAuto, PreferExample, PreferDetect:
		return p, nil
	}
	return PreferUnset, fmt.Errorf("selector: unknown preference %q", s)
}

// IsRole reports whether p names one side of the relay pair.
func (p Preference) IsRole() bool {
	return p == PreferHost || p == PreferClient
}

const (
	hostPattern   = "host_relay_nfc"
	clientPattern = "client_relay_nfc"
)

// Priority is the ordered list of variant-name tokens consulted when the
// host/client pair is not both present.
var Priority = []string{
	"host_relay_nfc",
	"client_relay_nfc",
	"DetectTags",
	"BomberCat",
	"Master",
	"MasterReader",
	"Reader",
	"Main",
}

// Rule names the policy step that produced a selection.
type Rule string

const (
	RuleRolePreference Rule = "role_preference"
	RuleRoleDefault    Rule = "role_default"
	RulePriority       Rule = "priority"
	RuleFirst          Rule = "first"
)

// Choice is the selected firmware and the rule that picked it.
type Choice struct {
	Candidate Candidate `json:"candidate"`
	Rule      Rule      `json:"rule"`
}

// Select picks exactly one candidate. When both relay roles are present
// the preference decides, and anything other than client means host.
func Select(candidates []Candidate, pref Preference) (Choice, error) {
	if len(candidates) == 0 {
		return Choice{}, ErrNoFirmwareFound
	}

	host, hasHost := findContaining(candidates, hostPattern)
	client, hasClient := findContaining(candidates, clientPattern)
	if hasHost && hasClient {
		switch pref {
		case PreferClient:
			return Choice{Candidate: client, Rule: RuleRolePreference}, nil
		case PreferHost:
			return Choice{Candidate: host, Rule: RuleRolePreference}, nil
		default:
			return Choice{Candidate: host, Rule: RuleRoleDefault}, nil
		}
	}

	for _, token := range Priority {
		if c, ok := findContaining(candidates, token); ok {
			return Choice{Candidate: c, Rule: RulePriority}, nil
		}
	}
	return Choice{Candidate: candidates[0], Rule: RuleFirst}, nil
}

func findContaining(candidates []Candidate, token string) (Candidate, bool) {
	token = strings.ToLower(token)
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Variant), token) {
			return c, true
		}
	}
	return Candidate{}, false
}
