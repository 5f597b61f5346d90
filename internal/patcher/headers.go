package patcher

import "strings"

// DefaultIncompatible lists headers that tie a sketch to the mbed storage
// and RTOS APIs.
var DefaultIncompatible = []string{
	"FlashIAPBlockDevice.h",
	"TDBStore.h",
	"KVStore.h",
	"mbed.h",
	"rtos.h",
	"mbed_events.h",
}

// HeaderSet is an ordered set of header tokens that must not survive as
// active includes. Two tokens are the same member when they are equal
// ignoring case and a trailing ".h".
type HeaderSet struct {
	tokens []string
	keys   map[string]struct{}
}

// NewHeaderSet builds a set from tokens, dropping blanks and duplicates.
func NewHeaderSet(tokens ...string) *HeaderSet {
	s := &HeaderSet{keys: make(map[string]struct{})}
	s.Merge(tokens...)
	return s
}

// DefaultHeaderSet returns a set holding DefaultIncompatible.
func DefaultHeaderSet() *HeaderSet {
	return NewHeaderSet(DefaultIncompatible...)
}

func normalizeHeader(token string) string {
	t := strings.ToLower(strings.TrimSpace(token))
	return strings.TrimSuffix(t, ".h")
}

// Merge adds tokens that are not yet members and returns how many were
// added. The first spelling of a member is kept.
func (s *HeaderSet) Merge(tokens ...string) int {
	if s.keys == nil {
		s.keys = make(map[string]struct{})
	}
	added := 0
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		key := normalizeHeader(tok)
		if key == "" {
			continue
		}
		if _, ok := s.keys[key]; ok {
			continue
		}
		s.keys[key] = struct{}{}
		s.tokens = append(s.tokens, tok)
		added++
	}
	return added
}

// Tokens returns the members in insertion order.
func (s *HeaderSet) Tokens() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.tokens...)
}

func (s *HeaderSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.tokens)
}

// Contains reports membership under the set's normalisation.
func (s *HeaderSet) Contains(token string) bool {
	if s == nil {
		return false
	}
	_, ok := s.keys[normalizeHeader(token)]
	return ok
}

// Matches reports whether an include of header, written as line,
// references a member: either the header equals a member or the line
// contains one verbatim.
func (s *HeaderSet) Matches(header, line string) bool {
	if s == nil {
		return false
	}
	if s.Contains(header) {
		return true
	}
	for _, tok := range s.tokens {
		if strings.Contains(line, tok) {
			return true
		}
	}
	return false
}
