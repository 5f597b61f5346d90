package server

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLoopbackOrigin(t *testing.T) {
	cases := map[string]bool{
		"http://localhost":          true,
		"http://LOCALHOST:8081":     true,
		"http://127.0.0.1:51234":    true,
		"http://[::1]:8081":         true,
		"http://localhost/flash":    true,
		"http://localhost.evil.com": false,
		"http://127.0.0.1.evil.com": false,
		"https://localhost":         false,
		"file://localhost":          false,
		"http://192.168.1.20:8081":  false,
	}
	for origin, want := range cases {
		u, err := url.Parse(origin)
		require.NoError(t, err, origin)
		assert.Equal(t, want, isLoopbackOrigin(u), origin)
	}
	assert.False(t, isLoopbackOrigin(nil))
}

func TestOriginAllowedExtraList(t *testing.T) {
	extra := []string{"https://flasher.example.org"}

	assert.True(t, originAllowed("https://flasher.example.org", extra))
	assert.False(t, originAllowed("https://flasher.example.org.evil.com", extra))
	assert.False(t, originAllowed("not a url", extra))
	assert.True(t, originAllowed("http://localhost:3000", nil))
}
