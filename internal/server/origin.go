package server

import (
	"net"
	"net/url"
	"slices"
	"strings"
)

// isLoopbackOrigin reports whether u is a plain-http origin on this machine,
// which is where the bundled web UI is served from.
func isLoopbackOrigin(u *url.URL) bool {
	if u == nil || u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// originAllowed accepts loopback origins and any origin listed in extra.
// Listed entries are compared as scheme://host[:port].
func originAllowed(origin string, extra []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return isLoopbackOrigin(u) || slices.Contains(extra, u.Scheme+"://"+u.Host)
}
