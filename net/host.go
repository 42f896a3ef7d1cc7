package net

import (
	"net"
	"strings"
)

// HostPatch normalizes the host[:port] of a request before the
// delivery service lookup.
type HostPatch struct {
	// RemovePort drops the port.
	RemovePort bool

	// RemoveTrailingDot drops the dot of fully qualified names.
	RemoveTrailingDot bool

	// ToLower converts the host to lowercase.
	ToLower bool
}

func splitHostPort(hostport string) (host, port string) {
	if strings.IndexByte(hostport, ':') < 0 {
		return hostport, ""
	}

	if h, p, err := net.SplitHostPort(hostport); err == nil {
		return h, p
	}

	// bare IPv6 address
	return hostport, ""
}

// Apply returns the patched value.
func (h HostPatch) Apply(hostport string) string {
	host, port := splitHostPort(hostport)
	if h.RemovePort {
		port = ""
	}

	if h.RemoveTrailingDot {
		host = strings.TrimSuffix(host, ".")
	}

	if h.ToLower {
		host = strings.ToLower(host)
	}

	if port == "" {
		return host
	}

	return net.JoinHostPort(host, port)
}
