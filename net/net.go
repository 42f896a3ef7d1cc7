// Package net contains the address helpers shared by the routing core:
// client address extraction, address family classification and CIDR
// parsing.
package net

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// Family is the address family tag used to select between the IPv4 and
// the IPv6 coverage zone trees.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "ipv6"
	}

	return "ipv4"
}

// FamilyOf classifies an address. IPv4-mapped IPv6 addresses count as
// IPv4.
func FamilyOf(addr netip.Addr) Family {
	if addr.Unmap().Is4() {
		return IPv4
	}

	return IPv6
}

// strip port from addresses with hostname, ipv4 or ipv6
func stripPort(address string) string {
	if h, _, err := net.SplitHostPort(address); err == nil {
		return h
	}

	return address
}

// StripPort returns the host part of a host:port pair, or the input
// when there is no port.
func StripPort(hostport string) string {
	return stripPort(hostport)
}

// RemoteAddr returns the address of the peer of the connection.
func RemoteAddr(r *http.Request) netip.Addr {
	addr, _ := netip.ParseAddr(stripPort(r.RemoteAddr))
	return addr.Unmap()
}

// ClientAddr returns the address of the client. The 'X-Forwarded-For'
// header is used only when the peer is one of the trusted proxies. The
// entries are walked from the last one, and the first address that is
// not a trusted proxy is the client. Unparseable entries stop the walk.
//
// Example:
//
//	X-Forwarded-For: spoofed, client, proxy1
func ClientAddr(r *http.Request, trusted *netipx.IPSet) netip.Addr {
	addr := RemoteAddr(r)
	if trusted == nil || !trusted.Contains(addr) {
		return addr
	}

	ffs := r.Header.Values("X-Forwarded-For")
	for i := len(ffs) - 1; i >= 0; i-- {
		hops := strings.Split(ffs[i], ",")
		for j := len(hops) - 1; j >= 0; j-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(stripPort(strings.TrimSpace(hops[j]))))
			if err != nil {
				return addr
			}

			addr = hop.Unmap()
			if !trusted.Contains(addr) {
				return addr
			}
		}
	}

	return addr
}

// ParsePrefix parses a CIDR. A bare address is accepted as a host
// prefix. The returned prefix is masked.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid address %q: %w", s, err)
		}

		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}

	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid cidr %q: %w", s, err)
	}

	if p.Addr().Is4In6() {
		bits := p.Bits() - 96
		if bits < 0 {
			return netip.Prefix{}, fmt.Errorf("invalid cidr %q: mapped prefix too short", s)
		}

		p = netip.PrefixFrom(p.Addr().Unmap(), bits)
	}

	return p.Masked(), nil
}

// ParseIPCIDRs returns a valid IPSet even in case there are parsing
// errors of some partial provided input cidrs. So recently added
// bogus values can be logged and ignored at runtime.
func ParseIPCIDRs(cidrs []string) (*netipx.IPSet, error) {
	var (
		b   netipx.IPSetBuilder
		err error
	)

	for _, w := range cidrs {
		if p, e := ParsePrefix(w); e != nil {
			err = e
		} else {
			b.AddPrefix(p)
		}
	}

	ips, e := b.IPSet()
	if e != nil {
		return ips, e
	}

	return ips, err
}

// Contains reports whether outer covers the whole range of inner.
func Contains(outer, inner netip.Prefix) bool {
	return outer.Bits() <= inner.Bits() && outer.Contains(inner.Addr())
}

// Range returns the first and the last address of a prefix.
func Range(p netip.Prefix) (netip.Addr, netip.Addr) {
	r := netipx.RangeOfPrefix(p)
	return r.From(), r.To()
}
