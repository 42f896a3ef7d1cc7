package net

import (
	"net/http"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/netipx"
)

func TestRemoteAddr(t *testing.T) {
	for _, tt := range []struct {
		name   string
		input  string
		want   netip.Addr
		fwdHdr string
	}{
		{"no header", "127.0.0.1", netip.MustParseAddr("127.0.0.1"), ""},
		{"no header with port", "127.0.0.1:8080", netip.MustParseAddr("127.0.0.1"), ""},
		{"invalid", "100.200.300.400", netip.Addr{}, ""},
		{"header ignored", "127.0.0.1", netip.MustParseAddr("127.0.0.1"), "172.16.0.1"},
		{"ipv6", "[2001:4860:0:2001::68]:443", netip.MustParseAddr("2001:4860:0:2001::68"), ""},
		{"mapped", "[::ffff:10.0.0.1]:80", netip.MustParseAddr("10.0.0.1"), ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.input, Header: make(http.Header)}
			if tt.fwdHdr != "" {
				r.Header.Set("x-forwarded-for", tt.fwdHdr)
			}

			assert.Equal(t, tt.want, RemoteAddr(r))
		})
	}
}

func TestClientAddr(t *testing.T) {
	trusted, err := ParseIPCIDRs([]string{"10.0.0.0/8", "192.168.1.1"})
	require.NoError(t, err)

	for _, tt := range []struct {
		name    string
		remote  string
		fwdHdr  []string
		trusted bool
		want    string
	}{
		{name: "no trusted proxies", remote: "203.0.113.7:4000", fwdHdr: []string{"10.9.0.1"}, want: "203.0.113.7"},
		{name: "spoofed header from untrusted peer", remote: "203.0.113.7:4000", fwdHdr: []string{"10.9.0.1"}, trusted: true, want: "203.0.113.7"},
		{name: "trusted peer without header", remote: "10.1.1.1:4000", trusted: true, want: "10.1.1.1"},
		{name: "trusted peer", remote: "10.1.1.1:4000", fwdHdr: []string{"198.51.100.3"}, trusted: true, want: "198.51.100.3"},
		{name: "spoofed first entry", remote: "10.1.1.1:4000", fwdHdr: []string{"10.9.0.1, 198.51.100.3"}, trusted: true, want: "198.51.100.3"},
		{name: "proxy chain", remote: "10.1.1.1:4000", fwdHdr: []string{"198.51.100.3, 192.168.1.1, 10.2.2.2"}, trusted: true, want: "198.51.100.3"},
		{name: "multiple headers", remote: "10.1.1.1:4000", fwdHdr: []string{"198.51.100.3", "10.2.2.2"}, trusted: true, want: "198.51.100.3"},
		{name: "only proxies", remote: "10.1.1.1:4000", fwdHdr: []string{"10.2.2.2"}, trusted: true, want: "10.2.2.2"},
		{name: "invalid entry", remote: "10.1.1.1:4000", fwdHdr: []string{"198.51.100.3, garbage"}, trusted: true, want: "10.1.1.1"},
		{name: "ipv6 client", remote: "10.1.1.1:4000", fwdHdr: []string{"2001:db8::1"}, trusted: true, want: "2001:db8::1"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remote, Header: make(http.Header)}
			for _, h := range tt.fwdHdr {
				r.Header.Add("X-Forwarded-For", h)
			}

			var ts *netipx.IPSet
			if tt.trusted {
				ts = trusted
			}

			assert.Equal(t, netip.MustParseAddr(tt.want), ClientAddr(r, ts))
		})
	}
}

func TestFamilyOf(t *testing.T) {
	assert.Equal(t, IPv4, FamilyOf(netip.MustParseAddr("192.0.2.1")))
	assert.Equal(t, IPv4, FamilyOf(netip.MustParseAddr("::ffff:192.0.2.1")))
	assert.Equal(t, IPv6, FamilyOf(netip.MustParseAddr("2001:db8::1")))
	assert.Equal(t, "ipv6", IPv6.String())
}

func TestParsePrefix(t *testing.T) {
	for _, tt := range []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "10.0.0.0/8", want: "10.0.0.0/8"},
		{input: "10.1.2.3/8", want: "10.0.0.0/8"},
		{input: "10.1.2.3", want: "10.1.2.3/32"},
		{input: " 2001:db8::/32 ", want: "2001:db8::/32"},
		{input: "2001:db8::1", want: "2001:db8::1/128"},
		{input: "::ffff:10.0.0.0/104", want: "10.0.0.0/8"},
		{input: "10.0.0.0/33", wantErr: true},
		{input: "foo", wantErr: true},
	} {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePrefix(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestParseIPCIDRs(t *testing.T) {
	set, err := ParseIPCIDRs([]string{"10.0.0.0/8", "bogus", "2001:db8::1"})
	assert.Error(t, err)
	require.NotNil(t, set)

	assert.True(t, set.Contains(netip.MustParseAddr("10.20.30.40")))
	assert.True(t, set.Contains(netip.MustParseAddr("2001:db8::1")))
	assert.False(t, set.Contains(netip.MustParseAddr("11.0.0.1")))
}

func TestContains(t *testing.T) {
	wide := netip.MustParsePrefix("10.0.0.0/8")
	narrow := netip.MustParsePrefix("10.1.0.0/16")

	assert.True(t, Contains(wide, narrow))
	assert.False(t, Contains(narrow, wide))
	assert.True(t, Contains(wide, wide))
	assert.False(t, Contains(wide, netip.MustParsePrefix("11.0.0.0/16")))

	from, to := Range(narrow)
	assert.Equal(t, "10.1.0.0", from.String())
	assert.Equal(t, "10.1.255.255", to.String())
}
