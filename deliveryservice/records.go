package deliveryservice

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// InetRecord is a DNS answer of the router: an address or a CNAME
// target, with its TTL.
type InetRecord struct {
	Addr  netip.Addr
	CNAME string
	TTL   uint32
}

// IsCNAME reports whether the record is a CNAME.
func (r InetRecord) IsCNAME() bool {
	return r.CNAME != ""
}

func (r InetRecord) String() string {
	if r.IsCNAME() {
		return fmt.Sprintf("CNAME %s %d", r.CNAME, r.TTL)
	}

	return fmt.Sprintf("%s %d", r.Addr, r.TTL)
}

// RR converts the record into an answer record owned by name.
func (r InetRecord) RR(name string) dns.RR {
	hdr := func(t uint16) dns.RR_Header {
		return dns.RR_Header{Name: dns.Fqdn(name), Rrtype: t, Class: dns.ClassINET, Ttl: r.TTL}
	}

	switch {
	case r.IsCNAME():
		return &dns.CNAME{Hdr: hdr(dns.TypeCNAME), Target: dns.Fqdn(r.CNAME)}
	case r.Addr.Is4():
		return &dns.A{Hdr: hdr(dns.TypeA), A: r.Addr.AsSlice()}
	default:
		return &dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: r.Addr.AsSlice()}
	}
}

// Qtype returns the query type the record answers.
func (r InetRecord) Qtype() uint16 {
	switch {
	case r.IsCNAME():
		return dns.TypeCNAME
	case r.Addr.Is4():
		return dns.TypeA
	default:
		return dns.TypeAAAA
	}
}

// DNSBypassConfig is the configured DNS bypass destination.
type DNSBypassConfig struct {
	IP    string
	IP6   string
	CNAME string
	TTL   *uint32
}

// BuildDNSBypass computes the bypass records. Addresses take precedence
// over the CNAME, which may not coexist with other records.
func BuildDNSBypass(c DNSBypassConfig) ([]InetRecord, error) {
	if c.TTL == nil {
		return nil, errors.New("dns bypass without ttl")
	}

	ttl := *c.TTL
	var records []InetRecord
	if c.IP != "" || c.IP6 != "" {
		if c.IP != "" {
			addr, err := netip.ParseAddr(c.IP)
			if err != nil {
				return nil, fmt.Errorf("invalid dns bypass ip: %w", err)
			}

			records = append(records, InetRecord{Addr: addr.Unmap(), TTL: ttl})
		}

		if c.IP6 != "" {
			ip6, _, _ := strings.Cut(c.IP6, "/")
			addr, err := netip.ParseAddr(ip6)
			if err != nil {
				return nil, fmt.Errorf("invalid dns bypass ip6: %w", err)
			}

			records = append(records, InetRecord{Addr: addr, TTL: ttl})
		}

		return records, nil
	}

	if c.CNAME != "" {
		records = append(records, InetRecord{CNAME: c.CNAME, TTL: ttl})
	}

	return records, nil
}
