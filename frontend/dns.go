package frontend

import (
	"context"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/trafficrouter/router"
	"github.com/zalando/trafficrouter/stats"
)

// DNSRouter routes DNS requests.
type DNSRouter interface {
	RouteDNS(context.Context, *router.DNSRequest, *stats.Track) *router.DNSResult
}

// DNSOptions of the DNS handler.
type DNSOptions struct {
	Router  DNSRouter
	Tracker *stats.Tracker
}

// DNSHandler answers DNS queries with the addresses of caches.
type DNSHandler struct {
	router  DNSRouter
	tracker *stats.Tracker
}

// NewDNSHandler creates a DNS handler.
func NewDNSHandler(o DNSOptions) *DNSHandler {
	if o.Tracker == nil {
		o.Tracker = stats.NewTracker(stats.Options{})
	}

	return &DNSHandler{router: o.Router, tracker: o.Tracker}
}

func remoteAddr(w dns.ResponseWriter) netip.Addr {
	if w.RemoteAddr() == nil {
		return netip.Addr{}
	}

	ap, err := netip.ParseAddrPort(w.RemoteAddr().String())
	if err != nil {
		return netip.Addr{}
	}

	return ap.Addr().Unmap()
}

// clientSubnet returns the address of the EDNS client subnet option.
func clientSubnet(r *dns.Msg) (netip.Addr, bool) {
	opt := r.IsEdns0()
	if opt == nil {
		return netip.Addr{}, false
	}

	for _, o := range opt.Option {
		s, ok := o.(*dns.EDNS0_SUBNET)
		if !ok {
			continue
		}

		if addr, ok := netip.AddrFromSlice(s.Address); ok {
			return addr.Unmap(), true
		}
	}

	return netip.Addr{}, false
}

func (h *DNSHandler) reply(w dns.ResponseWriter, m *dns.Msg, t *stats.Track) {
	t.Status = m.Rcode
	if err := w.WriteMsg(m); err != nil {
		log.Errorf("Failed to write the answer for %s: %v", t.FQDN, err)
	}
}

func (h *DNSHandler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	t := h.tracker.NewTrack(stats.DNS)
	defer h.tracker.SaveTrack(t)

	m := new(dns.Msg)
	if r.Opcode != dns.OpcodeQuery {
		m.SetRcode(r, dns.RcodeNotImplemented)
		h.reply(w, m, t)
		return
	}

	if len(r.Question) != 1 {
		m.SetRcode(r, dns.RcodeFormatError)
		h.reply(w, m, t)
		return
	}

	q := r.Question[0]
	client := remoteAddr(w)
	t.ClientAddr = client
	if q.Qclass != dns.ClassINET {
		t.FQDN = strings.TrimSuffix(q.Name, ".")
		m.SetRcode(r, dns.RcodeRefused)
		h.reply(w, m, t)
		return
	}

	if subnet, ok := clientSubnet(r); ok {
		client = subnet
	}

	result := h.router.RouteDNS(context.Background(), &router.DNSRequest{Name: q.Name, Qtype: q.Qtype, Client: client}, t)
	switch {
	case t.Result == stats.ResultError:
		m.SetRcode(r, dns.RcodeServerFailure)
	case result.DeliveryService == nil:
		m.SetRcode(r, dns.RcodeNameError)
	default:
		m.SetReply(r)
	}

	m.Authoritative = true
	answers := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		m.Answer = append(m.Answer, rec.RR(q.Name))
		answers = append(answers, rec.String())
	}

	t.Response = strings.Join(answers, " ")
	h.reply(w, m, t)
}
