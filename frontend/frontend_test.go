package frontend_test

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/frontend"
	trnet "github.com/zalando/trafficrouter/net"
	"github.com/zalando/trafficrouter/net/dnstest"
	"github.com/zalando/trafficrouter/router"
	"github.com/zalando/trafficrouter/stats"
)

const waitTimeout = 3 * time.Second

type testRouter struct {
	httpRequests chan *router.HTTPRequest
	dnsRequests  chan *router.DNSRequest
	httpResult   func(*stats.Track) *router.HTTPResult
	dnsResult    func(*stats.Track) *router.DNSResult
}

func newTestRouter() *testRouter {
	return &testRouter{
		httpRequests: make(chan *router.HTTPRequest, 1),
		dnsRequests:  make(chan *router.DNSRequest, 1),
	}
}

func (r *testRouter) RouteHTTP(_ context.Context, req *router.HTTPRequest, t *stats.Track) *router.HTTPResult {
	r.httpRequests <- req
	return r.httpResult(t)
}

func (r *testRouter) RouteDNS(_ context.Context, req *router.DNSRequest, t *stats.Track) *router.DNSResult {
	r.dnsRequests <- req
	return r.dnsResult(t)
}

func newTracker() (*stats.Tracker, <-chan *stats.Track) {
	saved := make(chan *stats.Track, 1)
	return stats.NewTracker(stats.Options{
		Observers: []stats.Observer{stats.ObserverFunc(func(t *stats.Track) { saved <- t })},
	}), saved
}

func receive[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timeout")
		var zero T
		return zero
	}
}

func redirect(urls ...string) func(*stats.Track) *router.HTTPResult {
	return func(t *stats.Track) *router.HTTPResult {
		t.SetResult(stats.ResultCZ, stats.DetailsNone)
		return &router.HTTPResult{URLs: urls}
	}
}

func TestHTTPRedirect(t *testing.T) {
	rt := newTestRouter()
	rt.httpResult = redirect("http://b1.video.example.org/movie%20one.mp4?start=1")
	tracker, saved := newTracker()
	h := frontend.NewHTTPHandler(frontend.HTTPOptions{Router: rt, Tracker: tracker})

	r := httptest.NewRequest("GET", "http://Video.Example.org.:8080/movie%20one.mp4?start=1", nil)
	r.RemoteAddr = "10.1.2.3:41234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://b1.video.example.org/movie%20one.mp4?start=1", w.Header().Get("Location"))

	req := receive(t, rt.httpRequests)
	assert.Equal(t, "video.example.org", req.Host)
	assert.Equal(t, "/movie%20one.mp4", req.Path)
	assert.Equal(t, "start=1", req.Query)
	assert.Equal(t, netip.MustParseAddr("10.1.2.3"), req.Client)
	assert.False(t, req.Secure)

	track := receive(t, saved)
	assert.Equal(t, stats.HTTP, track.RouteType)
	assert.Equal(t, stats.ResultCZ, track.Result)
	assert.Equal(t, http.StatusFound, track.Status)
	assert.Equal(t, "http://b1.video.example.org/movie%20one.mp4?start=1", track.Response)
	assert.False(t, track.Finish.IsZero())
}

func TestHTTPClientAddress(t *testing.T) {
	for _, tt := range []struct {
		name       string
		remoteAddr string
		xff        string
		trusted    bool
		expected   string
	}{
		{name: "remote address", remoteAddr: "10.1.2.3:41234", expected: "10.1.2.3"},
		{name: "ipv6 remote address", remoteAddr: "[2001:db8::7]:41234", expected: "2001:db8::7"},
		{name: "forwarded header ignored", remoteAddr: "192.0.2.10:41234", xff: "10.2.0.1", expected: "192.0.2.10"},
		{name: "forwarded by a trusted proxy", remoteAddr: "192.0.2.10:41234", xff: "10.2.0.1, 192.0.2.11", trusted: true, expected: "10.2.0.1"},
		{name: "forwarded by an untrusted peer", remoteAddr: "198.51.100.1:41234", xff: "10.2.0.1", trusted: true, expected: "198.51.100.1"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRouter()
			rt.httpResult = redirect("http://b1.video.example.org/")
			o := frontend.HTTPOptions{Router: rt}
			if tt.trusted {
				proxies, err := trnet.ParseIPCIDRs([]string{"192.0.2.0/24"})
				require.NoError(t, err)
				o.TrustedProxies = proxies
			}

			h := frontend.NewHTTPHandler(o)

			r := httptest.NewRequest("GET", "http://video.example.org/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			h.ServeHTTP(httptest.NewRecorder(), r)
			req := receive(t, rt.httpRequests)
			assert.Equal(t, netip.MustParseAddr(tt.expected), req.Client)
		})
	}
}

func TestHTTPSecure(t *testing.T) {
	rt := newTestRouter()
	rt.httpResult = redirect("https://b1.video.example.org/")
	h := frontend.NewHTTPHandler(frontend.HTTPOptions{Router: rt})

	r := httptest.NewRequest("GET", "https://video.example.org/", nil)
	r.TLS = &tls.ConnectionState{}
	h.ServeHTTP(httptest.NewRecorder(), r)

	req := receive(t, rt.httpRequests)
	assert.True(t, req.Secure)
}

func TestHTTPClientSteering(t *testing.T) {
	urls := []string{
		"http://h1.video.example.org/x",
		"http://h1.limited.example.org/x",
	}

	rt := newTestRouter()
	rt.httpResult = redirect(urls...)
	tracker, saved := newTracker()
	h := frontend.NewHTTPHandler(frontend.HTTPOptions{Router: rt, Tracker: tracker})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "http://client.example.org/x", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body struct {
		Locations []string `json:"locations"`
	}

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, urls, body.Locations)

	track := receive(t, saved)
	assert.Equal(t, http.StatusOK, track.Status)
	assert.Equal(t, "http://h1.video.example.org/x http://h1.limited.example.org/x", track.Response)
}

func TestHTTPNotRouted(t *testing.T) {
	for _, tt := range []struct {
		name          string
		status        int
		defaultStatus int
		expected      int
	}{
		{name: "default", expected: http.StatusServiceUnavailable},
		{name: "configured default", defaultStatus: http.StatusNotFound, expected: http.StatusNotFound},
		{name: "regional geo deny", status: 520, defaultStatus: http.StatusNotFound, expected: 520},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRouter()
			rt.httpResult = func(t *stats.Track) *router.HTTPResult {
				t.SetResult(stats.ResultMiss, stats.DetailsDSNoBypass)
				return &router.HTTPResult{Status: tt.status}
			}

			tracker, saved := newTracker()
			h := frontend.NewHTTPHandler(frontend.HTTPOptions{Router: rt, Tracker: tracker, DefaultHTTPStatus: tt.defaultStatus})

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest("GET", "http://video.example.org/", nil))
			assert.Equal(t, tt.expected, w.Code)
			assert.Empty(t, w.Header().Get("Location"))

			track := receive(t, saved)
			assert.Equal(t, tt.expected, track.Status)
			assert.Empty(t, track.Response)
		})
	}
}

func liveDeliveryService() *deliveryservice.DeliveryService {
	return &deliveryservice.DeliveryService{ID: "live", Type: deliveryservice.DNS}
}

func serveDNS(t *testing.T, rt *testRouter) (string, <-chan *stats.Track) {
	tracker, saved := newTracker()
	h := frontend.NewDNSHandler(frontend.DNSOptions{Router: rt, Tracker: tracker})
	return dnstest.Serve(t, h), saved
}

func query(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	return m
}

func TestDNSAnswer(t *testing.T) {
	rt := newTestRouter()
	rt.dnsResult = func(t *stats.Track) *router.DNSResult {
		t.SetResult(stats.ResultCZ, stats.DetailsNone)
		return &router.DNSResult{
			DeliveryService: liveDeliveryService(),
			Records: []deliveryservice.InetRecord{
				{Addr: netip.MustParseAddr("192.0.2.1"), TTL: 30},
				{Addr: netip.MustParseAddr("192.0.2.2"), TTL: 30},
			},
		}
	}

	addr, saved := serveDNS(t, rt)
	rsp := dnstest.Exchange(t, addr, query("edge.live.example.org", dns.TypeA))

	assert.Equal(t, dns.RcodeSuccess, rsp.Rcode)
	assert.True(t, rsp.Authoritative)
	require.Len(t, rsp.Answer, 2)
	a, ok := rsp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "edge.live.example.org.", a.Hdr.Name)
	assert.Equal(t, uint32(30), a.Hdr.Ttl)
	assert.True(t, a.A.Equal(net.ParseIP("192.0.2.1")))

	req := receive(t, rt.dnsRequests)
	assert.Equal(t, "edge.live.example.org.", req.Name)
	assert.Equal(t, dns.TypeA, req.Qtype)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), req.Client)

	track := receive(t, saved)
	assert.Equal(t, stats.DNS, track.RouteType)
	assert.Equal(t, dns.RcodeSuccess, track.Status)
	assert.Equal(t, "192.0.2.1 30 192.0.2.2 30", track.Response)
}

func TestDNSCNAMEAnswer(t *testing.T) {
	rt := newTestRouter()
	rt.dnsResult = func(t *stats.Track) *router.DNSResult {
		t.SetResult(stats.ResultDSRedirect, stats.DetailsDSBypass)
		return &router.DNSResult{
			DeliveryService: liveDeliveryService(),
			Records:         []deliveryservice.InetRecord{{CNAME: "bypass.example.net", TTL: 45}},
		}
	}

	addr, _ := serveDNS(t, rt)
	rsp := dnstest.Exchange(t, addr, query("edge.live.example.org", dns.TypeA))

	require.Len(t, rsp.Answer, 1)
	cname, ok := rsp.Answer[0].(*dns.CNAME)
	require.True(t, ok)
	assert.Equal(t, "bypass.example.net.", cname.Target)
	assert.Equal(t, uint32(45), cname.Hdr.Ttl)
}

func TestDNSRcodes(t *testing.T) {
	for _, tt := range []struct {
		name   string
		result func(*stats.Track) *router.DNSResult
		rcode  int
	}{{
		name: "unknown name",
		result: func(t *stats.Track) *router.DNSResult {
			t.SetResult(stats.ResultStaticRoute, stats.DetailsDSNotFound)
			return &router.DNSResult{}
		},
		rcode: dns.RcodeNameError,
	}, {
		name: "routing error",
		result: func(t *stats.Track) *router.DNSResult {
			t.SetResult(stats.ResultError, stats.DetailsNone)
			return &router.DNSResult{}
		},
		rcode: dns.RcodeServerFailure,
	}, {
		name: "no answer",
		result: func(t *stats.Track) *router.DNSResult {
			t.SetResult(stats.ResultMiss, stats.DetailsDSCZOnly)
			return &router.DNSResult{DeliveryService: liveDeliveryService()}
		},
		rcode: dns.RcodeSuccess,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRouter()
			rt.dnsResult = tt.result

			addr, saved := serveDNS(t, rt)
			rsp := dnstest.Exchange(t, addr, query("www.example.org", dns.TypeA))
			assert.Equal(t, tt.rcode, rsp.Rcode)
			assert.Empty(t, rsp.Answer)

			track := receive(t, saved)
			assert.Equal(t, tt.rcode, track.Status)
		})
	}
}

func TestDNSClientSubnet(t *testing.T) {
	rt := newTestRouter()
	rt.dnsResult = func(t *stats.Track) *router.DNSResult {
		return &router.DNSResult{DeliveryService: liveDeliveryService()}
	}

	addr, _ := serveDNS(t, rt)

	m := query("edge.live.example.org", dns.TypeA)
	m.SetEdns0(4096, false)
	opt := m.IsEdns0()
	opt.Option = append(opt.Option, &dns.EDNS0_SUBNET{
		Code:          dns.EDNS0SUBNET,
		Family:        1,
		SourceNetmask: 24,
		Address:       net.ParseIP("10.1.2.0").To4(),
	})

	dnstest.Exchange(t, addr, m)
	req := receive(t, rt.dnsRequests)
	assert.Equal(t, netip.MustParseAddr("10.1.2.0"), req.Client)
}

func TestDNSNotImplemented(t *testing.T) {
	rt := newTestRouter()
	addr, saved := serveDNS(t, rt)

	m := query("edge.live.example.org", dns.TypeA)
	m.Opcode = dns.OpcodeNotify
	rsp := dnstest.Exchange(t, addr, m)
	assert.Equal(t, dns.RcodeNotImplemented, rsp.Rcode)

	track := receive(t, saved)
	assert.Equal(t, dns.RcodeNotImplemented, track.Status)
	assert.Empty(t, rt.dnsRequests)
}
