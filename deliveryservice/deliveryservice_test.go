package deliveryservice

import (
	"net/http"
	"net/netip"
	"regexp"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/trafficrouter/geo"
)

func mustMatcher(t *testing.T, k Kind, pattern, header string) Matcher {
	t.Helper()
	m, err := NewMatcher(k, pattern, header)
	require.NoError(t, err)
	return m
}

func TestMatchers(t *testing.T) {
	req := &Request{
		Host:   "edge.video.example.com",
		Path:   "/movies/1.ts",
		Query:  "token=abc",
		Header: http.Header{"X-Client": []string{"Player/1.0"}},
	}

	for _, tt := range []struct {
		name    string
		kind    Kind
		pattern string
		header  string
		want    bool
	}{
		{"host full match", HostKind, `.*\.video\.example\.com`, "", true},
		{"host case insensitive", HostKind, `.*\.VIDEO\.example\.com`, "", true},
		{"host partial does not match", HostKind, `video`, "", false},
		{"path with query", PathKind, `/movies/.*\?token=.*`, "", true},
		{"path without query part", PathKind, `/movies/[0-9]+\.ts`, "", false},
		{"header", HeaderKind, `player/.*`, "x-client", true},
		{"missing header", HeaderKind, `.*`, "X-Other", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			m := mustMatcher(t, tt.kind, tt.pattern, tt.header)
			assert.Equal(t, tt.kind, m.Kind())
			assert.Equal(t, tt.want, m.Match(req))
		})
	}
}

func TestNewMatcherErrors(t *testing.T) {
	_, err := NewMatcher(HostKind, "(", "")
	assert.Error(t, err)

	_, err = NewMatcher(HeaderKind, ".*", "")
	assert.Error(t, err)

	_, err = NewMatcher(PathKind, "", "")
	assert.Error(t, err)

	_, err = KindFromString("QUERY")
	assert.Error(t, err)

	k, err := KindFromString("header_regexp")
	require.NoError(t, err)
	assert.Equal(t, HeaderKind, k)
}

func TestRegexpsShareCompiled(t *testing.T) {
	c := make(Regexps)
	a, err := c.NewMatcher(HostKind, `.*\.example\.com`, "")
	require.NoError(t, err)
	b, err := c.NewMatcher(PathKind, `.*\.example\.com`, "")
	require.NoError(t, err)

	assert.Same(t, a.(hostMatcher).rx, b.(pathMatcher).rx)
	assert.Len(t, c, 1)
}

func TestMatchSet(t *testing.T) {
	req := &Request{Host: "a.example.com", Path: "/x"}
	host := mustMatcher(t, HostKind, `.*\.example\.com`, "")
	path := mustMatcher(t, PathKind, `/y`, "")

	assert.False(t, MatchSet(nil).Match(req))
	assert.True(t, MatchSet{host}.Match(req))
	assert.False(t, MatchSet{host, path}.Match(req))
}

func TestCompareMatchSets(t *testing.T) {
	a := mustMatcher(t, HostKind, `a\.example\.com`, "")
	b := mustMatcher(t, HostKind, `b\.example\.com`, "")
	p := mustMatcher(t, PathKind, `/live/.*`, "")

	assert.Equal(t, 0, CompareMatchSets(MatchSet{a, p}, MatchSet{p, a}))
	assert.Equal(t, -1, CompareMatchSets(MatchSet{a}, MatchSet{b}))
	assert.Equal(t, 1, CompareMatchSets(MatchSet{b}, MatchSet{a}))
	assert.Equal(t, -1, CompareMatchSets(MatchSet{p, a}, MatchSet{p, b}))

	// "/live/.*" sorts before the host patterns
	assert.Equal(t, -1, CompareMatchSets(MatchSet{a, p}, MatchSet{a}))
}

func newDS(t *testing.T, id string, sets ...[]string) *DeliveryService {
	ds := &DeliveryService{ID: id, Type: HTTP, Available: true, AcceptHTTP: true, AppendQueryString: true}
	for _, s := range sets {
		var ms MatchSet
		for _, p := range s {
			ms = append(ms, mustMatcher(t, HostKind, p, ""))
		}

		ds.MatchSets = append(ds.MatchSets, ms)
	}

	return ds
}

func TestTableLookup(t *testing.T) {
	video := newDS(t, "video", []string{`.*\.video\.example\.com`})
	wide := newDS(t, "wide", []string{`.*\.example\.com`})
	multi := newDS(t, "multi", []string{`nomatch\.org`}, []string{`.*\.live\.example\.org`})
	empty := newDS(t, "empty")

	tbl := NewTable([]*DeliveryService{wide, video, multi, empty})
	assert.Equal(t, 4, tbl.Len())
	assert.Same(t, video, tbl.Get("video"))
	assert.Nil(t, tbl.Get("missing"))

	first := tbl.Lookup(&Request{Host: "edge.video.example.com"})
	require.NotNil(t, first)
	for range 10 {
		again := NewTable([]*DeliveryService{video, empty, multi, wide})
		assert.Same(t, first, again.Lookup(&Request{Host: "edge.video.example.com"}))
	}

	assert.Same(t, multi, tbl.Lookup(&Request{Host: "x.live.example.org"}))
	assert.Same(t, wide, tbl.Lookup(&Request{Host: "x.other.example.com"}))
	assert.Nil(t, tbl.Lookup(&Request{Host: "example.org"}))

	// both match, the lexicographically first unique pattern wins
	assert.Same(t, wide, first)

	var ids []string
	for _, ds := range tbl.All() {
		ids = append(ids, ds.ID)
	}

	assert.Equal(t, []string{"empty", "multi", "video", "wide"}, ids)

	var nilTable *Table
	assert.Nil(t, nilTable.Lookup(&Request{Host: "x"}))
}

func TestTableIdenticalSetsStable(t *testing.T) {
	b := newDS(t, "b", []string{`.*\.example\.com`})
	a := newDS(t, "a", []string{`.*\.example\.com`})

	for range 10 {
		assert.Equal(t, "a", NewTable([]*DeliveryService{b, a}).Lookup(&Request{Host: "x.example.com"}).ID)
		assert.Equal(t, "a", NewTable([]*DeliveryService{a, b}).Lookup(&Request{Host: "x.example.com"}).ID)
	}
}

func TestTableDuplicateIDs(t *testing.T) {
	first := newDS(t, "ds", []string{`a\.com`})
	second := newDS(t, "ds", []string{`b\.com`})
	tbl := NewTable([]*DeliveryService{first, second})
	assert.Equal(t, 1, tbl.Len())
	assert.Nil(t, tbl.Lookup(&Request{Host: "b.com"}))
}

func TestWidenWildcardHost(t *testing.T) {
	p := WidenWildcardHost(`.*\.video\.example\.com`)
	assert.Equal(t, `(.*\.|^)video\.example\.com`, p)
	assert.Equal(t, `video\.example\.com`, WidenWildcardHost(`video\.example\.com`))

	m := mustMatcher(t, HostKind, p, "")
	assert.True(t, m.Match(&Request{Host: "video.example.com"}))
	assert.True(t, m.Match(&Request{Host: "edge.video.example.com"}))
}

func TestSupportLocation(t *testing.T) {
	client := &geo.Geolocation{Latitude: 1, Longitude: 2, CountryCode: "US"}
	miss := geo.New(3, 4)

	ds := &DeliveryService{MissLocation: miss}
	assert.Same(t, client, ds.SupportLocation(client))
	assert.Same(t, miss, ds.SupportLocation(nil))
	assert.True(t, ds.HasValidMissLocation())

	ds.GeoEnabled = []map[string]string{{"countryCode": "de"}, {"countryCode": "us"}}
	assert.Same(t, client, ds.SupportLocation(client))

	ds.GeoEnabled = []map[string]string{{"countryCode": "de"}}
	assert.Nil(t, ds.SupportLocation(client))

	assert.False(t, (&DeliveryService{MissLocation: geo.New(0, 0)}).HasValidMissLocation())
}

func TestLocationsAndCapabilities(t *testing.T) {
	ds := &DeliveryService{
		DisabledLocations:    map[string]struct{}{"loc2": {}},
		RequiredCapabilities: map[string]struct{}{"hdd": {}},
	}

	assert.True(t, ds.IsLocationAvailable("loc1"))
	assert.False(t, ds.IsLocationAvailable("loc2"))
	assert.True(t, ds.HasCapabilities(map[string]struct{}{"hdd": {}, "ram": {}}))
	assert.False(t, ds.HasCapabilities(map[string]struct{}{"ram": {}}))
	assert.True(t, (&DeliveryService{}).HasCapabilities(nil))
}

func TestTLS(t *testing.T) {
	ds := &DeliveryService{AcceptHTTP: true}
	assert.True(t, ds.TLSMismatch(true))
	assert.False(t, ds.TLSMismatch(false))

	ds = &DeliveryService{SSLEnabled: true, AcceptHTTPS: true}
	assert.False(t, ds.TLSMismatch(true))
	assert.True(t, ds.TLSMismatch(false))
	assert.True(t, ds.UseSecure(true))
	assert.False(t, ds.UseSecure(false))

	ds.RedirectToHTTPS = true
	assert.True(t, ds.UseSecure(false))
}

func TestHashKey(t *testing.T) {
	ds := &DeliveryService{
		ConsistentHashQueryParams: map[string]struct{}{"format": {}, "abc": {}},
	}

	assert.Equal(t, "/a/b.ts", ds.HashKey("/a/b.ts", "", nil))
	assert.Equal(t, "/a/b.tsabc=1format=hls", ds.HashKey("/a/b.ts", "format=hls&x=1&abc=1&format=hls", nil))

	ds.ConsistentHashRegex = regexp.MustCompile(`/([^/]+)/[^/]+\.ts`)
	assert.Equal(t, "a", ds.HashKey("/a/b.ts", "", nil))
	assert.Equal(t, "/nomatch", ds.HashKey("/nomatch", "", nil))

	override := regexp.MustCompile(`/[^/]+/([^/]+)\.ts`)
	assert.Equal(t, "b", ds.HashKey("/a/b.ts", "", override))

	assert.Equal(t, "/a", PatternHashString(regexp.MustCompile(`/a`), "/a"))
	assert.Equal(t, "", ds.SignificantQueryParams("abc=%zz"))
}

func TestURLs(t *testing.T) {
	ds := &DeliveryService{ID: "ds", AcceptHTTP: true, AppendQueryString: true}
	req := HTTPRequest{Host: "video.example.com", Path: "/a/b.ts", Query: "x=1"}
	cache := CacheTarget{FQDN: "edge1.video.example.com", CacheFQDN: "edge1.cdn.net", Port: 80, HTTPSPort: 443}

	assert.Equal(t, "http://edge1.video.example.com/a/b.ts?x=1", ds.CacheURL(req, cache))

	ds.AppendQueryString = false
	assert.Equal(t, "http://edge1.video.example.com/a/b.ts", ds.CacheURL(req, cache))

	cache.Port = 8080
	cache.FQDN = ""
	assert.Equal(t, "http://edge1.example.com:8080/a/b.ts", ds.CacheURL(req, cache))
	assert.Equal(t, "http://edge1.example.com:8080/blocked.html", ds.AlternateURL(req, "/blocked.html", cache))

	ds.SSLEnabled, ds.AcceptHTTPS = true, true
	req.Secure = true
	assert.Equal(t, "https://edge1.example.com/a/b.ts", ds.CacheURL(req, cache))

	_, ok := ds.BypassURL(req)
	assert.False(t, ok)

	ds.HTTPBypass = &HTTPBypass{FQDN: "bypass.example.org"}
	u, ok := ds.BypassURL(req)
	assert.True(t, ok)
	assert.Equal(t, "https://bypass.example.org/a/b.ts", u)

	ds.HTTPBypass.Port = 8443
	u, _ = ds.BypassURL(req)
	assert.Equal(t, "https://bypass.example.org:8443/a/b.ts", u)
}

func TestDNSBypass(t *testing.T) {
	ttl := uint32(30)

	_, err := BuildDNSBypass(DNSBypassConfig{IP: "192.0.2.1"})
	assert.Error(t, err)

	records, err := BuildDNSBypass(DNSBypassConfig{IP: "192.0.2.1", IP6: "2001:db8::1/64", CNAME: "ignored.example.org", TTL: &ttl})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), records[0].Addr)
	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), records[1].Addr)

	records, err = BuildDNSBypass(DNSBypassConfig{CNAME: "bypass.example.org", TTL: &ttl})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsCNAME())

	rr := records[0].RR("video.example.com")
	cname, ok := rr.(*dns.CNAME)
	require.True(t, ok)
	assert.Equal(t, "bypass.example.org.", cname.Target)
	assert.Equal(t, "video.example.com.", cname.Hdr.Name)
	assert.Equal(t, uint32(30), cname.Hdr.Ttl)

	_, err = BuildDNSBypass(DNSBypassConfig{IP: "bogus", TTL: &ttl})
	assert.Error(t, err)
}

func TestInetRecordRR(t *testing.T) {
	a := InetRecord{Addr: netip.MustParseAddr("192.0.2.1"), TTL: 60}.RR("x.example.com")
	assert.Equal(t, dns.TypeA, a.Header().Rrtype)
	assert.Equal(t, "192.0.2.1", a.(*dns.A).A.String())

	aaaa := InetRecord{Addr: netip.MustParseAddr("2001:db8::1"), TTL: 60}
	assert.Equal(t, dns.TypeAAAA, aaaa.Qtype())
	assert.Equal(t, dns.TypeAAAA, aaaa.RR("x.example.com").Header().Rrtype)
}
