/*
Package deliveryservice implements delivery services and the selection
of the delivery service owning a request.

A delivery service carries one or more match sets. A match set matches
a request when all of its HOST, HEADER and PATH matchers match. When
the match sets of several delivery services match the same request, the
winner is decided by CompareMatchSets. The Table orders all match
sets once when the configuration is built, so that a lookup returns the
first matching entry.

Everything a routing decision reads from a delivery service, like the
bypass records, is computed when the delivery service is built. A
delivery service is never modified after it was added to a Table.
*/
package deliveryservice

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/loadbalancer"
)

const (
	standardHTTPPort  = 80
	standardHTTPSPort = 443
)

// Type of a delivery service.
type Type string

const (
	HTTP           Type = "HTTP"
	DNS            Type = "DNS"
	Steering       Type = "STEERING"
	ClientSteering Type = "CLIENT_STEERING"
)

// TTLs of the DNS answers, in seconds.
type TTLs struct {
	A    uint32
	AAAA uint32
}

// HTTPBypass is the HTTP destination of a delivery service when it
// cannot be served by its own caches.
type HTTPBypass struct {
	FQDN string
	Port int
}

// DeliveryService is a routable content service.
type DeliveryService struct {
	ID          string
	Type        Type
	RoutingName string
	Domain      string
	MatchSets   []MatchSet

	Dispersion loadbalancer.Dispersion
	TTLs       TTLs
	MaxDNSIPs  int
	IPv6       bool

	// GeoEnabled lists the allowed client location property sets. An
	// empty list allows every location.
	GeoEnabled            []map[string]string
	MissLocation          *geo.Geolocation
	GeoRedirectURL        string
	CoverageZoneOnly      bool
	LocationFailoverLimit int
	DisabledLocations     map[string]struct{}

	RegionalGeo          bool
	RequiredCapabilities map[string]struct{}

	SSLEnabled      bool
	AcceptHTTP      bool
	AcceptHTTPS     bool
	RedirectToHTTPS bool

	ConsistentHashRegex       *regexp.Regexp
	ConsistentHashQueryParams map[string]struct{}
	AppendQueryString         bool

	DNSBypass  []InetRecord
	HTTPBypass *HTTPBypass

	Available bool
}

func (ds *DeliveryService) String() string {
	return fmt.Sprintf("DeliveryService[%s]", ds.ID)
}

// IsSteering reports whether requests are forwarded to target delivery
// services.
func (ds *DeliveryService) IsSteering() bool {
	return ds.Type == Steering || ds.Type == ClientSteering
}

// IsDNS reports whether the delivery service is routed with DNS.
func (ds *DeliveryService) IsDNS() bool {
	return ds.Type == DNS
}

// HasBypass reports whether any bypass destination is configured.
func (ds *DeliveryService) HasBypass() bool {
	return len(ds.DNSBypass) > 0 || ds.HTTPBypass != nil
}

// Match reports whether any match set of the delivery service matches.
func (ds *DeliveryService) Match(r *Request) bool {
	for _, s := range ds.MatchSets {
		if s.Match(r) {
			return true
		}
	}

	return false
}

// SupportLocation applies the geo-enabled constraints to a client
// location. Without a client location the miss location is returned.
// A blocked location results in nil.
func (ds *DeliveryService) SupportLocation(client *geo.Geolocation) *geo.Geolocation {
	if client == nil {
		return ds.MissLocation
	}

	if ds.isLocationBlocked(client) {
		return nil
	}

	return client
}

func (ds *DeliveryService) isLocationBlocked(client *geo.Geolocation) bool {
	if len(ds.GeoEnabled) == 0 {
		return false
	}

	props := client.Properties()
	for _, constraint := range ds.GeoEnabled {
		match := true
		for k, v := range constraint {
			if !strings.EqualFold(v, props[k]) {
				match = false
				break
			}
		}

		if match {
			return false
		}
	}

	return true
}

// HasValidMissLocation reports whether a miss location other than 0,0
// is configured.
func (ds *DeliveryService) HasValidMissLocation() bool {
	return ds.MissLocation != nil && ds.MissLocation.Latitude != 0 && ds.MissLocation.Longitude != 0
}

// IsLocationAvailable reports whether the cache location was not
// disabled for the delivery service.
func (ds *DeliveryService) IsLocationAvailable(id string) bool {
	_, disabled := ds.DisabledLocations[id]
	return !disabled
}

// HasCapabilities reports whether the capabilities contain all the
// capabilities required by the delivery service.
func (ds *DeliveryService) HasCapabilities(c map[string]struct{}) bool {
	for rc := range ds.RequiredCapabilities {
		if _, ok := c[rc]; !ok {
			return false
		}
	}

	return true
}

// TLSMismatch reports whether a request with the given security can
// not be served by the delivery service.
func (ds *DeliveryService) TLSMismatch(secure bool) bool {
	if secure {
		return !ds.SSLEnabled
	}

	return !ds.AcceptHTTP
}

// UseSecure tells whether the redirect URL uses https.
func (ds *DeliveryService) UseSecure(secure bool) bool {
	if secure {
		return ds.AcceptHTTPS && ds.SSLEnabled
	}

	return ds.RedirectToHTTPS && ds.AcceptHTTPS && ds.SSLEnabled
}

// SignificantQueryParams returns the decoded query parameters taking
// part in consistent hashing, sorted and concatenated.
func (ds *DeliveryService) SignificantQueryParams(query string) string {
	if query == "" || len(ds.ConsistentHashQueryParams) == 0 {
		return ""
	}

	var params []string
	for _, p := range strings.Split(query, "&") {
		if p == "" {
			continue
		}

		parts := strings.Split(p, "=")
		for i := range parts {
			d, err := url.QueryUnescape(parts[i])
			if err != nil {
				return ""
			}

			parts[i] = d
		}

		if _, ok := ds.ConsistentHashQueryParams[parts[0]]; ok {
			params = append(params, strings.Join(parts, "="))
		}
	}

	sort.Strings(params)
	params = dedup(params)
	return strings.Join(params, "")
}

func dedup(s []string) []string {
	if len(s) < 2 {
		return s
	}

	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}

	return out
}

// PatternHashString extracts the parts of the path relevant for
// consistent hashing: the concatenated capture groups of the regex, or
// the whole path when the regex is not set or does not match.
func PatternHashString(rx *regexp.Regexp, path string) string {
	if rx == nil || path == "" {
		return path
	}

	m := rx.FindStringSubmatch(path)
	if len(m) < 2 {
		return path
	}

	return strings.Join(m[1:], "")
}

// HashKey returns the consistent hashing key of an HTTP request. A
// non-nil regex overrides the delivery service regex, used when a
// steering delivery service routes to this one.
func (ds *DeliveryService) HashKey(path, query string, override *regexp.Regexp) string {
	rx := ds.ConsistentHashRegex
	if override != nil {
		rx = override
	}

	return PatternHashString(rx, path) + ds.SignificantQueryParams(query)
}

// CacheTarget is the part of a cache needed to build redirect URLs.
type CacheTarget struct {
	// FQDN of the cache for this delivery service, from the delivery
	// service reference of the cache. When empty, the host name of the
	// cache is combined with the domain of the request.
	FQDN      string
	CacheFQDN string
	Port      int
	HTTPSPort int
}

// HTTPRequest is the part of an HTTP request needed to build redirect
// URLs.
type HTTPRequest struct {
	Host   string
	Path   string
	Query  string
	Secure bool
}

func (ds *DeliveryService) scheme(secure bool) string {
	if ds.UseSecure(secure) {
		return "https://"
	}

	return "http://"
}

func (ds *DeliveryService) portString(secure bool, port int) string {
	standard := standardHTTPPort
	if ds.UseSecure(secure) {
		standard = standardHTTPSPort
	}

	if port == standard || port == 0 {
		return ""
	}

	return ":" + strconv.Itoa(port)
}

func (c CacheTarget) fqdn(requestHost string) string {
	if c.FQDN != "" {
		return c.FQDN
	}

	name, _, _ := strings.Cut(c.CacheFQDN, ".")
	if _, domain, ok := strings.Cut(requestHost, "."); ok {
		return name + "." + domain
	}

	return c.CacheFQDN
}

func (ds *DeliveryService) port(r HTTPRequest, c CacheTarget) int {
	if ds.UseSecure(r.Secure) {
		return c.HTTPSPort
	}

	return c.Port
}

func (ds *DeliveryService) uri(r HTTPRequest, fqdn string, port int) string {
	var b strings.Builder
	b.WriteString(ds.scheme(r.Secure))
	b.WriteString(fqdn)
	b.WriteString(ds.portString(r.Secure, port))
	b.WriteString(r.Path)
	if r.Query != "" && ds.AppendQueryString {
		b.WriteByte('?')
		b.WriteString(r.Query)
	}

	return b.String()
}

// CacheURL returns the redirect URL of a request to the cache.
func (ds *DeliveryService) CacheURL(r HTTPRequest, c CacheTarget) string {
	return ds.uri(r, c.fqdn(r.Host), ds.port(r, c))
}

// AlternateURL returns the redirect URL of an alternate path on the
// cache.
func (ds *DeliveryService) AlternateURL(r HTTPRequest, alternatePath string, c CacheTarget) string {
	return ds.scheme(r.Secure) + c.fqdn(r.Host) + ds.portString(r.Secure, ds.port(r, c)) + alternatePath
}

// BypassURL returns the HTTP bypass URL, or false when no HTTP bypass
// is configured.
func (ds *DeliveryService) BypassURL(r HTTPRequest) (string, bool) {
	if ds.HTTPBypass == nil || ds.HTTPBypass.FQDN == "" {
		return "", false
	}

	port := ds.HTTPBypass.Port
	if port == 0 {
		port = standardHTTPPort
		if r.Secure {
			port = standardHTTPSPort
		}
	}

	return ds.uri(r, ds.HTTPBypass.FQDN, port), true
}
