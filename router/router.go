package router

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/snapshot"
	"github.com/zalando/trafficrouter/stats"
)

// Source provides the current snapshot.
type Source interface {
	Get() *snapshot.Snapshot
}

// Locator resolves the geolocation of client addresses. A nil location
// with a nil error means that the address could not be located.
type Locator interface {
	Locate(ctx context.Context, addr netip.Addr) (*geo.Geolocation, error)
}

// Options of the router.
type Options struct {
	// Source provides the snapshot that requests are routed against.
	Source Source

	// Locator resolves client addresses when the coverage zones do not
	// cover them. Without a locator, clients are never located and the
	// miss locations of the delivery services apply.
	Locator Locator
}

// Router routes DNS and HTTP requests. It is safe for concurrent use.
type Router struct {
	source  Source
	locator Locator
}

// DNSRequest is a DNS query of a client.
type DNSRequest struct {
	Name   string
	Qtype  uint16
	Client netip.Addr
}

// DNSResult holds the answer of a DNS request. Records are empty when
// the request could not be routed.
type DNSResult struct {
	DeliveryService *deliveryservice.DeliveryService
	Records         []deliveryservice.InetRecord
}

// HTTPRequest is an HTTP request of a client.
type HTTPRequest struct {
	Client netip.Addr
	Host   string
	Path   string
	Query  string
	Header http.Header
	Secure bool
}

// URL returns the requested URL.
func (r *HTTPRequest) URL() string {
	scheme := "http://"
	if r.Secure {
		scheme = "https://"
	}

	u := scheme + r.Host + r.Path
	if r.Query != "" {
		u += "?" + r.Query
	}

	return u
}

func (r *HTTPRequest) deliveryServiceRequest() *deliveryservice.Request {
	return &deliveryservice.Request{Host: r.Host, Path: r.Path, Query: r.Query, Header: r.Header}
}

func (r *HTTPRequest) urlRequest() deliveryservice.HTTPRequest {
	return deliveryservice.HTTPRequest{Host: r.Host, Path: r.Path, Query: r.Query, Secure: r.Secure}
}

// HTTPResult holds the answer of an HTTP request. When URLs is empty,
// the request is rejected with Status, or, when Status is not set,
// with the default status of the frontend.
type HTTPResult struct {
	DeliveryService *deliveryservice.DeliveryService
	URLs            []string
	Status          int
}

// URL returns the first redirect URL.
func (r *HTTPResult) URL() string {
	if r == nil || len(r.URLs) == 0 {
		return ""
	}

	return r.URLs[0]
}

// New creates a router.
func New(o Options) *Router {
	return &Router{source: o.Source, locator: o.Locator}
}

func recoverRouting(t *stats.Track, name string) {
	if err := recover(); err != nil {
		log.Errorf("Failed to route %s: %v", name, err)
		t.Err = fmt.Errorf("routing panic: %v", err)
		t.SetResult(stats.ResultError, stats.DetailsNone)
	}
}

// RouteDNS routes a DNS request and records the decision on the track.
func (r *Router) RouteDNS(ctx context.Context, req *DNSRequest, t *stats.Track) (result *DNSResult) {
	result = &DNSResult{}
	t.FQDN = strings.TrimSuffix(req.Name, ".")
	t.ClientAddr = req.Client

	defer recoverRouting(t, req.Name)
	rs := r.newState(ctx, req.Client, t)
	return rs.routeDNS(req)
}

// RouteHTTP routes an HTTP request and records the decision on the
// track.
func (r *Router) RouteHTTP(ctx context.Context, req *HTTPRequest, t *stats.Track) (result *HTTPResult) {
	result = &HTTPResult{}
	t.FQDN = req.Host
	t.ClientAddr = req.Client

	defer recoverRouting(t, req.URL())
	rs := r.newState(ctx, req.Client, t)
	return rs.routeHTTP(req)
}
