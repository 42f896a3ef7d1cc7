package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"go4.org/netipx"

	"github.com/zalando/trafficrouter/net"
	"github.com/zalando/trafficrouter/router"
	"github.com/zalando/trafficrouter/stats"
)

// DefaultHTTPStatus is used for requests that could not be routed and
// have no status of their own.
const DefaultHTTPStatus = http.StatusServiceUnavailable

// HTTPRouter routes HTTP requests.
type HTTPRouter interface {
	RouteHTTP(context.Context, *router.HTTPRequest, *stats.Track) *router.HTTPResult
}

// HTTPOptions of the HTTP handler.
type HTTPOptions struct {
	Router  HTTPRouter
	Tracker *stats.Tracker

	// DefaultHTTPStatus is returned when a request could not be routed.
	// Defaults to 503.
	DefaultHTTPStatus int

	// TrustedProxies are the peers whose X-Forwarded-For header is
	// accepted as the client address. When nil, the address of the
	// connection is used.
	TrustedProxies *netipx.IPSet
}

// HTTPHandler redirects clients to caches.
type HTTPHandler struct {
	router        HTTPRouter
	tracker       *stats.Tracker
	defaultStatus  int
	hostPatch      net.HostPatch
	trustedProxies *netipx.IPSet
}

type locations struct {
	Locations []string `json:"locations"`
}

// NewHTTPHandler creates an HTTP handler.
func NewHTTPHandler(o HTTPOptions) *HTTPHandler {
	if o.Tracker == nil {
		o.Tracker = stats.NewTracker(stats.Options{})
	}

	if o.DefaultHTTPStatus == 0 {
		o.DefaultHTTPStatus = DefaultHTTPStatus
	}

	return &HTTPHandler{
		router:         o.Router,
		tracker:        o.Tracker,
		defaultStatus:  o.DefaultHTTPStatus,
		hostPatch:      net.HostPatch{RemovePort: true, RemoveTrailingDot: true, ToLower: true},
		trustedProxies: o.TrustedProxies,
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := h.tracker.NewTrack(stats.HTTP)
	defer h.tracker.SaveTrack(t)

	req := &router.HTTPRequest{
		Client: net.ClientAddr(r, h.trustedProxies),
		Host:   h.hostPatch.Apply(r.Host),
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.RawQuery,
		Header: r.Header,
		Secure: r.TLS != nil,
	}

	result := h.router.RouteHTTP(r.Context(), req, t)
	switch {
	case len(result.URLs) == 1:
		t.Response = result.URLs[0]
		t.Status = http.StatusFound
		http.Redirect(w, r, result.URLs[0], http.StatusFound)
	case len(result.URLs) > 1:
		t.Response = strings.Join(result.URLs, " ")
		t.Status = http.StatusOK
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(locations{Locations: result.URLs}); err != nil {
			log.Errorf("Failed to write the locations of %s: %v", req.URL(), err)
		}
	default:
		status := result.Status
		if status == 0 {
			status = h.defaultStatus
		}

		t.Status = status
		w.WriteHeader(status)
	}
}
