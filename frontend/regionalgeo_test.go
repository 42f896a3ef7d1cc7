package frontend_test

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go4.org/netipx"

	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/frontend"
	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/loadbalancer"
	"github.com/zalando/trafficrouter/net"
	"github.com/zalando/trafficrouter/regionalgeo"
	"github.com/zalando/trafficrouter/router"
	"github.com/zalando/trafficrouter/snapshot"
)

type fixedSource struct{ s *snapshot.Snapshot }

func (s fixedSource) Get() *snapshot.Snapshot { return s.s }

func regionalRouter(t *testing.T) *router.Router {
	t.Helper()
	m, err := deliveryservice.NewMatcher(deliveryservice.HostKind, `regional\.example\.org`, "")
	require.NoError(t, err)

	s, err := snapshot.Build(&snapshot.Config{
		Locations: []*snapshot.Location{{ID: "ottawa", Geolocation: geo.New(45.42, -75.7)}},
		Caches: []*snapshot.Cache{{
			ID:               "c1",
			FQDN:             "c1.cdn.example.org",
			Location:         "ottawa",
			Port:             80,
			HTTPSPort:        443,
			IPv4:             netip.MustParseAddr("192.0.2.1"),
			DeliveryServices: map[string]string{"regional": "c1.regional.example.org"},
			AvailableIPv4:    true,
		}},
		DeliveryServices: []*deliveryservice.DeliveryService{{
			ID:          "regional",
			Type:        deliveryservice.HTTP,
			MatchSets:   []deliveryservice.MatchSet{{m}},
			Dispersion:  loadbalancer.DefaultDispersion,
			AcceptHTTP:  true,
			Available:   true,
			RegionalGeo: true,
		}},
		CoverageZones: []snapshot.CoverageZone{
			{Location: "ottawa", Networks: []string{"203.0.113.0/24", "10.9.0.0/16"}},
		},
		RegionalGeo: []regionalgeo.RuleConfig{{
			DeliveryService:    "regional",
			URLRegex:           `http://regional\.example\.org/.*`,
			AlternateURL:       "http://denied.example.org/denied.html",
			IncludePostalCodes: []string{"K1A"},
			Whitelist:          []string{"10.9.0.0/16"},
		}},
	}, 1)
	require.NoError(t, err)

	return router.New(router.Options{Source: fixedSource{s}})
}

func TestHTTPRegionalGeoWhitelist(t *testing.T) {
	proxies, err := net.ParseIPCIDRs([]string{"10.1.0.0/16"})
	require.NoError(t, err)

	const (
		denied  = "http://denied.example.org/denied.html"
		allowed = "http://c1.regional.example.org/movie.mp4"
	)

	for _, tt := range []struct {
		name       string
		remoteAddr string
		xff        string
		trusted    *netipx.IPSet
		expected   string
	}{{
		name:       "not whitelisted",
		remoteAddr: "203.0.113.7:41234",
		expected:   denied,
	}, {
		name:       "whitelisted",
		remoteAddr: "10.9.0.1:41234",
		expected:   allowed,
	}, {
		name:       "forwarded header without trusted proxies",
		remoteAddr: "203.0.113.7:41234",
		xff:        "10.9.0.1",
		expected:   denied,
	}, {
		name:       "forwarded header from an untrusted peer",
		remoteAddr: "203.0.113.7:41234",
		xff:        "10.9.0.1",
		trusted:    proxies,
		expected:   denied,
	}, {
		name:       "forwarded header from a trusted proxy",
		remoteAddr: "10.1.0.1:41234",
		xff:        "10.9.0.1",
		trusted:    proxies,
		expected:   allowed,
	}, {
		name:       "injected entry before a trusted proxy",
		remoteAddr: "10.1.0.1:41234",
		xff:        "10.9.0.1, 203.0.113.7",
		trusted:    proxies,
		expected:   denied,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			h := frontend.NewHTTPHandler(frontend.HTTPOptions{
				Router:         regionalRouter(t),
				TrustedProxies: tt.trusted,
			})

			r := httptest.NewRequest("GET", "http://regional.example.org/movie.mp4", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, tt.expected, w.Header().Get("Location"))
		})
	}
}
