package federation

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/trafficrouter/deliveryservice"
)

func TestLookup(t *testing.T) {
	r, err := New(map[string][]MappingConfig{
		"video": {{
			CNAME:    "video.federated.example.net.",
			TTL:      60,
			Resolve4: []string{"192.0.2.0/24"},
			Resolve6: []string{"2001:db8::/32"},
		}, {
			CNAME:    "other.federated.example.net.",
			TTL:      30,
			Resolve4: []string{"192.0.2.128/25"},
		}},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	for _, tt := range []struct {
		name   string
		ds     string
		client string
		want   []deliveryservice.InetRecord
	}{{
		name:   "ipv4 single mapping",
		ds:     "video",
		client: "192.0.2.1",
		want:   []deliveryservice.InetRecord{{CNAME: "video.federated.example.net.", TTL: 60}},
	}, {
		name:   "ipv4 both mappings",
		ds:     "video",
		client: "192.0.2.200",
		want: []deliveryservice.InetRecord{
			{CNAME: "video.federated.example.net.", TTL: 60},
			{CNAME: "other.federated.example.net.", TTL: 30},
		},
	}, {
		name:   "ipv6",
		ds:     "video",
		client: "2001:db8::1",
		want:   []deliveryservice.InetRecord{{CNAME: "video.federated.example.net.", TTL: 60}},
	}, {
		name:   "mapped ipv4",
		ds:     "video",
		client: "::ffff:192.0.2.1",
		want:   []deliveryservice.InetRecord{{CNAME: "video.federated.example.net.", TTL: 60}},
	}, {
		name:   "outside",
		ds:     "video",
		client: "198.51.100.1",
	}, {
		name:   "other delivery service",
		ds:     "other",
		client: "192.0.2.1",
	}} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Lookup(tt.ds, netip.MustParseAddr(tt.client)))
		})
	}
}

func TestNewSkipsInvalid(t *testing.T) {
	r, err := New(map[string][]MappingConfig{
		"video": {
			{CNAME: "", TTL: 60, Resolve4: []string{"192.0.2.0/24"}},
			{CNAME: "ok.example.net.", TTL: 60, Resolve4: []string{"192.0.2.0/24"}},
		},
		"broken": {{CNAME: "x.example.net.", Resolve4: []string{"not-a-network"}}},
	})

	assert.Error(t, err)
	assert.Len(t, r.Lookup("video", netip.MustParseAddr("192.0.2.1")), 1)
	assert.Empty(t, r.Lookup("broken", netip.MustParseAddr("192.0.2.1")))
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	assert.Nil(t, r.Lookup("video", netip.MustParseAddr("192.0.2.1")))
	assert.Equal(t, 0, r.Len())
}
