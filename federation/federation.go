// Package federation maps DNS clients of a delivery service to the CNAME
// of a federated CDN, based on the resolver networks of the client.
package federation

import (
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/multierr"
	"go4.org/netipx"

	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/net"
)

// MappingConfig is the configuration of a single federation mapping.
type MappingConfig struct {
	CNAME    string
	TTL      uint32
	Resolve4 []string
	Resolve6 []string
}

type mapping struct {
	record   deliveryservice.InetRecord
	networks *netipx.IPSet
}

// Registry contains the federation mappings by delivery service id.
type Registry struct {
	mappings map[string][]mapping
}

func newMapping(ds string, c MappingConfig) (mapping, error) {
	if strings.TrimSpace(c.CNAME) == "" {
		return mapping{}, fmt.Errorf("federation mapping of %s without cname", ds)
	}

	networks := append(append([]string(nil), c.Resolve4...), c.Resolve6...)
	set, err := net.ParseIPCIDRs(networks)
	if err != nil {
		return mapping{}, fmt.Errorf("invalid resolver network in federation mapping of %s: %w", ds, err)
	}

	return mapping{
		record:   deliveryservice.InetRecord{CNAME: c.CNAME, TTL: c.TTL},
		networks: set,
	}, nil
}

// New builds the registry. Invalid mappings are skipped and reported
// in the returned error, the registry is usable regardless.
func New(federations map[string][]MappingConfig) (*Registry, error) {
	r := &Registry{mappings: make(map[string][]mapping, len(federations))}
	var errs error
	for ds, configs := range federations {
		for _, c := range configs {
			m, err := newMapping(ds, c)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}

			r.mappings[ds] = append(r.mappings[ds], m)
		}
	}

	return r, errs
}

// Len returns the number of delivery services with federation mappings.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}

	return len(r.mappings)
}

// Lookup returns the CNAME records of the mappings whose resolver
// networks contain the client address.
func (r *Registry) Lookup(ds string, client netip.Addr) []deliveryservice.InetRecord {
	if r == nil || !client.IsValid() {
		return nil
	}

	client = client.Unmap()
	var records []deliveryservice.InetRecord
	for _, m := range r.mappings[ds] {
		if m.networks.Contains(client) {
			records = append(records, m.record)
		}
	}

	return records
}
