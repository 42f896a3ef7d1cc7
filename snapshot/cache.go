package snapshot

import (
	"fmt"
	"net/netip"

	"github.com/miekg/dns"

	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/loadbalancer"
	"github.com/zalando/trafficrouter/net"
)

// Cache is a cache server.
type Cache struct {
	ID        string
	FQDN      string
	Location  string
	Port      int
	HTTPSPort int
	IPv4      netip.Addr
	IPv6      netip.Addr

	// HashID seeds the hash values, defaults to the ID.
	HashID    string
	HashCount int

	// DeliveryServices maps the served delivery service ids to the FQDN
	// of the cache for the delivery service.
	DeliveryServices map[string]string
	Capabilities     map[string]struct{}

	AvailableIPv4 bool
	AvailableIPv6 bool

	hashValues []uint64
}

func (c *Cache) String() string {
	return fmt.Sprintf("Cache[%s]", c.ID)
}

// HashValues returns the sorted ring values of the cache.
func (c *Cache) HashValues() []uint64 {
	return c.hashValues
}

// HasDeliveryService reports whether the cache serves the delivery
// service.
func (c *Cache) HasDeliveryService(id string) bool {
	_, ok := c.DeliveryServices[id]
	return ok
}

// IsAvailable reports whether the cache can serve clients of the
// address family.
func (c *Cache) IsAvailable(f net.Family) bool {
	if f == net.IPv6 {
		return c.AvailableIPv6 && c.IPv6.IsValid()
	}

	return c.AvailableIPv4
}

// Target returns the URL building details of the cache for a delivery
// service.
func (c *Cache) Target(dsID string) deliveryservice.CacheTarget {
	return deliveryservice.CacheTarget{
		FQDN:      c.DeliveryServices[dsID],
		CacheFQDN: c.FQDN,
		Port:      c.Port,
		HTTPSPort: c.HTTPSPort,
	}
}

// Records returns the address records of the cache, the IPv6 record
// only when the delivery service routes IPv6.
func (c *Cache) Records(ds *deliveryservice.DeliveryService) []deliveryservice.InetRecord {
	var r []deliveryservice.InetRecord
	if c.IPv4.IsValid() {
		r = append(r, deliveryservice.InetRecord{Addr: c.IPv4, TTL: ds.TTLs.A})
	}

	if c.IPv6.IsValid() && ds.IPv6 {
		r = append(r, deliveryservice.InetRecord{Addr: c.IPv6, TTL: ds.TTLs.AAAA})
	}

	return r
}

// RecordsFor returns the records of the cache answering a query type.
func (c *Cache) RecordsFor(ds *deliveryservice.DeliveryService, qtype uint16) []deliveryservice.InetRecord {
	var r []deliveryservice.InetRecord
	for _, rec := range c.Records(ds) {
		if qtype == dns.TypeANY || rec.Qtype() == qtype {
			r = append(r, rec)
		}
	}

	return r
}

func (c *Cache) validate() error {
	if c.ID == "" {
		return invalid(errInvalidCache, "cache without id")
	}

	if c.FQDN == "" {
		return invalid(errInvalidCache, "cache %s without fqdn", c.ID)
	}

	if c.Location == "" {
		return invalid(errInvalidCache, "cache %s without location", c.ID)
	}

	if !c.IPv4.IsValid() && !c.IPv6.IsValid() {
		return invalid(errInvalidCache, "cache %s without address", c.ID)
	}

	return nil
}

func (c *Cache) build() *Cache {
	cc := *c
	hashID := cc.HashID
	if hashID == "" {
		hashID = cc.ID
	}

	count := cc.HashCount
	if count <= 0 {
		count = loadbalancer.DefaultHashCount
	}

	cc.hashValues = loadbalancer.HashValues(hashID, count)
	return &cc
}
