package router

import (
	"math/rand/v2"
	"strings"

	"github.com/miekg/dns"

	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/loadbalancer"
	"github.com/zalando/trafficrouter/net"
	"github.com/zalando/trafficrouter/snapshot"
	"github.com/zalando/trafficrouter/stats"
)

// matchesRoutingName reports whether the query name is a name under the
// routing name of the delivery service, like edge.video.example.org for
// the routing name edge.
func matchesRoutingName(ds *deliveryservice.DeliveryService, name string) bool {
	return ds.RoutingName != "" && strings.HasPrefix(strings.ToLower(name), strings.ToLower(ds.RoutingName)+".")
}

func answering(records []deliveryservice.InetRecord, qtype uint16) []deliveryservice.InetRecord {
	var r []deliveryservice.InetRecord
	for _, rec := range records {
		if qtype == dns.TypeANY || rec.IsCNAME() || rec.Qtype() == qtype {
			r = append(r, rec)
		}
	}

	return r
}

// dnsFailure answers with the DNS bypass of the delivery service.
func (rs *state) dnsFailure(ds *deliveryservice.DeliveryService, qtype uint16) []deliveryservice.InetRecord {
	if len(ds.DNSBypass) == 0 {
		d := rs.track.Details
		if d == stats.DetailsNone {
			d = stats.DetailsDSNoBypass
		}

		rs.track.SetResult(stats.ResultMiss, d)
		return nil
	}

	rs.track.SetResult(stats.ResultDSRedirect, stats.DetailsDSBypass)
	return answering(ds.DNSBypass, qtype)
}

// dnsRecords returns the records of the caches. When the delivery
// service caps the number of addresses, the caches are either ranked
// by the query name or shuffled before they are cut.
func (rs *state) dnsRecords(ds *deliveryservice.DeliveryService, caches []*snapshot.Cache, name string, qtype uint16) []deliveryservice.InetRecord {
	selected := caches
	switch {
	case ds.MaxDNSIPs > 0 && rs.s.ConsistentDNSRouting():
		selected = loadbalancer.Select(ds.Dispersion, loadbalancer.Rank(strings.ToLower(name), caches))
	case ds.MaxDNSIPs > 0:
		selected = make([]*snapshot.Cache, len(caches))
		copy(selected, caches)
		rand.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
		if len(selected) > ds.MaxDNSIPs {
			selected = selected[:ds.MaxDNSIPs]
		}
	}

	var records []deliveryservice.InetRecord
	for _, c := range selected {
		records = append(records, c.RecordsFor(ds, qtype)...)
	}

	return records
}

func (rs *state) routeDNS(req *DNSRequest) *DNSResult {
	name := strings.TrimSuffix(req.Name, ".")
	rs.track.Request = dns.TypeToString[req.Qtype]
	if req.Qtype == dns.TypeAAAA {
		rs.family = net.IPv6
	} else {
		rs.family = net.IPv4
	}

	ds := rs.s.DeliveryServices().Lookup(&deliveryservice.Request{Host: name})
	if ds == nil || !ds.IsDNS() || !matchesRoutingName(ds, name) {
		rs.track.SetResult(stats.ResultStaticRoute, stats.DetailsDSNotFound)
		return &DNSResult{}
	}

	rs.track.DeliveryService = ds.ID

	result := &DNSResult{DeliveryService: ds}
	if !ds.Available {
		result.Records = rs.dnsFailure(ds, req.Qtype)
		return result
	}

	rs.continueGeo = true
	l := rs.coverageZoneLocation(ds)
	if caches := rs.cachesByCoverageZone(ds, l); len(caches) > 0 {
		rs.track.ClientGeolocation = l.Geolocation
		result.Records = rs.dnsRecords(ds, caches, name, req.Qtype)
		return result
	}

	if ds.CoverageZoneOnly {
		rs.track.SetResult(stats.ResultMiss, stats.DetailsDSCZOnly)
		result.Records = rs.dnsFailure(ds, req.Qtype)
		return result
	}

	if records := answering(rs.s.Federations().Lookup(ds.ID, rs.client), req.Qtype); len(records) > 0 {
		rs.track.SetResult(stats.ResultFederation, stats.DetailsNone)
		result.Records = records
		return result
	}

	var caches []*snapshot.Cache
	if rs.continueGeo {
		caches = rs.selectCachesByGeo(ds, l)
	}

	if len(caches) == 0 {
		rs.track.Result = stats.ResultMiss
		result.Records = rs.dnsFailure(ds, req.Qtype)
		return result
	}

	if rs.track.Result != stats.ResultGeoDS {
		rs.track.Result = stats.ResultGeo
	}

	result.Records = rs.dnsRecords(ds, caches, name, req.Qtype)
	return result
}
