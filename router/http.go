package router

import (
	"regexp"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/regionalgeo"
	"github.com/zalando/trafficrouter/snapshot"
	"github.com/zalando/trafficrouter/stats"
	"github.com/zalando/trafficrouter/steering"
)

// httpFailure answers with the HTTP bypass of the delivery service.
func (rs *state) httpFailure(ds *deliveryservice.DeliveryService, req *HTTPRequest, result *HTTPResult) *HTTPResult {
	if u, ok := ds.BypassURL(req.urlRequest()); ok {
		rs.track.Result = stats.ResultDSRedirect
		result.URLs = []string{u}
		return result
	}

	d := rs.track.Details
	if d == stats.DetailsNone {
		d = stats.DetailsDSNoBypass
	}

	rs.track.SetResult(stats.ResultMiss, d)
	result.URLs = nil
	return result
}

func (rs *state) exists(id string) bool {
	return rs.s.HasDeliveryService(id)
}

// steeringTarget resolves the delivery service a steering delivery
// service forwards the request to. The consistent hash regex of the
// steering delivery service applies to the target.
func (rs *state) steeringTarget(entry *deliveryservice.DeliveryService, st *steering.Steering, req *HTTPRequest) (*deliveryservice.DeliveryService, *regexp.Regexp) {
	id, ok := st.Resolve(steering.Request{
		Key:    entry.HashKey(req.Path, req.Query, nil),
		Path:   req.Path,
		Option: req.Header.Get(steering.OptionHeader),
	}, rs.exists)
	if !ok {
		return nil, nil
	}

	return rs.s.DeliveryService(id), entry.ConsistentHashRegex
}

func (rs *state) tlsMismatch(ds *deliveryservice.DeliveryService, req *HTTPRequest) bool {
	if ds.TLSMismatch(req.Secure) {
		rs.track.SetResult(stats.ResultError, stats.DetailsDSTLSMismatch)
		return true
	}

	return false
}

func (rs *state) routeHTTP(req *HTTPRequest) *HTTPResult {
	rs.track.Request = req.URL()

	entry := rs.s.DeliveryServices().Lookup(req.deliveryServiceRequest())
	if entry == nil {
		rs.track.SetResult(stats.ResultDSMiss, stats.DetailsDSNotFound)
		return &HTTPResult{}
	}

	rs.track.DeliveryService = entry.ID

	if st := rs.s.Steering(entry.ID); st != nil && entry.IsSteering() {
		if st.ClientSteering {
			return rs.routeClientSteering(entry, st, req)
		}

		ds, override := rs.steeringTarget(entry, st, req)
		if ds == nil {
			rs.track.SetResult(stats.ResultDSMiss, stats.DetailsDSNotFound)
			return &HTTPResult{}
		}

		return rs.routeSingle(ds, override, req)
	}

	return rs.routeSingle(entry, nil, req)
}

func (rs *state) routeSingle(ds *deliveryservice.DeliveryService, override *regexp.Regexp, req *HTTPRequest) *HTTPResult {
	if rs.tlsMismatch(ds, req) {
		return &HTTPResult{}
	}

	result := &HTTPResult{}
	if !ds.Available {
		return rs.httpFailure(ds, req, result)
	}

	result.DeliveryService = ds
	caches := rs.selectCaches(ds)
	if len(caches) == 0 {
		if rs.track.Result == stats.ResultGeoRedirect && isAbsoluteURL(ds.GeoRedirectURL) {
			log.Debugf("Geo redirect to %s for %s", ds.GeoRedirectURL, req.URL())
			result.URLs = []string{ds.GeoRedirectURL}
			return result
		}

		return rs.httpFailure(ds, req, result)
	}

	cache := consistentCache(ds, caches, ds.HashKey(req.Path, req.Query, override))
	target := cache.Target(ds.ID)
	if ds.RegionalGeo {
		return rs.enforceRegionalGeo(ds, req, &target, result)
	}

	if rs.track.Result == stats.ResultGeoRedirect {
		result.URLs = []string{ds.AlternateURL(req.urlRequest(), ds.GeoRedirectURL, target)}
		return result
	}

	result.URLs = []string{ds.CacheURL(req.urlRequest(), target)}
	return result
}

// enforceRegionalGeo applies the regional geo rules of the delivery
// service. Without a cache target, only allowed requests and absolute
// alternate URLs can be served.
func (rs *state) enforceRegionalGeo(ds *deliveryservice.DeliveryService, req *HTTPRequest, target *deliveryservice.CacheTarget, result *HTTPResult) *HTTPResult {
	r := rs.s.RegionalGeo().Enforce(ds.ID, req.URL(), rs.client, rs.clientGeolocation())
	if target == nil {
		r = r.WithoutCache()
	}

	rs.track.SetRegionalGeo(r)
	switch r.Type {
	case regionalgeo.Denied:
		result.URLs = nil
		result.Status = r.HTTPStatus
	case regionalgeo.AlternateWithoutCache:
		result.URLs = []string{r.URL}
	case regionalgeo.AlternateWithCache:
		result.URLs = []string{ds.AlternateURL(req.urlRequest(), r.URL, *target)}
	default:
		if target != nil {
			result.URLs = []string{ds.CacheURL(req.urlRequest(), *target)}
		}
	}

	return result
}

// steeringClientLocation locates the client for ordering the steering
// targets, by the coverage zone coordinates when available.
func (rs *state) steeringClientLocation(entry *deliveryservice.DeliveryService, st *steering.Steering) *geo.Geolocation {
	var located bool
	for _, t := range st.Targets {
		if t.Geolocation != nil {
			located = true
			break
		}
	}

	if !located || !rs.client.IsValid() {
		return nil
	}

	if node, ok := rs.s.Zones().Lookup(rs.client); ok && node.Geolocation() != nil {
		return entry.SupportLocation(node.Geolocation())
	}

	return entry.SupportLocation(rs.clientGeolocation())
}

// routeClientSteering answers with one URL per available steering
// target, each on a different cache when possible.
func (rs *state) routeClientSteering(entry *deliveryservice.DeliveryService, st *steering.Steering, req *HTTPRequest) *HTTPResult {
	if rs.tlsMismatch(entry, req) {
		return &HTTPResult{}
	}

	ids := st.ResolveAll(steering.Request{
		Key:    entry.HashKey(req.Path, req.Query, nil),
		Path:   req.Path,
		Client: rs.steeringClientLocation(entry, st),
	}, rs.exists)

	var targets []*deliveryservice.DeliveryService
	for _, id := range ids {
		ds := rs.s.DeliveryService(id)
		if rs.tlsMismatch(ds, req) {
			return &HTTPResult{}
		}

		if ds.Available {
			targets = append(targets, ds)
		}
	}

	if len(targets) == 0 {
		rs.track.SetResult(stats.ResultDSMiss, stats.DetailsDSNotFound)
		return &HTTPResult{}
	}

	result := &HTTPResult{DeliveryService: entry}
	if entry.RegionalGeo {
		rs.enforceRegionalGeo(entry, req, nil, result)
		if result.Status != 0 || len(result.URLs) > 0 {
			return result
		}
	}

	steeringHash := deliveryservice.PatternHashString(entry.ConsistentHashRegex, req.Path)
	selected := make(map[string]bool)
	for _, ds := range targets {
		caches := rs.selectCaches(ds)
		if len(caches) == 0 {
			continue
		}

		var unused []*snapshot.Cache
		for _, c := range caches {
			if !selected[c.ID] {
				unused = append(unused, c)
			}
		}

		if len(unused) > 0 {
			caches = unused
		}

		cache := consistentCache(ds, caches, steeringHash+ds.SignificantQueryParams(req.Query))
		selected[cache.ID] = true
		result.URLs = append(result.URLs, ds.CacheURL(req.urlRequest(), cache.Target(ds.ID)))
	}

	if len(result.URLs) == 0 {
		return rs.httpFailure(entry, req, result)
	}

	return result
}
