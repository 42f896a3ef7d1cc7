package router

import (
	"context"
	"net/netip"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/trafficrouter/coveragezone"
	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/loadbalancer"
	"github.com/zalando/trafficrouter/net"
	"github.com/zalando/trafficrouter/snapshot"
	"github.com/zalando/trafficrouter/stats"
)

// state is owned by a single routing call.
type state struct {
	ctx     context.Context
	locator Locator
	s       *snapshot.Snapshot
	client  netip.Addr
	family  net.Family
	track   *stats.Track

	continueGeo bool
	fromBackup  bool
}

func (r *Router) newState(ctx context.Context, client netip.Addr, t *stats.Track) *state {
	s := snapshot.Empty()
	if r.source != nil {
		s = r.source.Get()
	}

	return &state{
		ctx:     ctx,
		locator: r.locator,
		s:       s,
		client:  client.Unmap(),
		family:  net.FamilyOf(client),
		track:   t,
	}
}

func isAbsoluteURL(u string) bool {
	l := strings.ToLower(u)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// clientGeolocation queries the locator once per request.
func (rs *state) clientGeolocation() *geo.Geolocation {
	if rs.track.ClientGeolocationQueried {
		return rs.track.ClientGeolocation
	}

	rs.track.ClientGeolocationQueried = true
	if rs.locator == nil || !rs.client.IsValid() {
		return nil
	}

	g, err := rs.locator.Locate(rs.ctx, rs.client)
	if err != nil {
		log.Warnf("Failed to locate client %s: %v", rs.client, err)
		return nil
	}

	rs.track.ClientGeolocation = g
	return g
}

func (rs *state) hasSupportingCaches(l *snapshot.Location, ds *deliveryservice.DeliveryService) bool {
	return l != nil && len(l.SupportingCaches(ds, rs.family)) > 0
}

func (rs *state) nodeLocation(n *coveragezone.Node) *snapshot.Location {
	generation := rs.s.Generation()
	if v, ok := n.Cached(generation); ok {
		l, _ := v.(*snapshot.Location)
		return l
	}

	l := rs.s.Location(n.Location())
	if l != nil {
		n.Remember(generation, l)
	}

	return l
}

// coverageZoneLocation returns the location serving the client by the
// coverage zones, or nil.
func (rs *state) coverageZoneLocation(ds *deliveryservice.DeliveryService) *snapshot.Location {
	if !rs.client.IsValid() {
		return nil
	}

	node, ok := rs.s.Zones().Lookup(rs.client)
	if !ok {
		return nil
	}

	l := rs.nodeLocation(node)
	if l != nil {
		if !l.IsEnabledFor(snapshot.CZLocalization) {
			rs.continueGeo = false
			return nil
		}

		if rs.hasSupportingCaches(l, ds) {
			return l
		}

		if len(l.BackupLocations) > 0 {
			for _, id := range l.BackupLocations {
				backup := rs.s.Location(id)
				if backup == nil || !backup.IsEnabledFor(snapshot.CZLocalization) {
					continue
				}

				if rs.hasSupportingCaches(backup, ds) {
					log.Debugf("Using backup location %s of %s for %s and %s", backup.ID, l.ID, rs.client, ds.ID)
					rs.fromBackup = true
					return backup
				}
			}

			if !l.UseClosestOnMiss {
				rs.continueGeo = false
				return nil
			}
		}
	}

	if node.Geolocation() == nil {
		return nil
	}

	for _, closest := range rs.s.LocationsByDistance(node.Geolocation(), snapshot.CZLocalization, ds) {
		if rs.hasSupportingCaches(closest, ds) {
			log.Debugf("Using closest location %s for %s and %s", closest.ID, rs.client, ds.ID)
			rs.fromBackup = true
			return closest
		}
	}

	return nil
}

// cachesByCoverageZone returns the caches of the coverage zone location
// serving the delivery service.
func (rs *state) cachesByCoverageZone(ds *deliveryservice.DeliveryService, l *snapshot.Location) []*snapshot.Cache {
	if l == nil || !ds.IsLocationAvailable(l.ID) {
		return nil
	}

	caches := l.SupportingCaches(ds, rs.family)
	if len(caches) == 0 {
		return nil
	}

	rs.track.SetResult(stats.ResultCZ, stats.DetailsNone)
	if rs.fromBackup {
		rs.track.Details = stats.DetailsDSCZBackupCG
	}

	rs.track.ResultLocation = l.Geolocation
	return caches
}

// cachesByGeo tries the locations closest to from first, up to the
// location failover limit of the delivery service.
func (rs *state) cachesByGeo(ds *deliveryservice.DeliveryService, from *geo.Geolocation) []*snapshot.Cache {
	var tested int
	for _, l := range rs.s.LocationsByDistance(from, snapshot.GeoLocalization, ds) {
		if caches := l.SupportingCaches(ds, rs.family); len(caches) > 0 {
			rs.track.ResultLocation = l.Geolocation
			if l.Geolocation.IsZero() {
				log.Errorf("Location %s has geolocation %s", l.ID, l.Geolocation)
			}

			return caches
		}

		tested++
		if ds.LocationFailoverLimit != 0 && tested >= ds.LocationFailoverLimit {
			return nil
		}
	}

	return nil
}

// selectCachesByGeo routes the client by its geolocation, or, when the
// coverage zones found a location without caches for the delivery
// service, by the location of the coverage zone.
func (rs *state) selectCachesByGeo(ds *deliveryservice.DeliveryService, czLocation *snapshot.Location) []*snapshot.Cache {
	var clientLocation *geo.Geolocation
	if czLocation != nil {
		clientLocation = czLocation.Geolocation
	} else {
		clientLocation = ds.SupportLocation(rs.clientGeolocation())
	}

	if clientLocation == nil {
		if ds.GeoRedirectURL != "" {
			log.Debugf("Client %s is blocked by the geo limit of %s, using the geo redirect URL: %s", rs.client, ds.ID, ds.GeoRedirectURL)
			return rs.enforceGeoRedirect(ds, rs.track.ClientGeolocation)
		}

		rs.track.Details = stats.DetailsDSClientGeoUnsupported
		return nil
	}

	rs.track.SetResult(stats.ResultGeo, rs.track.Details)
	if clientLocation.DefaultLocation {
		if override, ok := rs.s.DefaultLocationOverride(clientLocation.CountryCode); ok {
			if ds.HasValidMissLocation() {
				clientLocation = ds.MissLocation
				rs.track.Result = stats.ResultGeoDS
			} else {
				clientLocation = override
			}
		}
	}

	caches := rs.cachesByGeo(ds, clientLocation)
	if len(caches) == 0 {
		rs.track.Details = stats.DetailsGeoNoCacheFound
	}

	return caches
}

// enforceGeoRedirect applies the geo redirect URL. An absolute URL is
// returned to the client as it is, and for a relative URL the caches of
// the closest location are selected.
func (rs *state) enforceGeoRedirect(ds *deliveryservice.DeliveryService, queried *geo.Geolocation) []*snapshot.Cache {
	rs.track.SetResult(stats.ResultGeoRedirect, stats.DetailsNone)
	if isAbsoluteURL(ds.GeoRedirectURL) {
		return nil
	}

	clientLocation := queried
	if clientLocation == nil {
		clientLocation = rs.clientGeolocation()
	}

	if clientLocation == nil {
		clientLocation = ds.MissLocation
	}

	if clientLocation == nil {
		log.Errorf("Cannot find a geolocation for client %s", rs.client)
		rs.track.SetResult(stats.ResultMiss, stats.DetailsDSClientGeoUnsupported)
		return nil
	}

	caches := rs.cachesByGeo(ds, clientLocation)
	if len(caches) == 0 {
		log.Warnf("No cache found for the geo redirect of %s", ds.ID)
		rs.track.SetResult(stats.ResultMiss, stats.DetailsGeoNoCacheFound)
		return nil
	}

	return caches
}

// selectCaches runs the coverage zone and the geolocation lookup of an
// HTTP request.
func (rs *state) selectCaches(ds *deliveryservice.DeliveryService) []*snapshot.Cache {
	rs.continueGeo = true
	rs.fromBackup = false

	l := rs.coverageZoneLocation(ds)
	if caches := rs.cachesByCoverageZone(ds, l); len(caches) > 0 {
		return caches
	}

	switch {
	case ds.CoverageZoneOnly && ds.GeoRedirectURL != "":
		return rs.enforceGeoRedirect(ds, nil)
	case ds.CoverageZoneOnly:
		rs.track.SetResult(stats.ResultMiss, stats.DetailsDSCZOnly)
		return nil
	case rs.continueGeo:
		return rs.selectCachesByGeo(ds, l)
	default:
		return nil
	}
}

// consistentCache picks the cache of a request key.
func consistentCache(ds *deliveryservice.DeliveryService, caches []*snapshot.Cache, key string) *snapshot.Cache {
	selected := loadbalancer.Select(ds.Dispersion, loadbalancer.Rank(key, caches))
	if len(selected) == 0 {
		return nil
	}

	return selected[0]
}
