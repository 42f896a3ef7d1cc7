/*
Package snapshot builds the immutable routing state of the router.

A Snapshot contains everything a routing decision reads: the coverage
zones, the caches and their locations, the delivery services, the
steering, regional geo and federation tables. It is built once from a
Config by Build and never modified afterwards, except for the
per-generation location memo of the coverage zone nodes.

Build does not fail because of single invalid entities. These are
skipped, and the returned error lists the reason of each one.
*/
package snapshot

import (
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/zalando/trafficrouter/coveragezone"
	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/federation"
	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/net"
	"github.com/zalando/trafficrouter/regionalgeo"
	"github.com/zalando/trafficrouter/steering"
)

// CoverageZone assigns client networks to a location.
type CoverageZone struct {
	Location    string
	Geolocation *geo.Geolocation
	Networks    []string
}

// State is the health state of a cache or a delivery service, as
// published by the monitoring.
type State struct {
	Available     bool
	AvailableIPv6 *bool

	// DisabledLocations applies to delivery services only. When not nil,
	// it replaces the disabled locations of the delivery service.
	DisabledLocations []string
}

// Config is the input of Build.
type Config struct {
	// ConsistentDNSRouting ranks DNS answers by consistent hashing of
	// the query name instead of shuffling them.
	ConsistentDNSRouting bool

	// DefaultLocationOverrides replaces the default geolocation of a
	// country, as returned by the geolocation provider, by key of the
	// country code.
	DefaultLocationOverrides map[string]*geo.Geolocation

	Locations        []*Location
	Caches           []*Cache
	DeliveryServices []*deliveryservice.DeliveryService
	CoverageZones    []CoverageZone
	Steering         []*steering.Steering

	// RegionalGeoFallback is set when the regional geo rules could not
	// be loaded. RegionalGeo is ignored then, and every regional geo
	// request is denied.
	RegionalGeo         []regionalgeo.RuleConfig
	RegionalGeoFallback bool

	Federations map[string][]federation.MappingConfig

	// CacheStates and DeliveryServiceStates override the availability
	// of the listed entities.
	CacheStates           map[string]State
	DeliveryServiceStates map[string]State
}

// Snapshot is the immutable routing state.
type Snapshot struct {
	generation uint64

	consistentDNSRouting     bool
	defaultLocationOverrides map[string]*geo.Geolocation

	zones            *coveragezone.Zones
	deliveryServices *deliveryservice.Table
	steering         steering.Registry
	regionalGeo      *regionalgeo.Enforcer
	federations      *federation.Registry

	locations    map[string]*Location
	locationList []*Location
	caches       map[string]*Cache
}

// Empty returns a snapshot without any configuration. It does not route
// any request.
func Empty() *Snapshot {
	s, _ := Build(&Config{}, 0)
	return s
}

// Generation returns the generation the snapshot was built with.
func (s *Snapshot) Generation() uint64 { return s.generation }

// ConsistentDNSRouting tells whether DNS answers are ranked by
// consistent hashing.
func (s *Snapshot) ConsistentDNSRouting() bool { return s.consistentDNSRouting }

// DefaultLocationOverride returns the override of the default location
// of a country.
func (s *Snapshot) DefaultLocationOverride(countryCode string) (*geo.Geolocation, bool) {
	g, ok := s.defaultLocationOverrides[strings.ToUpper(countryCode)]
	return g, ok
}

// Zones returns the coverage zones.
func (s *Snapshot) Zones() *coveragezone.Zones { return s.zones }

// DeliveryServices returns the delivery service table.
func (s *Snapshot) DeliveryServices() *deliveryservice.Table { return s.deliveryServices }

// DeliveryService returns a delivery service by id.
func (s *Snapshot) DeliveryService(id string) *deliveryservice.DeliveryService {
	return s.deliveryServices.Get(id)
}

// HasDeliveryService reports whether the delivery service exists.
func (s *Snapshot) HasDeliveryService(id string) bool {
	return s.deliveryServices.Get(id) != nil
}

// Steering returns the steering of a delivery service.
func (s *Snapshot) Steering(id string) *steering.Steering { return s.steering.Get(id) }

// RegionalGeo returns the regional geo enforcer.
func (s *Snapshot) RegionalGeo() *regionalgeo.Enforcer { return s.regionalGeo }

// Federations returns the federation registry.
func (s *Snapshot) Federations() *federation.Registry { return s.federations }

// Location returns a location by id.
func (s *Snapshot) Location(id string) *Location { return s.locations[id] }

// Locations returns all locations ordered by id.
func (s *Snapshot) Locations() []*Location { return s.locationList }

// Cache returns a cache by id.
func (s *Snapshot) Cache(id string) *Cache { return s.caches[id] }

// LocationsByDistance returns the locations enabled for the
// localization method and not disabled for the delivery service,
// closest to from first. Locations without geolocation come last.
func (s *Snapshot) LocationsByDistance(from *geo.Geolocation, m LocalizationMethod, ds *deliveryservice.DeliveryService) []*Location {
	var locations []*Location
	for _, l := range s.locationList {
		if !l.IsEnabledFor(m) || !ds.IsLocationAvailable(l.ID) {
			continue
		}

		locations = append(locations, l)
	}

	if from == nil {
		return locations
	}

	sort.SliceStable(locations, func(i, j int) bool {
		return from.Distance(locations[i].Geolocation) < from.Distance(locations[j].Geolocation)
	})

	return locations
}

// ClearLocations drops the location memo of the coverage zone nodes.
func (s *Snapshot) ClearLocations() {
	s.zones.ClearLocations()
}

func buildLocations(c *Config, s *Snapshot) error {
	var errs error
	for _, l := range c.Locations {
		if l.ID == "" {
			errs = multierr.Append(errs, invalid(errUnknownLocation, "location without id"))
			continue
		}

		if _, exists := s.locations[l.ID]; exists {
			errs = multierr.Append(errs, invalid(errDuplicateID, "duplicate location id: %s", l.ID))
			continue
		}

		ll := *l
		ll.caches = nil
		s.locations[ll.ID] = &ll
		s.locationList = append(s.locationList, &ll)
	}

	sort.Slice(s.locationList, func(i, j int) bool { return s.locationList[i].ID < s.locationList[j].ID })
	return errs
}

func buildCaches(c *Config, s *Snapshot) error {
	var errs error
	for _, cc := range c.Caches {
		if err := cc.validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		if _, exists := s.caches[cc.ID]; exists {
			errs = multierr.Append(errs, invalid(errDuplicateID, "duplicate cache id: %s", cc.ID))
			continue
		}

		l := s.locations[cc.Location]
		if l == nil {
			errs = multierr.Append(errs, invalid(errUnknownLocation, "cache %s in unknown location %s", cc.ID, cc.Location))
			continue
		}

		built := cc.build()
		if st, ok := c.CacheStates[built.ID]; ok {
			built.AvailableIPv4 = st.Available
			built.AvailableIPv6 = st.Available
			if st.AvailableIPv6 != nil {
				built.AvailableIPv6 = *st.AvailableIPv6
			}
		}

		s.caches[built.ID] = built
		l.caches = append(l.caches, built)
	}

	return errs
}

func buildDeliveryServices(c *Config, s *Snapshot) {
	dss := c.DeliveryServices
	if len(c.DeliveryServiceStates) > 0 {
		dss = make([]*deliveryservice.DeliveryService, 0, len(c.DeliveryServices))
		for _, ds := range c.DeliveryServices {
			if st, ok := c.DeliveryServiceStates[ds.ID]; ok {
				dd := *ds
				dd.Available = st.Available
				if st.DisabledLocations != nil {
					dd.DisabledLocations = make(map[string]struct{}, len(st.DisabledLocations))
					for _, l := range st.DisabledLocations {
						dd.DisabledLocations[l] = struct{}{}
					}
				}

				ds = &dd
			}

			dss = append(dss, ds)
		}
	}

	s.deliveryServices = deliveryservice.NewTable(dss)
}

func buildZones(c *Config, s *Snapshot) error {
	var errs error
	for _, cz := range c.CoverageZones {
		for _, n := range cz.Networks {
			p, err := net.ParsePrefix(n)
			if err != nil {
				errs = multierr.Append(errs, invalid(errInvalidCoverageZone, "coverage zone %s: %v", cz.Location, err))
				continue
			}

			inserted, err := s.zones.Insert(p, cz.Location, cz.Geolocation)
			if err != nil {
				errs = multierr.Append(errs, invalid(errInvalidCoverageZone, "coverage zone %s: %v", cz.Location, err))
				continue
			}

			if !inserted {
				log.Debugf("Ignoring duplicate network %s of coverage zone %s", p, cz.Location)
			}
		}
	}

	return errs
}

func buildSteering(c *Config, s *Snapshot) error {
	var errs error
	for _, st := range c.Steering {
		ds := s.deliveryServices.Get(st.DeliveryService)
		switch {
		case ds == nil:
			errs = multierr.Append(errs, invalid(errInvalidSteering, "steering for unknown delivery service %s", st.DeliveryService))
			continue
		case !ds.IsSteering():
			errs = multierr.Append(errs, invalid(errInvalidSteering, "steering for delivery service %s of type %s", ds.ID, ds.Type))
			continue
		case s.steering[st.DeliveryService] != nil:
			errs = multierr.Append(errs, invalid(errDuplicateID, "duplicate steering for %s", st.DeliveryService))
			continue
		}

		if ds.Type == deliveryservice.ClientSteering && !st.ClientSteering {
			sc := *st
			sc.ClientSteering = true
			st = &sc
		}

		s.steering[st.DeliveryService] = st
	}

	return errs
}

func buildRegionalGeo(c *Config, s *Snapshot) error {
	if c.RegionalGeoFallback {
		s.regionalGeo = regionalgeo.Fallback()
		return nil
	}

	e, err := regionalgeo.New(c.RegionalGeo)
	s.regionalGeo = e
	return WrapInvalidEntityReason(string(errInvalidRegionalGeo), err)
}

func buildFederations(c *Config, s *Snapshot) error {
	r, err := federation.New(c.Federations)
	s.federations = r
	return WrapInvalidEntityReason(string(errInvalidFederation), err)
}

// Build creates a snapshot. The returned snapshot is always usable, the
// error reports the entities that were skipped.
func Build(c *Config, generation uint64) (*Snapshot, error) {
	s := &Snapshot{
		generation:               generation,
		consistentDNSRouting:     c.ConsistentDNSRouting,
		defaultLocationOverrides: make(map[string]*geo.Geolocation, len(c.DefaultLocationOverrides)),
		zones:                    coveragezone.NewZones(),
		steering:                 make(steering.Registry),
		locations:                make(map[string]*Location),
		caches:                   make(map[string]*Cache),
	}

	for cc, g := range c.DefaultLocationOverrides {
		s.defaultLocationOverrides[strings.ToUpper(cc)] = g
	}

	buildDeliveryServices(c, s)
	err := multierr.Combine(
		buildLocations(c, s),
		buildCaches(c, s),
		buildZones(c, s),
		buildSteering(c, s),
		buildRegionalGeo(c, s),
		buildFederations(c, s),
	)

	return s, err
}
