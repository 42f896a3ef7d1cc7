package jsonfile

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/loadbalancer"
	"github.com/zalando/trafficrouter/snapshot"
)

const (
	crConfigName = "crconfig"

	configKey           = "config"
	locationsKey        = "edgeLocations"
	cachesKey           = "contentServers"
	deliveryServicesKey = "deliveryServices"

	consistentDNSRoutingKey = "consistent.dns.routing"
	superhackKey            = "confighandler.regex.superhack.enabled"
	defaultOverrideKey      = "maxmind.default.override"
)

func parseCoordinates(v gjson.Result, latKey, lonKey string) (*geo.Geolocation, error) {
	lat, lon := v.Get(latKey), v.Get(lonKey)
	if !isNumber(lat) || !isNumber(lon) {
		return nil, fmt.Errorf("missing %s or %s", latKey, lonKey)
	}

	return geo.New(lat.Float(), lon.Float()), nil
}

// parseDefaultOverride parses entries of the form CC;lat,lon.
func parseDefaultOverride(s string) (string, *geo.Geolocation, error) {
	country, coordinates, ok := strings.Cut(s, ";")
	if !ok || country == "" {
		return "", nil, fmt.Errorf("invalid default location override: %q", s)
	}

	latString, lonString, ok := strings.Cut(coordinates, ",")
	if !ok {
		return "", nil, fmt.Errorf("invalid default location override: %q", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(latString), 64)
	if err != nil {
		return "", nil, fmt.Errorf("invalid default location override latitude: %w", err)
	}

	lon, err := strconv.ParseFloat(strings.TrimSpace(lonString), 64)
	if err != nil {
		return "", nil, fmt.Errorf("invalid default location override longitude: %w", err)
	}

	g := geo.New(lat, lon)
	g.CountryCode = strings.ToUpper(country)
	g.DefaultLocation = true
	return g.CountryCode, g, nil
}

func parseConfigSection(config gjson.Result, c *snapshot.Config) bool {
	c.ConsistentDNSRouting = optBool(field(config, consistentDNSRoutingKey), false)

	overrides := field(config, defaultOverrideKey)
	var entries []string
	if overrides.IsArray() {
		entries = stringList(overrides)
	} else if overrides.String() != "" {
		entries = strings.Split(overrides.String(), "|")
	}

	for _, e := range entries {
		country, g, err := parseDefaultOverride(e)
		if err != nil {
			log.Errorf("Skipping default location override: %v", err)
			continue
		}

		if c.DefaultLocationOverrides == nil {
			c.DefaultLocationOverrides = make(map[string]*geo.Geolocation)
		}

		c.DefaultLocationOverrides[country] = g
	}

	return optBool(field(config, superhackKey), true)
}

func parseLocation(id string, v gjson.Result) (*snapshot.Location, error) {
	g, err := parseCoordinates(v, "latitude", "longitude")
	if err != nil {
		return nil, err
	}

	l := &snapshot.Location{ID: id, Geolocation: g, UseClosestOnMiss: true}
	if backups := v.Get("backupLocations"); backups.Exists() {
		if list := backups.Get("list"); list.Exists() {
			l.BackupLocations = stringList(list)
			l.UseClosestOnMiss = optBool(backups.Get("fallbackToClosest"), false)
		}
	}

	for _, m := range v.Get("localizationMethods").Array() {
		if m.Type != gjson.String {
			log.Errorf("Location %s has a non-string localization method, skipping", id)
			continue
		}

		lm, err := snapshot.ParseLocalizationMethod(m.String())
		if err != nil {
			log.Errorf("Location %s: %v, skipping", id, err)
			continue
		}

		l.LocalizationMethods = append(l.LocalizationMethods, lm)
	}

	return l, nil
}

func parseCache(id string, v gjson.Result) (*snapshot.Cache, error) {
	c := &snapshot.Cache{
		ID:            id,
		FQDN:          v.Get("fqdn").String(),
		Location:      v.Get("locationId").String(),
		Port:          int(v.Get("port").Int()),
		HTTPSPort:     int(v.Get("httpsPort").Int()),
		HashID:        v.Get("hashId").String(),
		HashCount:     int(v.Get("hashCount").Int()),
		Capabilities:  stringSet(v.Get("capabilities")),
		AvailableIPv4: true,
		AvailableIPv6: true,
	}

	if !isNumber(v.Get("port")) {
		return nil, errors.New("missing port")
	}

	if ip := v.Get("ip").String(); ip != "" {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return nil, fmt.Errorf("invalid ip: %w", err)
		}

		c.IPv4 = addr.Unmap()
	}

	if ip6 := v.Get("ip6").String(); ip6 != "" {
		ip6, _, _ = strings.Cut(ip6, "/")
		addr, err := netip.ParseAddr(ip6)
		if err != nil {
			return nil, fmt.Errorf("invalid ip6: %w", err)
		}

		c.IPv6 = addr
	}

	dss := v.Get(deliveryServicesKey)
	if dss.IsObject() {
		c.DeliveryServices = make(map[string]string)
		dss.ForEach(func(ds, names gjson.Result) bool {
			var fqdn string
			if names.IsArray() {
				if list := stringList(names); len(list) > 0 {
					fqdn = list[0]
				}
			} else {
				fqdn = names.String()
			}

			c.DeliveryServices[ds.String()] = strings.ToLower(fqdn)
			return true
		})
	}

	return c, nil
}

func deliveryServiceType(v gjson.Result) (deliveryservice.Type, error) {
	if t := v.Get("type").String(); t != "" {
		switch typ := deliveryservice.Type(strings.ToUpper(t)); typ {
		case deliveryservice.HTTP, deliveryservice.DNS, deliveryservice.Steering, deliveryservice.ClientSteering:
			return typ, nil
		default:
			return "", fmt.Errorf("unknown delivery service type: %q", t)
		}
	}

	for _, ms := range v.Get("matchsets").Array() {
		if strings.EqualFold(ms.Get("protocol").String(), "DNS") {
			return deliveryservice.DNS, nil
		}
	}

	return deliveryservice.HTTP, nil
}

// parseMatchSets skips the match sets containing an unknown match type
// or an invalid regex. The other match sets of the delivery service
// are kept.
func parseMatchSets(id string, v gjson.Result, superhack bool, rx deliveryservice.Regexps) ([]deliveryservice.MatchSet, error) {
	matchsets := v.Get("matchsets")
	if !matchsets.IsArray() {
		return nil, errors.New("missing matchsets")
	}

	var sets []deliveryservice.MatchSet
	for i, ms := range matchsets.Array() {
		set, err := parseMatchSet(ms, superhack && i == 0, rx)
		if err != nil {
			log.Warnf("Skipping match set %d of delivery service %s: %v", i, id, err)
			continue
		}

		if len(set) > 0 {
			sets = append(sets, set)
		}
	}

	return sets, nil
}

func parseMatchSet(ms gjson.Result, superhack bool, rx deliveryservice.Regexps) (deliveryservice.MatchSet, error) {
	var set deliveryservice.MatchSet
	for j, m := range ms.Get("matchlist").Array() {
		kind, err := deliveryservice.KindFromString(m.Get("match-type").String())
		if err != nil {
			return nil, err
		}

		pattern := m.Get("regex").String()
		if superhack && j == 0 && kind == deliveryservice.HostKind {
			pattern = deliveryservice.WidenWildcardHost(pattern)
		}

		matcher, err := rx.NewMatcher(kind, pattern, m.Get("target").String())
		if err != nil {
			return nil, err
		}

		set = append(set, matcher)
	}

	return set, nil
}

func parseGeoEnabled(v gjson.Result) []map[string]string {
	var constraints []map[string]string
	for _, c := range v.Array() {
		if !c.IsObject() {
			continue
		}

		constraint := make(map[string]string)
		c.ForEach(func(k, v gjson.Result) bool {
			constraint[k.String()] = v.String()
			return true
		})

		constraints = append(constraints, constraint)
	}

	return constraints
}

func parseBypass(ds *deliveryservice.DeliveryService, v gjson.Result) error {
	if d := v.Get("DNS"); d.IsObject() {
		var ttl *uint32
		if t := d.Get("ttl"); isNumber(t) {
			u := uint32(t.Uint())
			ttl = &u
		}

		records, err := deliveryservice.BuildDNSBypass(deliveryservice.DNSBypassConfig{
			IP:    d.Get("ip").String(),
			IP6:   d.Get("ip6").String(),
			CNAME: d.Get("cname").String(),
			TTL:   ttl,
		})
		if err != nil {
			return err
		}

		ds.DNSBypass = records
	}

	if h := v.Get("HTTP"); h.IsObject() && h.Get("fqdn").String() != "" {
		ds.HTTPBypass = &deliveryservice.HTTPBypass{
			FQDN: h.Get("fqdn").String(),
			Port: int(h.Get("port").Int()),
		}
	}

	return nil
}

func parseDeliveryService(id string, v gjson.Result, superhack bool, rx deliveryservice.Regexps) (*deliveryservice.DeliveryService, error) {
	routingName := v.Get("routingName").String()
	if routingName == "" {
		return nil, errors.New("missing routingName")
	}

	typ, err := deliveryServiceType(v)
	if err != nil {
		return nil, err
	}

	sets, err := parseMatchSets(id, v, superhack, rx)
	if err != nil {
		return nil, err
	}

	protocol := v.Get("protocol")
	ds := &deliveryservice.DeliveryService{
		ID:          id,
		Type:        typ,
		RoutingName: strings.ToLower(routingName),
		MatchSets:   sets,
		Dispersion: loadbalancer.Dispersion{
			Limit:    int(v.Get("dispersion.limit").Int()),
			Shuffled: optBool(v.Get("dispersion.shuffled"), false),
		},
		TTLs: deliveryservice.TTLs{
			A:    uint32(v.Get("ttls.A").Uint()),
			AAAA: uint32(v.Get("ttls.AAAA").Uint()),
		},
		MaxDNSIPs:             int(v.Get("maxDnsIpsForLocation").Int()),
		IPv6:                  optBool(v.Get("ip6RoutingEnabled"), false),
		GeoEnabled:            parseGeoEnabled(v.Get("geoEnabled")),
		GeoRedirectURL:        v.Get("geoLimitRedirectURL").String(),
		CoverageZoneOnly:      optBool(v.Get("coverageZoneOnly"), false),
		LocationFailoverLimit: int(v.Get("locationFailoverLimit").Int()),
		RegionalGeo:           optBool(v.Get("regionalGeoBlocking"), false),
		RequiredCapabilities:  stringSet(v.Get("requiredCapabilities")),
		SSLEnabled:            optBool(v.Get("sslEnabled"), false),
		AcceptHTTP:            optBool(protocol.Get("acceptHttp"), true),
		AcceptHTTPS:           optBool(protocol.Get("acceptHttps"), false),
		RedirectToHTTPS:       optBool(protocol.Get("redirectToHttps"), false),
		AppendQueryString:     optBool(v.Get("appendQueryString"), true),
		Available:             true,
	}

	if domains := stringList(v.Get("domains")); len(domains) > 0 {
		ds.Domain = strings.ToLower(domains[0])
	}

	if ml := v.Get("missLocation"); ml.IsObject() {
		ds.MissLocation = geo.New(ml.Get("lat").Float(), ml.Get("long").Float())
	}

	if chr := v.Get("consistentHashRegex").String(); chr != "" {
		ds.ConsistentHashRegex, err = regexp.Compile(chr)
		if err != nil {
			return nil, fmt.Errorf("invalid consistentHashRegex: %w", err)
		}
	}

	ds.ConsistentHashQueryParams = stringSet(v.Get("consistentHashQueryParams"))

	if err := parseBypass(ds, v.Get("bypassDestination")); err != nil {
		return nil, err
	}

	return ds, nil
}

// parseCRConfig reads the locations, caches and delivery services of
// the router configuration document. Invalid entities are logged and
// skipped.
func parseCRConfig(data []byte, c *snapshot.Config) error {
	doc, err := parseDocument(crConfigName, data)
	if err != nil {
		return err
	}

	locations, err := requireObject(doc, crConfigName, locationsKey)
	if err != nil {
		return err
	}

	caches, err := requireObject(doc, crConfigName, cachesKey)
	if err != nil {
		return err
	}

	dss, err := requireObject(doc, crConfigName, deliveryServicesKey)
	if err != nil {
		return err
	}

	superhack := parseConfigSection(field(doc, configKey), c)

	locations.ForEach(func(id, v gjson.Result) bool {
		l, err := parseLocation(id.String(), v)
		if err != nil {
			log.Errorf("Skipping location %s: %v", id.String(), err)
			return true
		}

		c.Locations = append(c.Locations, l)
		return true
	})

	caches.ForEach(func(id, v gjson.Result) bool {
		cc, err := parseCache(id.String(), v)
		if err != nil {
			log.Errorf("Skipping cache %s: %v", id.String(), err)
			return true
		}

		c.Caches = append(c.Caches, cc)
		return true
	})

	rx := make(deliveryservice.Regexps)
	dss.ForEach(func(id, v gjson.Result) bool {
		ds, err := parseDeliveryService(id.String(), v, superhack, rx)
		if err != nil {
			log.Errorf("Skipping delivery service %s: %v", id.String(), err)
			return true
		}

		c.DeliveryServices = append(c.DeliveryServices, ds)
		return true
	})

	return nil
}
