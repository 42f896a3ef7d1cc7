package jsonfile

import (
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/zalando/trafficrouter/regionalgeo"
	"github.com/zalando/trafficrouter/snapshot"
)

const regionalGeoName = "regional geo file"

// postalList returns nil when the key is missing, and a non-nil list
// otherwise, so that an empty include list still counts as configured.
func postalList(v gjson.Result) []string {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}

	return append([]string{}, stringList(v)...)
}

func parseRegionalGeoRule(v gjson.Result) regionalgeo.RuleConfig {
	location := v.Get("geoLocation")
	rc := regionalgeo.RuleConfig{
		DeliveryService:    v.Get("deliveryServiceId").String(),
		URLRegex:           v.Get("urlRegex").String(),
		AlternateURL:       v.Get("redirectUrl").String(),
		SteeringDS:         optBool(v.Get("isSteeringDS"), false),
		IncludePostalCodes: postalList(location.Get("includePostalCode")),
		ExcludePostalCodes: postalList(location.Get("excludePostalCode")),
		Whitelist:          stringList(v.Get("ipWhiteList")),
	}

	for _, cr := range location.Get("coordinateRange").Array() {
		rc.CoordinateRanges = append(rc.CoordinateRanges, regionalgeo.CoordinateRange{
			MinLat: cr.Get("minLat").Float(),
			MaxLat: cr.Get("maxLat").Float(),
			MinLon: cr.Get("minLon").Float(),
			MaxLon: cr.Get("maxLon").Float(),
		})
	}

	return rc
}

// parseRegionalGeo reads the regional geo rules. Unlike the other
// documents, an invalid regional geo document does not abort the
// reload: regional geo enforcement falls back to deny every request.
// Invalid rules have the same effect, reported by the snapshot build.
func parseRegionalGeo(data []byte, c *snapshot.Config) {
	doc, err := parseDocument(regionalGeoName, data)
	if err == nil {
		_, err = requireArray(doc, regionalGeoName, deliveryServicesKey)
	}

	if err != nil {
		log.Errorf("Regional geo enforcement falls back to deny: %v", err)
		c.RegionalGeo = nil
		c.RegionalGeoFallback = true
		return
	}

	for _, rv := range field(doc, deliveryServicesKey).Array() {
		c.RegionalGeo = append(c.RegionalGeo, parseRegionalGeoRule(rv))
	}
}
