package jsonfile

import (
	"github.com/tidwall/gjson"

	"github.com/zalando/trafficrouter/snapshot"
)

const (
	coverageZoneName = "coverage zone file"
	coverageZonesKey = "coverageZones"
)

// parseCoverageZones reads the coverage zone document:
//
//	{"coverageZones": {"loc1": {"network": [...], "network6": [...],
//	  "coordinates": {"latitude": 1.0, "longitude": 2.0}}}}
//
// Invalid networks are reported by the snapshot build.
func parseCoverageZones(data []byte, c *snapshot.Config) error {
	doc, err := parseDocument(coverageZoneName, data)
	if err != nil {
		return err
	}

	zones, err := requireObject(doc, coverageZoneName, coverageZonesKey)
	if err != nil {
		return err
	}

	zones.ForEach(func(location, v gjson.Result) bool {
		cz := snapshot.CoverageZone{Location: location.String()}
		cz.Networks = append(stringList(v.Get("network")), stringList(v.Get("network6"))...)
		if coordinates := v.Get("coordinates"); coordinates.IsObject() {
			if g, err := parseCoordinates(coordinates, "latitude", "longitude"); err == nil {
				cz.Geolocation = g
			}
		}

		c.CoverageZones = append(c.CoverageZones, cz)
		return true
	})

	return nil
}
