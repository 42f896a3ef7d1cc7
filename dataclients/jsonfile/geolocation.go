package jsonfile

import (
	"fmt"
	"net/netip"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/net"
)

const (
	geolocationName = "geolocation file"
	networksKey     = "networks"
)

func parseGeolocationEntry(v gjson.Result) (netip.Prefix, *geo.Geolocation, error) {
	p, err := net.ParsePrefix(v.Get("network").String())
	if err != nil {
		return netip.Prefix{}, nil, err
	}

	g, err := parseCoordinates(v, "latitude", "longitude")
	if err != nil {
		return netip.Prefix{}, nil, err
	}

	g.PostalCode = v.Get("postalCode").String()
	g.City = v.Get("city").String()
	g.CountryCode = v.Get("countryCode").String()
	g.CountryName = v.Get("countryName").String()
	g.DefaultLocation = optBool(v.Get("defaultLocation"), false)
	return p, g, nil
}

// LoadGeolocations reads a static geolocation table, used as the
// geolocation provider when no external database is configured:
//
//	{"networks": [{"network": "10.0.0.0/8", "latitude": 52.5,
//	  "longitude": 13.4, "postalCode": "10115", "countryCode": "DE"}]}
func LoadGeolocations(name string) (*geo.Table, error) {
	data, err := readFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", geolocationName, err)
	}

	return parseGeolocations(data)
}

func parseGeolocations(data []byte) (*geo.Table, error) {
	doc, err := parseDocument(geolocationName, data)
	if err != nil {
		return nil, err
	}

	networks, err := requireArray(doc, geolocationName, networksKey)
	if err != nil {
		return nil, err
	}

	m := make(map[netip.Prefix]*geo.Geolocation)
	for _, v := range networks.Array() {
		p, g, err := parseGeolocationEntry(v)
		if err != nil {
			log.Errorf("Skipping geolocation entry %s: %v", v.Get("network").String(), err)
			continue
		}

		m[p] = g
	}

	return geo.NewTable(m), nil
}
