/*
Package geo implements client geolocation for the router.

A Geolocation is an immutable point with the optional address
attributes a geolocation database may return. Providers resolve client
addresses to geolocations; the Locator wraps a provider with a lookup
timeout, a circuit breaker, a short lived result cache and the
collapsing of concurrent lookups for the same address, so that a slow
or failing database never blocks the routing path.
*/
package geo

import (
	"fmt"
	"math"
	"strconv"
)

const earthRadiusKM = 6371.0

// Geolocation of a client, a cache location or a steering target.
type Geolocation struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	PostalCode  string  `json:"postalCode,omitempty"`
	City        string  `json:"city,omitempty"`
	CountryCode string  `json:"countryCode,omitempty"`
	CountryName string  `json:"countryName,omitempty"`

	// DefaultLocation is set by providers when the address could only
	// be resolved to the default point of a country.
	DefaultLocation bool `json:"defaultLocation,omitempty"`
}

// New returns a geolocation with coordinates only.
func New(lat, lon float64) *Geolocation {
	return &Geolocation{Latitude: lat, Longitude: lon}
}

func toRadians(v float64) float64 {
	return v * math.Pi / 180
}

// Distance returns the great-circle distance in kilometers. A nil
// argument is infinitely far away.
func (g *Geolocation) Distance(other *Geolocation) float64 {
	if g == nil || other == nil {
		return math.Inf(1)
	}

	dLat := toRadians(other.Latitude - g.Latitude)
	dLon := toRadians(other.Longitude - g.Longitude)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(g.Latitude))*math.Cos(toRadians(other.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

// IsZero reports whether the coordinates are 0,0, which the
// configuration uses for unset locations.
func (g *Geolocation) IsZero() bool {
	return g == nil || (g.Latitude == 0 && g.Longitude == 0)
}

// Properties returns the attributes matched by delivery service
// geo-enabled constraints.
func (g *Geolocation) Properties() map[string]string {
	return map[string]string{
		"latitude":    strconv.FormatFloat(g.Latitude, 'f', -1, 64),
		"longitude":   strconv.FormatFloat(g.Longitude, 'f', -1, 64),
		"postalCode":  g.PostalCode,
		"city":        g.City,
		"countryCode": g.CountryCode,
		"countryName": g.CountryName,
	}
}

// Equal compares the coordinates only.
func (g *Geolocation) Equal(other *Geolocation) bool {
	if g == nil || other == nil {
		return g == other
	}

	return g.Latitude == other.Latitude && g.Longitude == other.Longitude
}

func (g *Geolocation) String() string {
	if g == nil {
		return "<nil>"
	}

	return fmt.Sprintf("%g,%g", g.Latitude, g.Longitude)
}
