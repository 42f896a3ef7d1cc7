package snapshot

import (
	"fmt"
	"strings"

	"github.com/zalando/trafficrouter/deliveryservice"
	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/net"
)

// LocalizationMethod is a way of assigning clients to a location.
type LocalizationMethod string

const (
	CZLocalization  LocalizationMethod = "CZ"
	GeoLocalization LocalizationMethod = "GEO"
)

// ParseLocalizationMethod parses a configured localization method.
func ParseLocalizationMethod(s string) (LocalizationMethod, error) {
	switch m := LocalizationMethod(strings.ToUpper(s)); m {
	case CZLocalization, GeoLocalization:
		return m, nil
	default:
		return "", fmt.Errorf("unknown localization method: %q", s)
	}
}

// Location is a cache group.
type Location struct {
	ID          string
	Geolocation *geo.Geolocation

	// BackupLocations are tried in order when a coverage zone client of
	// the location cannot be served by it.
	BackupLocations []string

	// UseClosestOnMiss allows the closest location to serve when the
	// backup locations cannot. Only evaluated when backup locations are
	// configured.
	UseClosestOnMiss bool

	// LocalizationMethods enabled for the location. None means all.
	LocalizationMethods []LocalizationMethod

	caches []*Cache
}

func (l *Location) String() string {
	return fmt.Sprintf("Location[%s]", l.ID)
}

// Caches returns the caches of the location in configuration order.
func (l *Location) Caches() []*Cache {
	return l.caches
}

// IsEnabledFor reports whether clients may be assigned to the location
// with the localization method.
func (l *Location) IsEnabledFor(m LocalizationMethod) bool {
	if len(l.LocalizationMethods) == 0 {
		return true
	}

	for _, lm := range l.LocalizationMethods {
		if lm == m {
			return true
		}
	}

	return false
}

// SupportingCaches returns the caches of the location that serve the
// delivery service, are available for the address family and carry the
// capabilities required by the delivery service.
func (l *Location) SupportingCaches(ds *deliveryservice.DeliveryService, f net.Family) []*Cache {
	var caches []*Cache
	for _, c := range l.caches {
		if !c.HasDeliveryService(ds.ID) || !c.IsAvailable(f) || !ds.HasCapabilities(c.Capabilities) {
			continue
		}

		caches = append(caches, c)
	}

	return caches
}
