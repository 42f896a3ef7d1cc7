/*
Package steering resolves steering delivery services to one of their
target delivery services.

The rules are tried in this order, the first applicable one wins:

 1. an explicit target option sent by the client
 2. a filter whose path pattern matches, when its target is listed
 3. the targets carrying a geolocation, closest to the client first,
    then by geo order
 4. the targets with a positive weight, selected proportionally to the
    weight by hashing the request key into cumulative weight buckets
 5. the targets without weight, lowest order first

Only targets present in the current configuration take part. Weighted
selection is a pure function of the request key, so the same key always
resolves to the same target.
*/
package steering

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/zalando/trafficrouter/geo"
)

// OptionHeader is the request header naming an explicit target.
const OptionHeader = "X-Tc-Steering-Option"

// Target of a steering delivery service.
type Target struct {
	DeliveryService string
	Weight          int
	Order           int
	GeoOrder        int
	Geolocation     *geo.Geolocation
}

// Filter routes the matching paths to a target unconditionally.
type Filter struct {
	Pattern         *regexp.Regexp
	DeliveryService string
}

// NewFilter compiles a filter pattern. Patterns match the whole path.
func NewFilter(pattern, ds string) (Filter, error) {
	rx, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return Filter{}, fmt.Errorf("invalid steering filter pattern %q: %w", pattern, err)
	}

	return Filter{Pattern: rx, DeliveryService: ds}, nil
}

// Steering is the steering configuration of one delivery service.
type Steering struct {
	DeliveryService string
	ClientSteering  bool
	Targets         []Target
	Filters         []Filter
}

// Request carries the inputs of a steering decision.
type Request struct {
	// Key is the consistent hashing key of the request.
	Key string

	// Path is matched against the filters.
	Path string

	// Option is the value of the option header.
	Option string

	// Client is the client location, when known.
	Client *geo.Geolocation
}

// Registry holds the steering configuration by delivery service id.
type Registry map[string]*Steering

// Get returns the steering of a delivery service.
func (r Registry) Get(id string) *Steering {
	if r == nil {
		return nil
	}

	return r[id]
}

// HasTarget reports whether id is one of the targets.
func (s *Steering) HasTarget(id string) bool {
	for _, t := range s.Targets {
		if t.DeliveryService == id {
			return true
		}
	}

	return false
}

// FilterTarget returns the target of the first filter matching the
// path.
func (s *Steering) FilterTarget(path string) (string, bool) {
	for _, f := range s.Filters {
		if f.Pattern.MatchString(path) {
			return f.DeliveryService, true
		}
	}

	return "", false
}

func (s *Steering) available(exists func(string) bool) []Target {
	var targets []Target
	for _, t := range s.Targets {
		if exists(t.DeliveryService) {
			targets = append(targets, t)
		}
	}

	return targets
}

// unitHash maps a key to [0, 1) using the upper 53 bits of its hash.
func unitHash(key string) float64 {
	return float64(xxhash.Sum64String(key)>>11) / (1 << 53)
}

func weighted(targets []Target, key string) (Target, bool) {
	var total int
	for _, t := range targets {
		if t.Weight > 0 {
			total += t.Weight
		}
	}

	if total == 0 {
		return Target{}, false
	}

	point := unitHash(key) * float64(total)
	var cumulative int
	var last Target
	for _, t := range targets {
		if t.Weight <= 0 {
			continue
		}

		cumulative += t.Weight
		last = t
		if point < float64(cumulative) {
			return t, true
		}
	}

	return last, true
}

func geoOrdered(targets []Target, client *geo.Geolocation) []Target {
	if client == nil {
		return nil
	}

	var located []Target
	for _, t := range targets {
		if t.Geolocation != nil {
			located = append(located, t)
		}
	}

	sort.SliceStable(located, func(i, j int) bool {
		di, dj := client.Distance(located[i].Geolocation), client.Distance(located[j].Geolocation)
		if di != dj {
			return di < dj
		}

		return located[i].GeoOrder < located[j].GeoOrder
	})

	return located
}

func lowestOrder(targets []Target) (Target, bool) {
	var (
		best  Target
		found bool
	)

	for _, t := range targets {
		if t.Weight != 0 {
			continue
		}

		if !found || t.Order < best.Order {
			best, found = t, true
		}
	}

	return best, found
}

// Resolve returns the target delivery service id for the request.
// exists tells whether a delivery service is part of the current
// configuration.
func (s *Steering) Resolve(r Request, exists func(string) bool) (string, bool) {
	if r.Option != "" {
		if s.HasTarget(r.Option) && exists(r.Option) {
			return r.Option, true
		}

		return "", false
	}

	if id, ok := s.FilterTarget(r.Path); ok && s.HasTarget(id) && exists(id) {
		return id, true
	}

	targets := s.available(exists)
	if len(targets) == 0 {
		return "", false
	}

	if located := geoOrdered(targets, r.Client); len(located) > 0 {
		return located[0].DeliveryService, true
	}

	if t, ok := weighted(targets, r.Key); ok {
		return t.DeliveryService, true
	}

	if t, ok := lowestOrder(targets); ok {
		return t.DeliveryService, true
	}

	return "", false
}

// ResolveAll returns all available targets for client steering. The
// target chosen by Resolve comes first, the others follow by order,
// distance to the client and geo order.
func (s *Steering) ResolveAll(r Request, exists func(string) bool) []string {
	targets := s.available(exists)
	if len(targets) == 0 {
		return nil
	}

	primary, hasPrimary := s.Resolve(Request{Key: r.Key, Path: r.Path, Client: r.Client}, exists)
	sort.SliceStable(targets, func(i, j int) bool {
		ti, tj := targets[i], targets[j]
		if ti.Order != tj.Order {
			return ti.Order < tj.Order
		}

		if r.Client != nil {
			di, dj := r.Client.Distance(ti.Geolocation), r.Client.Distance(tj.Geolocation)
			if di != dj {
				return di < dj
			}
		}

		return ti.GeoOrder < tj.GeoOrder
	})

	var ids []string
	if hasPrimary {
		ids = append(ids, primary)
	}

	for _, t := range targets {
		if hasPrimary && t.DeliveryService == primary {
			continue
		}

		ids = append(ids, t.DeliveryService)
	}

	return ids
}
