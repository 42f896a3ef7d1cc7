package deliveryservice

import (
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// The first HOST matcher of a delivery service commonly starts with
// a wildcard label. It is widened so that the bare domain matches too.
const (
	wildcardHostPrefix = `.*\.`
	widenedHostPrefix  = `(.*\.|^)`
)

type entry struct {
	set MatchSet
	ds  *DeliveryService
}

// Table contains the delivery services of a configuration.
type Table struct {
	byID    map[string]*DeliveryService
	entries []entry
}

// WidenWildcardHost applies the wildcard widening to a host pattern.
func WidenWildcardHost(pattern string) string {
	if strings.HasPrefix(pattern, wildcardHostPrefix) {
		return widenedHostPrefix + strings.TrimPrefix(pattern, wildcardHostPrefix)
	}

	return pattern
}

// NewTable creates a table. Delivery services with duplicate ids are
// skipped, the first one wins.
func NewTable(dss []*DeliveryService) *Table {
	t := &Table{byID: make(map[string]*DeliveryService, len(dss))}
	for _, ds := range dss {
		if _, exists := t.byID[ds.ID]; exists {
			log.Errorf("duplicate delivery service id: %s", ds.ID)
			continue
		}

		t.byID[ds.ID] = ds
		for _, s := range ds.MatchSets {
			t.entries = append(t.entries, entry{set: s, ds: ds})
		}
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		c := CompareMatchSets(t.entries[i].set, t.entries[j].set)
		if c != 0 {
			return c < 0
		}

		return t.entries[i].ds.ID < t.entries[j].ds.ID
	})

	return t
}

// Get returns a delivery service by id.
func (t *Table) Get(id string) *DeliveryService {
	if t == nil {
		return nil
	}

	return t.byID[id]
}

// Len returns the number of delivery services.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.byID)
}

// All returns the delivery services ordered by id.
func (t *Table) All() []*DeliveryService {
	if t == nil {
		return nil
	}

	all := make([]*DeliveryService, 0, len(t.byID))
	for _, ds := range t.byID {
		all = append(all, ds)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Lookup returns the delivery service owning the request, or nil.
func (t *Table) Lookup(r *Request) *DeliveryService {
	if t == nil {
		return nil
	}

	for _, e := range t.entries {
		if e.set.Match(r) {
			return e.ds
		}
	}

	return nil
}
