package geo

import (
	"context"
	"errors"
	"net/netip"
	"sort"
)

// ErrNotFound is returned by providers that have no data for an
// address.
var ErrNotFound = errors.New("geolocation not found")

// Provider resolves client addresses. Implementations may block, the
// router only calls them through a Locator.
type Provider interface {
	Locate(ctx context.Context, addr netip.Addr) (*Geolocation, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, addr netip.Addr) (*Geolocation, error)

func (f ProviderFunc) Locate(ctx context.Context, addr netip.Addr) (*Geolocation, error) {
	return f(ctx, addr)
}

type tableEntry struct {
	prefix   netip.Prefix
	location *Geolocation
}

// Table is an in-memory provider mapping network prefixes to
// geolocations. The most specific prefix wins.
type Table struct {
	entries []tableEntry
}

// NewTable creates a table provider. The map is not retained.
func NewTable(m map[netip.Prefix]*Geolocation) *Table {
	t := &Table{}
	for p, l := range m {
		t.entries = append(t.entries, tableEntry{prefix: p.Masked(), location: l})
	}

	sort.Slice(t.entries, func(i, j int) bool {
		bi, bj := t.entries[i].prefix.Bits(), t.entries[j].prefix.Bits()
		if bi != bj {
			return bi > bj
		}

		return t.entries[i].prefix.Addr().Less(t.entries[j].prefix.Addr())
	})

	return t
}

// Locate returns the location of the most specific matching prefix, or
// ErrNotFound.
func (t *Table) Locate(_ context.Context, addr netip.Addr) (*Geolocation, error) {
	addr = addr.Unmap()
	for _, e := range t.entries {
		if e.prefix.Contains(addr) {
			return e.location, nil
		}
	}

	return nil, ErrNotFound
}
