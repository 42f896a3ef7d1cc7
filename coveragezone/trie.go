/*
Package coveragezone implements the coverage zone network trie.

Operators map client networks to cache locations. The trie stores these
CIDRs so that any two nodes below the same parent are either disjoint,
or one contains the other, in which case the narrower one is a
descendant. Inserting a wider network after narrower ones moves the
narrower nodes below the new one.

IPv4 and IPv6 networks live in separate trees; Zones holds one of each
and dispatches lookups by the address family of the client.

Every node carries a memo for the resolved cache location object of its
location id. The memo is tagged with the configuration generation that
filled it and is only served for that generation. ClearLocations wipes
the memos of a tree; it must be called after the configuration that
invalidates them has been published.
*/
package coveragezone

import (
	"fmt"
	"net/netip"
	"sort"
	"sync/atomic"

	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/net"
)

type memo struct {
	generation uint64
	value      any
}

// Node of the coverage zone trie.
type Node struct {
	prefix      netip.Prefix
	location    string
	geolocation *geo.Geolocation
	children    []*Node
	memo        atomic.Pointer[memo]
}

// Tree is a coverage zone trie for a single address family.
type Tree struct {
	family net.Family
	root   *Node
	size   int
}

// Zones combines the IPv4 and the IPv6 trees.
type Zones struct {
	V4 *Tree
	V6 *Tree
}

// Prefix returns the network of the node.
func (n *Node) Prefix() netip.Prefix { return n.prefix }

// Location returns the cache location id the network is mapped to.
func (n *Node) Location() string { return n.location }

// Geolocation returns the coordinates configured for the network, or
// nil.
func (n *Node) Geolocation() *geo.Geolocation { return n.geolocation }

// Cached returns the memoized value for the given generation.
func (n *Node) Cached(generation uint64) (any, bool) {
	m := n.memo.Load()
	if m == nil || m.generation != generation {
		return nil, false
	}

	return m.value, true
}

// Remember memoizes a value for the given generation.
func (n *Node) Remember(generation uint64, v any) {
	n.memo.Store(&memo{generation: generation, value: v})
}

func (n *Node) String() string {
	return fmt.Sprintf("%s -> %s", n.prefix, n.location)
}

func rootPrefix(f net.Family) netip.Prefix {
	if f == net.IPv6 {
		return netip.PrefixFrom(netip.IPv6Unspecified(), 0)
	}

	return netip.PrefixFrom(netip.IPv4Unspecified(), 0)
}

// NewTree creates an empty tree. Its root is the catch-all network of
// the family and maps to no location.
func NewTree(f net.Family) *Tree {
	return &Tree{family: f, root: &Node{prefix: rootPrefix(f)}}
}

// Family returns the address family of the tree.
func (t *Tree) Family() net.Family { return t.family }

// Len returns the number of inserted networks.
func (t *Tree) Len() int { return t.size }

func (n *Node) insert(c *Node) bool {
	for _, ch := range n.children {
		if ch.prefix == c.prefix {
			return false
		}

		if net.Contains(ch.prefix, c.prefix) {
			return ch.insert(c)
		}
	}

	var keep []*Node
	for _, ch := range n.children {
		if net.Contains(c.prefix, ch.prefix) {
			c.children = append(c.children, ch)
		} else {
			keep = append(keep, ch)
		}
	}

	keep = append(keep, c)
	sort.Slice(keep, func(i, j int) bool {
		return keep[i].prefix.Addr().Less(keep[j].prefix.Addr())
	})

	n.children = keep
	return true
}

// Insert adds a network. It returns false when the exact network is
// already present, in which case the earlier mapping is kept. Networks
// of the other address family are rejected with an error.
func (t *Tree) Insert(p netip.Prefix, location string, g *geo.Geolocation) (bool, error) {
	if !p.IsValid() {
		return false, fmt.Errorf("invalid network: %v", p)
	}

	if location == "" {
		return false, fmt.Errorf("network %s without location", p)
	}

	p = p.Masked()
	if net.FamilyOf(p.Addr()) != t.family || (t.family == net.IPv4 && !p.Addr().Is4()) {
		return false, fmt.Errorf("network %s does not belong to the %s tree", p, t.family)
	}

	if p == t.root.prefix {
		if t.root.location != "" {
			return false, nil
		}

		t.root.location = location
		t.root.geolocation = g
		t.size++
		return true, nil
	}

	if !t.root.insert(&Node{prefix: p, location: location, geolocation: g}) {
		return false, nil
	}

	t.size++
	return true, nil
}

func (n *Node) child(addr netip.Addr) *Node {
	i := sort.Search(len(n.children), func(i int) bool {
		return addr.Less(n.children[i].prefix.Addr())
	})

	if i == 0 {
		return nil
	}

	if c := n.children[i-1]; c.prefix.Contains(addr) {
		return c
	}

	return nil
}

// Lookup returns the most specific node containing addr. Addresses
// only covered by the empty root are not found.
func (t *Tree) Lookup(addr netip.Addr) (*Node, bool) {
	addr = addr.Unmap()
	if !t.root.prefix.Contains(addr) {
		return nil, false
	}

	n := t.root
	for {
		c := n.child(addr)
		if c == nil {
			break
		}

		n = c
	}

	if n.location == "" {
		return nil, false
	}

	return n, true
}

// Walk calls f for every inserted node, parents first.
func (t *Tree) Walk(f func(*Node)) {
	var walk func(*Node)
	walk = func(n *Node) {
		if n.location != "" {
			f(n)
		}

		for _, c := range n.children {
			walk(c)
		}
	}

	walk(t.root)
}

// ClearLocations removes the memoized values from every node.
func (t *Tree) ClearLocations() {
	var wipe func(*Node)
	wipe = func(n *Node) {
		n.memo.Store(nil)
		for _, c := range n.children {
			wipe(c)
		}
	}

	wipe(t.root)
}

// NewZones creates an empty IPv4 and IPv6 tree pair.
func NewZones() *Zones {
	return &Zones{V4: NewTree(net.IPv4), V6: NewTree(net.IPv6)}
}

// Insert adds a network to the tree of its family.
func (z *Zones) Insert(p netip.Prefix, location string, g *geo.Geolocation) (bool, error) {
	return z.Tree(net.FamilyOf(p.Addr())).Insert(p, location, g)
}

// Tree returns the tree of the address family.
func (z *Zones) Tree(f net.Family) *Tree {
	if f == net.IPv6 {
		return z.V6
	}

	return z.V4
}

// Lookup classifies addr and queries the tree of its family.
func (z *Zones) Lookup(addr netip.Addr) (*Node, bool) {
	if z == nil || !addr.IsValid() {
		return nil, false
	}

	return z.Tree(net.FamilyOf(addr)).Lookup(addr)
}

// Len returns the number of networks in both trees.
func (z *Zones) Len() int {
	return z.V4.Len() + z.V6.Len()
}

// ClearLocations clears the memos of both trees.
func (z *Zones) ClearLocations() {
	z.V4.ClearLocations()
	z.V6.ClearLocations()
}
