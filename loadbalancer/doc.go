/*
Package loadbalancer implements the cache selection algorithms applied
by the router once the candidate caches of a location are known.

consistentHash Algorithm

	Every cache owns a fixed set of positions on a 64 bit ring,
	derived from its hash id with xxhash when the configuration is
	built. A request key (the query name for DNS, the request path
	for HTTP) is hashed onto the same ring, and the caches are ranked
	by the distance between the key and their nearest position. Equal
	distances are resolved by moving the later cache one step up
	until the distance is unique, so the ranking is a pure function
	of the key and the cache set.

Dispersion

	A delivery service dispersion limits how many of the ranked caches
	are returned and whether the returned subset is shuffled. The
	shuffle only reorders the selected caches and never changes which
	caches are selected.
*/
package loadbalancer
