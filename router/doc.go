/*
Package router decides where DNS and HTTP requests of clients are sent.

A request is routed against a single snapshot, taken from the snapshot
source when the routing starts. The decision runs through these steps:

	select delivery service
	availability check
	coverage zone lookup
	federation lookup (DNS only)
	geolocation lookup
	cache selection
	regional geo enforcement (HTTP only)

Every step may end the routing with a terminal result. The result and
its details are recorded on the stats.Track of the request, together
with the location of the selected caches and the client geolocation,
when it was queried.

The coverage zone lookup returns the location of the most specific zone
containing the client address. When this location has no cache serving
the delivery service, the backup locations of the zone location are
tried in order, and, unless disabled for the location, the location
closest to the zone coordinates. A zone location that is not enabled
for coverage zone localization stops the routing from falling back to
geolocation.

The geolocation lookup resolves the client address with the configured
Locator. Lookups failing or timing out count as not located, and the
miss location of the delivery service is used instead. Locations are
then tried by distance from the client, up to the location failover
limit of the delivery service.

DNS answers contain the address records of the selected caches, capped
by the maximum number of addresses of the delivery service. HTTP
requests are answered with the URL of one cache chosen by consistent
hashing of the request path, or, for client steering delivery services,
with one URL per steering target.

The router never panics out of a routing call. A recovered panic is
reported as ERROR result.
*/
package router
