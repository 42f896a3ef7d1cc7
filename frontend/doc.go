/*
Package frontend adapts the router to the network.

The HTTP handler answers a routed request with a 302 redirect to the
selected cache. Client steering requests, routed to more than one
cache, are answered with a JSON document listing all the URLs:

	{"locations": ["http://edge1.video.example.org/a.ts", "http://edge2.video.example.org/a.ts"]}

Requests that could not be routed get the status of the routing result,
like 520 for a regional geo deny, or the configured default status.

The DNS handler answers A and AAAA queries, and CNAME answers of bypass
and federation destinations, authoritatively. Names that do not belong
to a DNS delivery service are answered with NXDOMAIN. When a query
carries the EDNS client subnet option, the address of the subnet is
routed instead of the address of the resolver.

Both handlers record every request on a stats.Track.
*/
package frontend
