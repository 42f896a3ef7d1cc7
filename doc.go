/*
Package trafficrouter provides the request routing decision core of a
CDN: for every client request it selects the edge caches that should
serve the content.

Clients reach the traffic router either by resolving the name of a
delivery service (DNS routing), or by requesting content from it
directly (HTTP routing). DNS clients receive the addresses of the
selected caches, HTTP clients are redirected to them.

The routing decision is based on a snapshot of the CDN configuration:
the cache locations, the caches and their availability, the delivery
services, the coverage zones, steering, regional geo blocking and
federations. The snapshot is loaded from JSON documents, and it is
replaced atomically whenever one of the documents changes, without
restarting the process.

# Quickstart

Build the command:

	go build ./cmd/trafficrouter

Start it with a router configuration and a coverage zone file:

	trafficrouter -crconfig-file crconfig.json -coverage-zone-file czf.json -dns-address :5353

Query it with DNS:

	dig @localhost -p 5353 edge.live.cdn.example.org

Or request content over HTTP:

	curl -v -H 'Host: edge.video.cdn.example.org' localhost:8080/movie.mp4

# Localization

Clients are localized first by their coverage zone, the longest
configured network prefix that contains the client address. When the
coverage zone does not cover the client, or its location cannot serve
the delivery service, the client is localized by its geolocation, and
routed to the closest location that serves the delivery service. The
geolocations are read from a JSON table passed with the
-geolocation-file flag. Without it, clients not covered by a coverage
zone are routed relative to the miss location of the delivery service.

# Selecting caches

Within the selected location, the caches are ordered by consistent
hashing of the request path, so that requests for the same content are
served by the same caches. DNS answers contain up to the configured
number of cache addresses. HTTP clients are redirected to the first
cache, or, when the delivery service uses client steering, receive the
list of cache URLs.

# Observability

Every routing decision is recorded as a track, counted in the metrics
served on the support listener (-support-listener, /metrics), and
written to the access log. The counts by routing type are served as
JSON under /stats.

# Packages

The snapshot package holds the configuration, dataclients/jsonfile
loads it, and routing keeps it current. The router package makes the
decisions, and the frontend package serves them over HTTP and DNS. The
config package parses the command line and the YAML configuration
file, and Run wires the parts together.
*/
package trafficrouter
