/*
Package jsonfile implements a data client reading the router
configuration from JSON documents on the local file system.

The documents are the router configuration (locations, caches and
delivery services), the coverage zone file, the steering, regional geo
and federation documents, and the health states of the caches and the
delivery services. A static geolocation table can be loaded with
LoadGeolocations.

A document that can not be used as a whole, because it is not valid
JSON or misses a required section, fails the load, and the routing keeps
serving the previous snapshot. Single invalid entities, like a cache
with an invalid address, are logged and skipped. The regional geo
document is the exception: when it is invalid, the regional geo
enforcement falls back to deny every regional geo request.
*/
package jsonfile
