/*
Package routing holds the snapshot the requests are routed against, and
keeps it up to date from a data client.

# Snapshots

The routing state is an immutable snapshot.Snapshot. Request handling
reads the current snapshot once with Get and uses it for the whole
decision, so that a single request never sees two configurations. A new
snapshot is published with a single atomic pointer swap. The location
memo of the replaced snapshot is cleared only after the swap.

Every published snapshot carries a generation number, increasing with
every publish.

# Data Clients

A DataClient provides the snapshot configuration. The routing loads the
full configuration on start, retrying with exponential backoff until it
succeeds, and then polls the client for updates with the configured poll
timeout.

When a load fails, for example because a configuration document is
structurally invalid, the current snapshot stays in service. Invalid
single entities, like a cache with an unknown location, don't fail a
load. They are left out of the snapshot, logged, and counted by reason
in the metrics.
*/
package routing
