/*
Package metrics implements collection of the routing metrics.

Two backends are available, chosen with Options.Format. The Prometheus
backend uses the Prometheus client library:

https://github.com/prometheus/client_golang

and the CodaHale backend the Go implementation of the Coda Hale metrics
library:

https://github.com/dropwizard/metrics

The collected metrics include the result of every routing decision, by
route type, result type and result details, the duration of the
decisions, the generation and build time of the routing snapshots, and
the entities skipped while building them.

For the keys used by the CodaHale backend, please, see the Key*
constants. The Prometheus backend uses the same names with the
"trafficrouter" namespace, or the configured prefix.

The metrics are served by the handler returned from NewHandler, usually
on the support listener.
*/
package metrics
