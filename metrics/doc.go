/*
Package metrics implements collection of the variant serving metrics.

It uses the Prometheus client library:

https://github.com/prometheus/client_golang

The collected metrics include the number of variant assignments, per
variant and per kind of assignment (new or sticky), the duration and the
status of the requests to the manifest endpoint and to the variant
origins, the number of failed origin requests, the number of failed
rewrite streams, and the total duration of serving the responses.

Options

The metrics are exposed on the support listener, next to the health
check, at the /metrics path. When the runtime metrics are enabled, the
Go runtime and process collectors are registered, too.
*/
package metrics
