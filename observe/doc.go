// Package observe holds the Prometheus metrics for the loop and a label
// filter that keeps high-cardinality identifiers (uuids, user and session
// ids) out of metric labels. A nil *Metrics is a no-op, so instrumented code
// never has to nil-check.
package observe
