// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, a message bus publisher and operator alert rules.
package sinks
