// Package metrics defines the prometheus collectors exposed by the
// monitor's optional /metrics listener.
package metrics
