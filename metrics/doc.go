// Package metrics exposes storeguard counters as Prometheus collectors.
//
// Collectors are registered on a caller-supplied prometheus.Registerer, never the
// global default. Every method is safe on a nil *Metrics, so components can hold an
// optional pointer without guarding each call. *Metrics implements the Observer
// interfaces of the session, csrf and cart packages.
package metrics
