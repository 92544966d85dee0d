// Package metrics provides Prometheus metrics for observability.
//
// Each subsystem (committer, pruner, store) has its own metrics struct with
// a promauto-backed constructor for the default registry and a WithRegistry
// variant for tests that need isolation.
package metrics
