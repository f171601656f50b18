// Package sinks implements progress consumers: structured logging and
// Prometheus collectors. Each sink satisfies progress.Sink.
package sinks
