// Package progress provides the event primitives and non-blocking hub that
// discovery and extraction use to report per-page progress. Events are batched
// on a background goroutine and fanned out to sinks such as structured logs
// and Prometheus collectors.
package progress
