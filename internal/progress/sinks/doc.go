// Package sinks implements progress consumers: structured logging,
// Prometheus collectors and an in-memory ring of recent events. Each
// satisfies progress.Sink.
package sinks
