// Package progress carries the events an engine run emits about fetches,
// drops, parse failures and items. A Hub batches them off the hot path and
// fans them out to pluggable sinks such as Prometheus metrics or structured
// logs.
package progress
