// Package sink holds item sinks that sit at the end of the pipeline.
//
// The root package provides the zap log sink and a fan-out sink that feeds
// several sinks at once. Durable destinations live in subpackages: export
// (JSONL parts in a blob store), postgres, sqlite and pubsub. The memory
// subpackage keeps items for tests and dry runs.
package sink
