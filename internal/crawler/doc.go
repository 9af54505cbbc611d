// Package crawler defines the value objects shared by every stage of a crawl
// (Request, Response, Item, ParseResult, Step) and the contracts the engine
// drives: Spider, Queue, Transport, Middleware hooks, Processor and ItemSink.
package crawler
