// Package pipeline is the boundary the HTTP, MCP and CLI surfaces talk to.
//
// It owns one scheduler, ledger, parser and vector index manager and maps
// project names to directories under the data directory. Files go through
// FilterEligible, are parsed by the scheduler's worker pool and, when
// auto-indexing is on, have their templates added to the project index as
// soon as the parse completes.
package pipeline
