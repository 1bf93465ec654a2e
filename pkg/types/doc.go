// Package types provides shared type definitions for logsift.
//
// This package defines the data model exchanged between the normalizer, the
// template miner, the scheduler and the semantic index.
//
// # Records
//
// LogRecord is one normalized log line. ParsedRow extends it with the mined
// template and the parameter values that landed on the template's
// placeholders:
//
//	row := types.ParsedRow{
//	    LogRecord:  types.LogRecord{Message: "User 1 logged in"},
//	    Template:   "User <NUM> logged in",
//	    Parameters: []string{"1"},
//	}
//
// # File lifecycle
//
// FileState tracks a file through the closed State enumeration:
//
//	queued -> parsed -> indexed
//	queued | parsed -> error
//	error -> queued (resubmission)
//
// CanTransition reports whether a move between two states is allowed; unknown
// state labels are rejected when decoding.
//
// # Index metadata
//
// TemplateRecord is the metadata stored next to each vector of the template
// index; SearchResult is what a semantic lookup returns.
package types
