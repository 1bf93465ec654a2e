// Package parser turns one log file into its parsed table.
//
// A parse normalizes the raw lines (timestamps, continuation lines, ordering),
// clusters every message into a template with the project's miner and writes
// the rows to the file's result file.
//
// # Basic Usage
//
//	p := parser.New(miner.DefaultConfig(), resultstore.New(logger), filelock.DefaultOptions(), logger)
//	result, err := p.ParseFile(ctx, "/data/acme", "/uploads/device.log")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d rows, %d templates (cached=%v)\n", len(result.Rows), result.Templates, result.Cached)
//
// # Idempotence
//
// A file whose result file already exists is never mined again: ParseFile
// returns the stored rows and leaves the miner state untouched. A result file
// that cannot be decoded is removed and the file is parsed from scratch.
//
// # Project Admission
//
// Normalization runs in parallel across files. Mining does not: one miner
// state exists per project, so mining is serialized per project directory by
// an in-process keyed mutex plus an advisory lock on the state file. The
// state is loaded, extended with the file's messages and saved inside that
// critical section, so concurrent parses never overwrite each other's
// clusters.
package parser
