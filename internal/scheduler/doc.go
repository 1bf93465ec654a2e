// Package scheduler parses uploaded log files on a bounded worker pool and
// records each file's progress in the project ledger.
//
// # Basic Usage
//
//	s := scheduler.New(scheduler.Config{Workers: 2}, ledger, results, parser, logger)
//	outcomes := s.ScheduleFiles(ctx, "/data/acme", files)
//	// outcomes["device.log"] == scheduler.OutcomeScheduled
//	s.Wait()
//
// # Scheduling Decision
//
// ScheduleFiles never blocks on parsing. For every file it decides:
//
//  1. Result file present: OutcomeParsed, nothing else happens
//  2. Already in flight, or queued recently by any process: OutcomeSkipped
//  3. Otherwise: ledger -> queued, job submitted, OutcomeScheduled
//
// A queued entry older than Config.QueuedStaleAfter that is not in flight
// here is assumed orphaned by a crashed worker and queued again. A parsed
// entry whose result file disappeared goes through error back to queued.
//
// # Jobs
//
// Jobs wait for one of Config.Workers slots; saturation queues, it never
// fails. A running job holds the advisory lock of its input file, parses it,
// and moves the ledger to parsed or error. Panics inside a job are recovered
// into an error state. The optional OnComplete hook observes every finished
// job after the ledger was updated.
package scheduler
