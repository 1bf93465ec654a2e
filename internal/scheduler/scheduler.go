package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/logsift/internal/filelock"
	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/pkg/types"
)

// Outcome is the immediate scheduling decision for one file
type Outcome string

const (
	OutcomeParsed    Outcome = "parsed"    // result already exists
	OutcomeSkipped   Outcome = "skipped"   // queued elsewhere or terminal
	OutcomeScheduled Outcome = "scheduled" // job submitted
	OutcomeRejected  Outcome = "error"     // ledger could not be updated
)

// MessageCancelled is recorded for jobs dropped by Shutdown before they started
const MessageCancelled = "cancelled before start"

// FileParser parses one file within a project
type FileParser interface {
	ParseFile(ctx context.Context, projectDir, path string) (*types.ParseResult, error)
}

// Ledger is the per-project file state store
type Ledger interface {
	Read(projectDir string) (map[string]types.FileState, error)
	Update(ctx context.Context, projectDir, filename string, state types.State, message string) error
	Enqueue(ctx context.Context, projectDir, filename, uploadPath string) error
}

// ResultChecker reports whether a file already has a parse result
type ResultChecker interface {
	Exists(path string) bool
}

// Config contains configuration for the scheduler
type Config struct {
	Workers          int              // Concurrent parse jobs (default: 2)
	QueuedStaleAfter time.Duration    // Age after which a queued entry is requeued (default: 30m)
	Lock             filelock.Options // Input file lock options
	OnComplete       func(JobResult)  // Optional hook called after each job
}

// JobResult reports one finished job
type JobResult struct {
	ID         string        `json:"id"`
	ProjectDir string        `json:"project_dir"`
	File       string        `json:"file"`
	Path       string        `json:"path"`
	State      types.State   `json:"state"`
	Message    string        `json:"message,omitempty"`
	Rows       int           `json:"rows"`
	Templates  int           `json:"templates"`
	Cached     bool          `json:"cached"`
	Duration   time.Duration `json:"duration"`
}

// Statistics counts scheduler activity since start
type Statistics struct {
	Scheduled int32 `json:"scheduled"`
	Skipped   int32 `json:"skipped"`
	Parsed    int32 `json:"parsed"`
	Failed    int32 `json:"failed"`
	Running   int32 `json:"running"`
	InFlight  int   `json:"in_flight"`
}

type job struct {
	id         string
	projectDir string
	file       types.UploadedFile
}

// Scheduler runs parse jobs on a bounded pool
type Scheduler struct {
	cfg     Config
	ledger  Ledger
	results ResultChecker
	parser  FileParser
	log     *zap.SugaredLogger

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}

	scheduled atomic.Int32
	skipped   atomic.Int32
	parsed    atomic.Int32
	failed    atomic.Int32
	running   atomic.Int32

	now func() time.Time
}

// New creates a scheduler. Workers below 1 default to 2.
func New(cfg Config, ledger Ledger, results ResultChecker, parser FileParser, logger *zap.SugaredLogger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueuedStaleAfter <= 0 {
		cfg.QueuedStaleAfter = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		ledger:   ledger,
		results:  results,
		parser:   parser,
		log:      logging.Component(logger, "scheduler"),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// ScheduleFiles decides the fate of every file and submits parse jobs for
// those that need one. It returns without waiting for any job; outcomes are
// keyed by original filename.
func (s *Scheduler) ScheduleFiles(ctx context.Context, projectDir string, files []types.UploadedFile) map[string]Outcome {
	outcomes := make(map[string]Outcome, len(files))

	states, err := s.ledger.Read(projectDir)
	if err != nil {
		s.log.Warnw("Ledger unreadable, scheduling from empty state",
			logging.FieldProject, projectDir, logging.FieldError, err)
		states = map[string]types.FileState{}
	}

	for _, f := range files {
		outcome := s.scheduleOne(ctx, projectDir, f, states)
		outcomes[f.OriginalName] = outcome
		if outcome == OutcomeSkipped || outcome == OutcomeParsed {
			s.skipped.Add(1)
		}
	}
	return outcomes
}

func (s *Scheduler) scheduleOne(ctx context.Context, projectDir string, f types.UploadedFile, states map[string]types.FileState) Outcome {
	if s.results.Exists(f.Path) {
		return OutcomeParsed
	}

	key := inflightKey(projectDir, f.OriginalName)
	if !s.claim(key) {
		return OutcomeSkipped
	}

	current, known := states[f.OriginalName]
	if known {
		switch current.State {
		case types.StateQueued:
			if !s.isStale(current) {
				s.release(key)
				return OutcomeSkipped
			}
			s.log.Infow("Requeuing stale entry", logging.FieldProject, projectDir, logging.FieldFile, f.OriginalName)
		case types.StateIndexed:
			s.release(key)
			return OutcomeSkipped
		case types.StateParsed:
			// result vanished after parsing
			if err := s.ledger.Update(ctx, projectDir, f.OriginalName, types.StateError, "parse result missing"); err != nil {
				s.release(key)
				s.log.Errorw("Failed to reset ledger entry", logging.FieldFile, f.OriginalName, logging.FieldError, err)
				return OutcomeRejected
			}
		}
	}

	if err := s.ledger.Enqueue(ctx, projectDir, f.OriginalName, f.Path); err != nil {
		s.release(key)
		s.log.Errorw("Failed to queue file", logging.FieldProject, projectDir, logging.FieldFile, f.OriginalName, logging.FieldError, err)
		return OutcomeRejected
	}

	j := job{id: uuid.NewString(), projectDir: projectDir, file: f}
	s.scheduled.Add(1)
	s.wg.Add(1)
	go s.run(j, key)

	s.log.Debugw("File scheduled", logging.FieldJobID, j.id, logging.FieldFile, f.OriginalName)
	return OutcomeScheduled
}

// run waits for a worker slot, executes the job and records its outcome
func (s *Scheduler) run(j job, key string) {
	defer s.wg.Done()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		// error is resubmittable, queued would block retries until stale
		if err := s.ledger.Update(context.Background(), j.projectDir, j.file.OriginalName, types.StateError, MessageCancelled); err != nil {
			s.log.Errorw("Failed to record dropped job",
				logging.FieldJobID, j.id, logging.FieldFile, j.file.OriginalName, logging.FieldError, err)
		}
		s.release(key)
		s.log.Warnw("Job dropped before start",
			logging.FieldJobID, j.id, logging.FieldFile, j.file.OriginalName)
		return
	}
	s.running.Add(1)
	res := s.execute(j)
	s.running.Add(-1)
	s.sem.Release(1)

	if err := s.ledger.Update(context.Background(), j.projectDir, j.file.OriginalName, res.State, res.Message); err != nil {
		s.log.Errorw("Failed to record job outcome",
			logging.FieldJobID, j.id, logging.FieldFile, j.file.OriginalName, logging.FieldError, err)
	}
	s.release(key)

	if res.State == types.StateParsed {
		s.parsed.Add(1)
	} else {
		s.failed.Add(1)
	}
	s.log.Infow("Job finished",
		logging.FieldJobID, res.ID,
		logging.FieldFile, res.File,
		logging.FieldState, res.State.String(),
		logging.FieldCount, res.Rows,
		logging.FieldDurationMS, res.Duration.Milliseconds(),
	)

	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete(res)
	}
}

// execute parses the file under its advisory lock. It never panics.
func (s *Scheduler) execute(j job) (res JobResult) {
	start := time.Now()
	res = JobResult{
		ID:         j.id,
		ProjectDir: j.projectDir,
		File:       j.file.OriginalName,
		Path:       j.file.Path,
	}

	defer func() {
		if r := recover(); r != nil {
			res.State = types.StateError
			res.Message = fmt.Sprintf("panic: %v", r)
			s.log.Errorw("Job panicked", logging.FieldJobID, j.id, "panic", r)
		}
		res.Duration = time.Since(start)
	}()

	result, err := s.parseLocked(j)
	if err != nil {
		res.State = types.StateError
		res.Message = err.Error()
		return res
	}

	res.State = types.StateParsed
	res.Rows = len(result.Rows)
	res.Templates = result.Templates
	res.Cached = result.Cached
	return res
}

func (s *Scheduler) parseLocked(j job) (*types.ParseResult, error) {
	lock := filelock.For(j.file.Path, s.cfg.Lock)
	ok, err := lock.Acquire(s.ctx, true)
	if err != nil || !ok {
		cause := "timed out"
		if err != nil {
			cause = err.Error()
		}
		return nil, errors.Wrapf(types.ErrLockContention, "could not lock %s within %s: %s",
			j.file.OriginalName, lock.Budget(), cause)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.log.Warnw("Failed to release file lock", logging.FieldPath, lock.Path(), logging.FieldError, err)
		}
	}()

	return s.parser.ParseFile(s.ctx, j.projectDir, j.file.Path)
}

// Wait blocks until every submitted job has finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown stops jobs that have not started yet and waits for running ones
// until ctx expires
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "scheduler shutdown interrupted")
	}
}

// Stats returns a snapshot of the scheduler counters
func (s *Scheduler) Stats() Statistics {
	s.mu.Lock()
	inflight := len(s.inflight)
	s.mu.Unlock()

	return Statistics{
		Scheduled: s.scheduled.Load(),
		Skipped:   s.skipped.Load(),
		Parsed:    s.parsed.Load(),
		Failed:    s.failed.Load(),
		Running:   s.running.Load(),
		InFlight:  inflight,
	}
}

// InFlight reports whether a file of a project is queued or running here
func (s *Scheduler) InFlight(projectDir, filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[inflightKey(projectDir, filename)]
	return ok
}

func (s *Scheduler) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[key]; ok {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

func (s *Scheduler) isStale(st types.FileState) bool {
	queuedAt := st.Timestamp
	if st.QueuedAt != nil {
		queuedAt = *st.QueuedAt
	}
	return s.now().Sub(queuedAt) > s.cfg.QueuedStaleAfter
}

func inflightKey(projectDir, filename string) string {
	return projectDir + "\x00" + filename
}
