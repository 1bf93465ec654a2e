package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/embedder"
	"github.com/dshills/logsift/internal/filelock"
	"github.com/dshills/logsift/internal/ledger"
	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/internal/miner"
	"github.com/dshills/logsift/internal/parser"
	"github.com/dshills/logsift/internal/resultstore"
	"github.com/dshills/logsift/internal/scheduler"
	"github.com/dshills/logsift/internal/vectorindex"
	"github.com/dshills/logsift/pkg/types"
)

// OutcomeIneligible marks files dropped by FilterEligible
const OutcomeIneligible scheduler.Outcome = "ineligible"

// Options configures a Pipeline
type Options struct {
	DataDir   string
	AutoIndex bool // Index templates as soon as a file is parsed
	Scheduler scheduler.Config
	Miner     miner.Config
	Lock      filelock.Options
	Index     vectorindex.Config
}

// Pipeline wires parsing, state tracking and indexing per project
type Pipeline struct {
	opts      Options
	embedder  embedder.Embedder
	ledger    *ledger.Ledger
	results   *resultstore.Store
	scheduler *scheduler.Scheduler
	index     *vectorindex.Manager
	indexing  filelock.KeyedMutex
	log       *zap.SugaredLogger
}

// ProjectStatus summarizes one project
type ProjectStatus struct {
	Project   string                     `json:"project"`
	Files     map[string]types.FileState `json:"files"`
	Counts    map[string]int             `json:"counts"`
	Templates int                        `json:"templates"`
}

// New creates a Pipeline embedding templates with emb. The pipeline owns emb
// and closes it on Shutdown.
func New(opts Options, emb embedder.Embedder, logger *zap.SugaredLogger) (*Pipeline, error) {
	if opts.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := opts.Miner.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid miner config")
	}
	if opts.Lock.Logger == nil {
		opts.Lock.Logger = logger
	}
	opts.Scheduler.Lock = opts.Lock
	opts.Index.Lock = opts.Lock

	results := resultstore.New(logger)
	p := &Pipeline{
		opts:     opts,
		embedder: emb,
		ledger:   ledger.New(opts.Lock, logger),
		results:  results,
		index:    vectorindex.New(emb, opts.Index, logger),
		log:      logging.Component(logger, "pipeline"),
	}

	schedCfg := opts.Scheduler
	userHook := schedCfg.OnComplete
	schedCfg.OnComplete = func(res scheduler.JobResult) {
		if opts.AutoIndex && res.State == types.StateParsed {
			p.autoIndex(res)
		}
		if userHook != nil {
			userHook(res)
		}
	}

	prs := parser.New(opts.Miner, results, opts.Lock, logger)
	p.scheduler = scheduler.New(schedCfg, p.ledger, results, prs, logger)
	return p, nil
}

// ProjectDir maps a project name to its directory
func (p *Pipeline) ProjectDir(project string) (string, error) {
	project = strings.TrimSpace(project)
	if project == "" {
		return "", types.ErrProjectRequired
	}
	if project == "." || project == ".." || strings.ContainsAny(project, `/\`) {
		return "", errors.Wrapf(types.ErrInvalidProject, "%q", project)
	}
	return filepath.Join(p.opts.DataDir, project), nil
}

// ScheduleFiles filters files and hands the eligible ones to the scheduler.
// Outcomes are keyed by original filename.
func (p *Pipeline) ScheduleFiles(ctx context.Context, project string, files []types.UploadedFile) (map[string]scheduler.Outcome, error) {
	dir, err := p.ProjectDir(project)
	if err != nil {
		return nil, err
	}

	files = append([]types.UploadedFile(nil), files...)
	for i := range files {
		files[i].OriginalName = displayName(files[i])
	}

	eligible, rejected := FilterEligible(files)
	for name, reason := range rejected {
		p.log.Debugw("File not eligible", logging.FieldProject, project, logging.FieldFile, name, "reason", reason)
	}

	outcomes := p.scheduler.ScheduleFiles(ctx, dir, eligible)
	for name := range rejected {
		outcomes[name] = OutcomeIneligible
	}

	p.log.Infow("Files scheduled",
		logging.FieldProject, project,
		logging.FieldCount, len(eligible),
		"ineligible", len(rejected),
	)
	return outcomes, nil
}

// ReadStatus returns the ledger of a project
func (p *Pipeline) ReadStatus(project string) (map[string]types.FileState, error) {
	dir, err := p.ProjectDir(project)
	if err != nil {
		return nil, err
	}
	return p.ledger.Read(dir)
}

// Status returns the ledger of a project with per-state counts and the
// number of indexed templates
func (p *Pipeline) Status(project string) (*ProjectStatus, error) {
	dir, err := p.ProjectDir(project)
	if err != nil {
		return nil, err
	}
	files, err := p.ledger.Read(dir)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, fs := range files {
		counts[fs.State.String()]++
	}

	templates, err := p.index.Count(dir)
	if err != nil {
		p.log.Warnw("Index count unavailable", logging.FieldProject, project, logging.FieldError, err)
	}

	return &ProjectStatus{
		Project:   project,
		Files:     files,
		Counts:    counts,
		Templates: templates,
	}, nil
}

// Search runs a semantic search over the templates of a project
func (p *Pipeline) Search(ctx context.Context, project, query string, topK int) ([]types.SearchResult, error) {
	dir, err := p.ProjectDir(project)
	if err != nil {
		return nil, err
	}
	return p.index.Search(ctx, dir, query, topK)
}

// Templates lists the indexed templates of a project, most frequent first
func (p *Pipeline) Templates(ctx context.Context, project string) ([]types.TemplateRecord, error) {
	dir, err := p.ProjectDir(project)
	if err != nil {
		return nil, err
	}
	return p.index.Templates(ctx, dir)
}

// IndexFile adds the templates of a parsed file to the project index and
// moves its ledger entry to indexed. The result file is located from the
// upload path recorded in the ledger. An already indexed file is a no-op.
func (p *Pipeline) IndexFile(ctx context.Context, project, originalName string) (int, error) {
	dir, err := p.ProjectDir(project)
	if err != nil {
		return 0, err
	}
	return p.indexFile(ctx, dir, originalName)
}

func (p *Pipeline) indexFile(ctx context.Context, dir, originalName string) (int, error) {
	start := time.Now()

	unlock := p.indexing.Lock(dir + "\x00" + originalName)
	defer unlock()

	current, known, err := p.ledger.Get(dir, originalName)
	if err != nil {
		return 0, err
	}
	if known && current.State == types.StateIndexed {
		return 0, nil
	}
	if !known || current.State != types.StateParsed {
		from := "absent"
		if known {
			from = current.State.String()
		}
		return 0, errors.Wrapf(types.ErrInvalidTransition, "%s is %s, not parsed", originalName, from)
	}
	if current.Path == "" {
		return 0, errors.Wrapf(types.ErrUnknownFile, "%s", originalName)
	}

	added, err := p.addTemplates(ctx, dir, originalName, current.Path)
	if err != nil {
		if uerr := p.ledger.Update(ctx, dir, originalName, types.StateError, err.Error()); uerr != nil {
			p.log.Errorw("Failed to record index failure", logging.FieldFile, originalName, logging.FieldError, uerr)
		}
		return 0, err
	}

	if err := p.ledger.Update(ctx, dir, originalName, types.StateIndexed, ""); err != nil {
		return added, err
	}

	p.log.Infow("File indexed",
		logging.FieldProject, dir,
		logging.FieldFile, originalName,
		logging.FieldCount, added,
		logging.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return added, nil
}

func (p *Pipeline) addTemplates(ctx context.Context, dir, originalName, path string) (int, error) {
	if !p.results.Exists(path) {
		return 0, errors.Newf("no parse result for %s", originalName)
	}
	rows, err := p.results.Read(path)
	if err != nil {
		return 0, err
	}
	return p.index.AddTemplates(ctx, dir, rows, originalName)
}

// autoIndex runs on the worker goroutine that just finished parsing
func (p *Pipeline) autoIndex(res scheduler.JobResult) {
	if _, err := p.indexFile(context.Background(), res.ProjectDir, res.File); err != nil {
		p.log.Errorw("Automatic indexing failed",
			logging.FieldJobID, res.ID,
			logging.FieldFile, res.File,
			logging.FieldError, err,
		)
	}
}

// Wait blocks until every scheduled job, including automatic indexing, is done
func (p *Pipeline) Wait() {
	p.scheduler.Wait()
}

// Stats returns the scheduler counters
func (p *Pipeline) Stats() scheduler.Statistics {
	return p.scheduler.Stats()
}

// Embedder returns the embedder used for indexing and search
func (p *Pipeline) Embedder() embedder.Embedder {
	return p.embedder
}

// Shutdown drops jobs that have not started, waits for running ones until
// ctx expires and releases the embedder
func (p *Pipeline) Shutdown(ctx context.Context) error {
	err := p.scheduler.Shutdown(ctx)
	if cerr := p.embedder.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "failed to close embedder")
	}
	return err
}
