package parser

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/filelock"
	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/internal/miner"
	"github.com/dshills/logsift/internal/normalizer"
	"github.com/dshills/logsift/internal/resultstore"
	"github.com/dshills/logsift/pkg/types"
)

// Parser parses log files into templated rows
type Parser struct {
	normalizer *normalizer.Normalizer
	results    *resultstore.Store
	minerCfg   miner.Config
	lockOpts   filelock.Options
	projects   filelock.KeyedMutex
	log        *zap.SugaredLogger
}

// New creates a new Parser instance
func New(minerCfg miner.Config, results *resultstore.Store, lockOpts filelock.Options, logger *zap.SugaredLogger) *Parser {
	return &Parser{
		normalizer: normalizer.New(),
		results:    results,
		minerCfg:   minerCfg,
		lockOpts:   lockOpts,
		log:        logging.Component(logger, "parser"),
	}
}

// StatePath returns the miner state file of a project directory
func StatePath(projectDir string) string {
	return filepath.Join(projectDir, miner.StateFile)
}

// ParseFile parses path with the miner of projectDir. An existing result is
// returned as is.
func (p *Parser) ParseFile(ctx context.Context, projectDir, path string) (*types.ParseResult, error) {
	start := time.Now()

	if cached, ok := p.cached(path); ok {
		return cached, nil
	}

	records, err := p.normalize(path)
	if err != nil {
		return nil, err
	}

	rows, err := p.mine(ctx, projectDir, records)
	if err != nil {
		return nil, err
	}

	if err := p.results.Write(path, rows); err != nil {
		return nil, err
	}

	result := types.NewParseResult(path, rows, false)
	p.log.Infow("File parsed",
		logging.FieldPath, path,
		logging.FieldCount, len(rows),
		"templates", result.Templates,
		logging.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return result, nil
}

// cached returns the stored result of path, removing it when corrupt
func (p *Parser) cached(path string) (*types.ParseResult, bool) {
	if !p.results.Exists(path) {
		return nil, false
	}

	rows, err := p.results.Read(path)
	if err == nil {
		p.log.Debugw("Result already present, skipping parse", logging.FieldPath, path)
		return types.NewParseResult(path, rows, true), true
	}

	p.log.Warnw("Discarding unreadable result", logging.FieldPath, path, logging.FieldError, err)
	if rmErr := p.results.Remove(path); rmErr != nil {
		p.log.Warnw("Failed to remove unreadable result", logging.FieldPath, path, logging.FieldError, rmErr)
	}
	return nil, false
}

func (p *Parser) normalize(path string) ([]types.LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	records, err := p.normalizer.NormalizeReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to normalize %s", path)
	}
	return records, nil
}

// mine clusters records under the project admission lock
func (p *Parser) mine(ctx context.Context, projectDir string, records []types.LogRecord) ([]types.ParsedRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create project directory %s", projectDir)
	}

	unlock := p.projects.Lock(projectDir)
	defer unlock()

	statePath := StatePath(projectDir)
	var rows []types.ParsedRow

	err := filelock.WithLock(ctx, statePath, p.lockOpts, func() error {
		m, err := miner.Load(statePath, p.minerCfg, p.log)
		if err != nil {
			return err
		}

		rows = make([]types.ParsedRow, 0, len(records))
		for _, rec := range records {
			template, params := m.Mine(rec.Message)
			rows = append(rows, types.ParsedRow{
				LogRecord:  rec,
				Template:   template,
				Parameters: params,
			})
		}

		return m.Save(statePath)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mine templates in %s", projectDir)
	}
	return rows, nil
}
