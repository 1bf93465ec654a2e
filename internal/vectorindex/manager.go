package vectorindex

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/logsift/internal/embedder"
	"github.com/dshills/logsift/internal/filelock"
	"github.com/dshills/logsift/internal/fsutil"
	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/internal/storage"
	"github.com/dshills/logsift/pkg/types"
)

const (
	// IndexFile holds the vectors of a project
	IndexFile = "templates.index"
	// MetaFile holds one TemplateRecord per vector
	MetaFile = storage.FileName
	// lockResource names templates.lock once filelock appends its suffix
	lockResource = "templates"

	// DefaultTopK is used when neither the call nor the config sets one
	DefaultTopK = 5
	// DefaultBatchSize stays below every provider's request limit
	DefaultBatchSize = 32
	// DefaultEmbedWorkers bounds concurrent embedding requests
	DefaultEmbedWorkers = 4
	// DefaultCacheSize is the number of memoized search responses
	DefaultCacheSize = 256
)

// Config tunes a Manager
type Config struct {
	TopK         int // Results returned when a search asks for topK <= 0
	BatchSize    int // Texts per embedding request
	EmbedWorkers int // Concurrent embedding requests
	CacheSize    int // Memoized search responses, negative disables
	Lock         filelock.Options
}

// Manager adds templates to and searches project indexes
type Manager struct {
	embedder embedder.Embedder
	cfg      Config
	projects filelock.KeyedMutex
	cache    *queryCache
	log      *zap.SugaredLogger
}

// New creates a Manager embedding with emb
func New(emb embedder.Embedder, cfg Config, logger *zap.SugaredLogger) *Manager {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > embedder.MaxBatchSize {
		cfg.BatchSize = embedder.MaxBatchSize
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = DefaultEmbedWorkers
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Lock.Logger == nil {
		cfg.Lock.Logger = logger
	}

	return &Manager{
		embedder: emb,
		cfg:      cfg,
		cache:    newQueryCache(cfg.CacheSize),
		log:      logging.Component(logger, "vectorindex"),
	}
}

// IndexPath returns the vector file of a project directory
func IndexPath(projectDir string) string {
	return filepath.Join(projectDir, IndexFile)
}

// MetaPath returns the metadata file of a project directory
func MetaPath(projectDir string) string {
	return filepath.Join(projectDir, MetaFile)
}

// AddTemplates appends the unique templates of rows, most frequent first,
// and returns how many were added. After a successful call the metadata and
// the index have the same length.
func (m *Manager) AddTemplates(ctx context.Context, projectDir string, rows []types.ParsedRow, filename string) (int, error) {
	start := time.Now()

	counts := types.CountTemplates(rows)
	if len(counts) == 0 {
		return 0, nil
	}

	texts := make([]string, len(counts))
	for i, c := range counts {
		texts[i] = c.Template
	}

	// Embedding happens outside the lock, it is the slow part
	vectors, err := m.embed(ctx, texts)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to embed templates of %s", filename)
	}

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "failed to create project directory %s", projectDir)
	}

	unlock := m.projects.Lock(projectDir)
	defer unlock()

	var total int
	err = filelock.WithLock(ctx, filepath.Join(projectDir, lockResource), m.cfg.Lock, func() error {
		index, records := m.load(ctx, projectDir)

		if err := index.Add(vectors); err != nil {
			return err
		}
		for _, c := range counts {
			records = append(records, types.TemplateRecord{
				Template:  c.Template,
				Frequency: c.Count,
				Filename:  filename,
			})
		}

		if err := writeIndex(IndexPath(projectDir), index); err != nil {
			return errors.Wrap(err, "failed to write index")
		}
		info := storage.IndexInfo{
			Provider:  m.embedder.Provider(),
			Model:     m.embedder.Model(),
			Dimension: m.embedder.Dimension(),
		}
		if err := storage.Write(ctx, MetaPath(projectDir), info, records); err != nil {
			return errors.Wrap(err, "failed to write template metadata")
		}
		total = len(records)
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.log.Infow("Templates indexed",
		logging.FieldProject, projectDir,
		logging.FieldFile, filename,
		logging.FieldCount, len(counts),
		"total", total,
		logging.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return len(counts), nil
}

// embed returns one normalized vector per text, batching requests concurrently
func (m *Manager) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	dim := m.embedder.Dimension()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.EmbedWorkers)

	for lo := 0; lo < len(texts); lo += m.cfg.BatchSize {
		hi := lo + m.cfg.BatchSize
		if hi > len(texts) {
			hi = len(texts)
		}

		g.Go(func() error {
			resp, err := m.embedder.GenerateBatch(gctx, embedder.BatchEmbeddingRequest{Texts: texts[lo:hi]})
			if err != nil {
				return err
			}
			if len(resp.Embeddings) != hi-lo {
				return errors.Newf("embedder returned %d vectors for %d texts", len(resp.Embeddings), hi-lo)
			}
			for i, emb := range resp.Embeddings {
				if len(emb.Vector) != dim {
					return errors.Wrapf(embedder.ErrDimensionMismatch, "got %d, want %d", len(emb.Vector), dim)
				}
				out[lo+i] = embedder.NormalizeVector(emb.Vector)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// load reads the index and metadata of projectDir. Anything unreadable or
// inconsistent is replaced by an empty index.
func (m *Manager) load(ctx context.Context, projectDir string) (*flatIndex, []types.TemplateRecord) {
	dim := m.embedder.Dimension()
	fresh := func(reason string, err error) (*flatIndex, []types.TemplateRecord) {
		m.log.Warnw("Recreating template index",
			logging.FieldProject, projectDir,
			"reason", reason,
			logging.FieldError, err,
		)
		return newFlatIndex(dim), []types.TemplateRecord{}
	}

	index, err := readIndex(IndexPath(projectDir))
	if os.IsNotExist(err) {
		if fsutil.Exists(MetaPath(projectDir)) {
			return fresh("metadata without index", nil)
		}
		return newFlatIndex(dim), []types.TemplateRecord{}
	}
	if err != nil {
		return fresh("unreadable index", err)
	}
	if index.dim != dim {
		return fresh("dimension changed", errors.Newf("index has %d, embedder has %d", index.dim, dim))
	}

	info, records, err := readMeta(ctx, MetaPath(projectDir))
	if err != nil {
		return fresh("unreadable metadata", err)
	}
	if info.Provider != m.embedder.Provider() || info.Model != m.embedder.Model() {
		return fresh("embedding model changed", errors.Newf("index built with %s/%s", info.Provider, info.Model))
	}
	if len(records) != index.Count() {
		return fresh("metadata and index disagree", errors.Newf("%d records, %d vectors", len(records), index.Count()))
	}
	return index, records
}

func readMeta(ctx context.Context, path string) (*storage.IndexInfo, []types.TemplateRecord, error) {
	db, err := storage.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = db.Close() }()

	info, err := db.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	records, err := db.Templates(ctx)
	if err != nil {
		return nil, nil, err
	}
	return info, records, nil
}

// Search returns the templates most similar to query, best first, at most
// min(topK, count). topK <= 0 uses the configured default. A project without
// an index yields an empty slice.
func (m *Manager) Search(ctx context.Context, projectDir, query string, topK int) ([]types.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.ErrEmptyQuery
	}
	if topK <= 0 {
		topK = m.cfg.TopK
	}

	stat, err := os.Stat(IndexPath(projectDir))
	if os.IsNotExist(err) {
		return []types.SearchResult{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat index of %s", projectDir)
	}

	key := cacheKey(projectDir, generation(stat), query, topK)
	if cached, ok := m.cache.get(key); ok {
		return cached, nil
	}

	index, err := readIndex(IndexPath(projectDir))
	if os.IsNotExist(err) {
		return []types.SearchResult{}, nil
	}
	if err != nil {
		m.log.Warnw("Index unreadable, returning no results", logging.FieldProject, projectDir, logging.FieldError, err)
		return []types.SearchResult{}, nil
	}
	if index.Count() == 0 {
		return []types.SearchResult{}, nil
	}
	if index.dim != m.embedder.Dimension() {
		m.log.Warnw("Index dimension differs from embedder, returning no results",
			logging.FieldProject, projectDir, "index_dim", index.dim, "embedder_dim", m.embedder.Dimension())
		return []types.SearchResult{}, nil
	}

	emb, err := m.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	hits := index.Search(embedder.NormalizeVector(emb.Vector), topK)
	results, ok := m.join(ctx, projectDir, hits)
	if !ok {
		return []types.SearchResult{}, nil
	}

	m.cache.set(key, results)
	return results, nil
}

// join attaches metadata to hits, keeping hit order. It reports false when
// the metadata file is missing or unreadable.
func (m *Manager) join(ctx context.Context, projectDir string, hits []hit) ([]types.SearchResult, bool) {
	if len(hits) == 0 {
		return []types.SearchResult{}, true
	}

	db, err := storage.Open(MetaPath(projectDir))
	if errors.Is(err, storage.ErrNotFound) {
		m.log.Warnw("Index without metadata, returning no results", logging.FieldProject, projectDir)
		return nil, false
	}
	if err != nil {
		m.log.Warnw("Metadata unreadable, returning no results", logging.FieldProject, projectDir, logging.FieldError, err)
		return nil, false
	}
	defer func() { _ = db.Close() }()

	positions := make([]int, len(hits))
	for i, h := range hits {
		positions[i] = h.row
	}
	records, err := db.TemplatesAt(ctx, positions)
	if err != nil {
		m.log.Warnw("Metadata unreadable, returning no results", logging.FieldProject, projectDir, logging.FieldError, err)
		return nil, false
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		rec, ok := records[h.row]
		if !ok {
			continue
		}
		results = append(results, types.SearchResult{
			Filename:   rec.Filename,
			Template:   rec.Template,
			Frequency:  rec.Frequency,
			Similarity: h.score,
		})
	}
	return results, true
}

// Count returns the number of vectors in the project index
func (m *Manager) Count(projectDir string) (int, error) {
	count, err := countIndex(IndexPath(projectDir))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read index of %s", projectDir)
	}
	return count, nil
}

// Templates returns the indexed templates, most frequent first
func (m *Manager) Templates(ctx context.Context, projectDir string) ([]types.TemplateRecord, error) {
	db, err := storage.Open(MetaPath(projectDir))
	if errors.Is(err, storage.ErrNotFound) {
		return []types.TemplateRecord{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open metadata of %s", projectDir)
	}
	defer func() { _ = db.Close() }()

	records, err := db.Templates(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read metadata of %s", projectDir)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Frequency > records[j].Frequency
	})
	return records, nil
}
