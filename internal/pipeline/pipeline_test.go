package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/logsift/internal/config"
	"github.com/dshills/logsift/internal/embedder"
	"github.com/dshills/logsift/internal/filelock"
	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/internal/miner"
	"github.com/dshills/logsift/internal/scheduler"
	"github.com/dshills/logsift/internal/vectorindex"
	"github.com/dshills/logsift/pkg/types"
)

const authLog = "2024-03-01T10:00:00 User 1 logged in\n" +
	"2024-03-01T10:00:01 User 2 logged in\n" +
	"2024-03-01T10:00:02 Disk /dev/sda1 full\n"

// failingEmbedder wraps a working embedder but fails batches
type failingEmbedder struct {
	embedder.Embedder
}

func (f failingEmbedder) GenerateBatch(context.Context, embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	return nil, errors.New("embedding service unavailable")
}

func testOptions(t *testing.T, autoIndex bool) Options {
	t.Helper()
	return Options{
		DataDir:   filepath.Join(t.TempDir(), "data"),
		AutoIndex: autoIndex,
		Scheduler: scheduler.Config{Workers: 2},
		Miner:     miner.DefaultConfig(),
		Lock:      filelock.Options{StaleAfter: time.Minute, RetryInterval: time.Millisecond, Attempts: 5000},
		Index:     vectorindex.Config{TopK: 3},
	}
}

func newTestPipeline(t *testing.T, opts Options, emb embedder.Embedder) *Pipeline {
	t.Helper()
	if emb == nil {
		local, err := embedder.NewLocalProvider(64, nil)
		require.NoError(t, err)
		emb = local
	}
	p, err := New(opts, emb, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p
}

func upload(t *testing.T, name, content string) types.UploadedFile {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	internal := "u-" + name
	path := filepath.Join(dir, internal)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return types.UploadedFile{
		InternalName: internal,
		Path:         path,
		OriginalName: name,
		Size:         int64(len(content)),
		UploadedAt:   time.Now(),
	}
}

func TestScheduleParsesAndIndexes(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testOptions(t, true), nil)

	outcomes, err := p.ScheduleFiles(ctx, "acme", []types.UploadedFile{
		upload(t, "auth.log", authLog),
		upload(t, "bundle.zip", "PK"),
	})
	require.NoError(t, err)
	assert.Equal(t, scheduler.OutcomeScheduled, outcomes["auth.log"])
	assert.Equal(t, OutcomeIneligible, outcomes["bundle.zip"])

	p.Wait()

	status, err := p.ReadStatus("acme")
	require.NoError(t, err)
	require.Contains(t, status, "auth.log")
	assert.Equal(t, types.StateIndexed, status["auth.log"].State)
	assert.NotContains(t, status, "bundle.zip")

	templates, err := p.Templates(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "User <NUM> logged in", templates[0].Template)
	assert.Equal(t, 2, templates[0].Frequency)
	assert.Equal(t, "auth.log", templates[0].Filename)

	results, err := p.Search(ctx, "acme", "user logged in", 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, "User <NUM> logged in", results[0].Template)

	summary, err := p.Status("acme")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts["indexed"])
	assert.Equal(t, 2, summary.Templates)
}

func TestScheduleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testOptions(t, true), nil)
	f := upload(t, "auth.log", authLog)

	_, err := p.ScheduleFiles(ctx, "acme", []types.UploadedFile{f})
	require.NoError(t, err)
	p.Wait()

	outcomes, err := p.ScheduleFiles(ctx, "acme", []types.UploadedFile{f})
	require.NoError(t, err)
	assert.Equal(t, scheduler.OutcomeParsed, outcomes["auth.log"])
	p.Wait()

	count, err := p.index.Count(filepath.Join(p.opts.DataDir, "acme"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIndexFileOnDemand(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testOptions(t, false), nil)
	f := upload(t, "auth.log", authLog)

	_, err := p.ScheduleFiles(ctx, "acme", []types.UploadedFile{f})
	require.NoError(t, err)
	p.Wait()

	status, err := p.ReadStatus("acme")
	require.NoError(t, err)
	assert.Equal(t, types.StateParsed, status["auth.log"].State)

	added, err := p.IndexFile(ctx, "acme", "auth.log")
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	// Indexing again is a no-op
	added, err = p.IndexFile(ctx, "acme", "auth.log")
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	status, err = p.ReadStatus("acme")
	require.NoError(t, err)
	assert.Equal(t, types.StateIndexed, status["auth.log"].State)
}

func TestIndexFileRequiresParsed(t *testing.T) {
	p := newTestPipeline(t, testOptions(t, false), nil)
	_, err := p.IndexFile(context.Background(), "acme", "never.log")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestIndexFileUsesRecordedUpload(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testOptions(t, false), nil)
	auth := upload(t, "auth.log", authLog)
	other := upload(t, "other.log", "2024-03-01T10:00:00 Cache warmed\n")

	_, err := p.ScheduleFiles(ctx, "acme", []types.UploadedFile{auth, other})
	require.NoError(t, err)
	p.Wait()

	status, err := p.ReadStatus("acme")
	require.NoError(t, err)
	assert.Equal(t, other.Path, status["other.log"].Path)

	added, err := p.IndexFile(ctx, "acme", "other.log")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	templates, err := p.Templates(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "Cache warmed", templates[0].Template)
	assert.Equal(t, "other.log", templates[0].Filename)
}

func TestIndexFileWithoutRecordedUpload(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, testOptions(t, false), nil)
	dir, err := p.ProjectDir("acme")
	require.NoError(t, err)

	require.NoError(t, p.ledger.Update(ctx, dir, "legacy.log", types.StateQueued, ""))
	require.NoError(t, p.ledger.Update(ctx, dir, "legacy.log", types.StateParsed, ""))

	_, err = p.IndexFile(ctx, "acme", "legacy.log")
	assert.ErrorIs(t, err, types.ErrUnknownFile)
}

func TestIndexFailureRecordedInLedger(t *testing.T) {
	ctx := context.Background()
	local, err := embedder.NewLocalProvider(64, nil)
	require.NoError(t, err)
	p := newTestPipeline(t, testOptions(t, true), failingEmbedder{local})

	_, err = p.ScheduleFiles(ctx, "acme", []types.UploadedFile{upload(t, "auth.log", authLog)})
	require.NoError(t, err)
	p.Wait()

	status, err := p.ReadStatus("acme")
	require.NoError(t, err)
	assert.Equal(t, types.StateError, status["auth.log"].State)
	assert.Contains(t, status["auth.log"].Message, "embedding service unavailable")
}

func TestOnCompleteHookStillCalled(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t, true)
	done := make(chan scheduler.JobResult, 1)
	opts.Scheduler.OnComplete = func(res scheduler.JobResult) { done <- res }
	p := newTestPipeline(t, opts, nil)

	_, err := p.ScheduleFiles(ctx, "acme", []types.UploadedFile{upload(t, "auth.log", authLog)})
	require.NoError(t, err)
	p.Wait()

	res := <-done
	assert.Equal(t, types.StateParsed, res.State)
	assert.Equal(t, 3, res.Rows)
}

func TestProjectDir(t *testing.T) {
	p := newTestPipeline(t, testOptions(t, false), nil)

	dir, err := p.ProjectDir("acme")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.opts.DataDir, "acme"), dir)

	_, err = p.ProjectDir("  ")
	assert.ErrorIs(t, err, types.ErrProjectRequired)

	for _, bad := range []string{"..", ".", "a/b", `a\b`} {
		_, err = p.ProjectDir(bad)
		assert.ErrorIs(t, err, types.ErrInvalidProject, bad)
	}

	_, err = p.ScheduleFiles(context.Background(), "", nil)
	assert.ErrorIs(t, err, types.ErrProjectRequired)
	_, err = p.Search(context.Background(), "../x", "q", 1)
	assert.ErrorIs(t, err, types.ErrInvalidProject)
}

func TestSearchEmptyProject(t *testing.T) {
	p := newTestPipeline(t, testOptions(t, false), nil)
	results, err := p.Search(context.Background(), "acme", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNewValidates(t *testing.T) {
	local, err := embedder.NewLocalProvider(64, nil)
	require.NoError(t, err)

	_, err = New(Options{Miner: miner.DefaultConfig()}, local, logging.Nop())
	assert.Error(t, err)

	opts := testOptions(t, false)
	opts.Miner.Depth = 1
	_, err = New(opts, local, logging.Nop())
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	v := config.NewViper()
	v.Set("data_dir", t.TempDir())
	v.Set("embedding.dimension", 32)
	cfg, err := config.LoadWithViper(v)
	require.NoError(t, err)

	opts := OptionsFromConfig(cfg)
	assert.True(t, opts.AutoIndex)
	assert.Equal(t, 2, opts.Scheduler.Workers)
	assert.Equal(t, 4, opts.Miner.Depth)
	assert.NotEmpty(t, opts.Miner.Masking)
	assert.Equal(t, 300, opts.Lock.Attempts)
	assert.Equal(t, 5, opts.Index.TopK)

	p, err := FromConfig(cfg, logging.Nop())
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()
	assert.Equal(t, embedder.ProviderLocal, p.Embedder().Provider())
	assert.Equal(t, 32, p.Embedder().Dimension())

	v.Set("embedding.provider", "bogus")
	cfg, err = config.LoadWithViper(v)
	require.NoError(t, err)
	_, err = FromConfig(cfg, logging.Nop())
	assert.ErrorIs(t, err, embedder.ErrUnsupportedModel)
}
