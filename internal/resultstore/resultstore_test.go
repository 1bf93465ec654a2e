package resultstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/pkg/types"
)

func sampleRows() []types.ParsedRow {
	raw := "2024-01-01T00:00:00"
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []types.ParsedRow{
		{
			LogRecord:  types.LogRecord{RawTimestamp: &raw, Timestamp: &ts, Message: "User 1 logged in", Line: 0},
			Template:   "User <NUM> logged in",
			Parameters: []string{"1"},
		},
		{
			LogRecord:  types.LogRecord{Message: "orphan continuation", Line: 1},
			Template:   "orphan continuation",
			Parameters: []string{},
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	input := filepath.Join(t.TempDir(), "device.log")
	store := New(logging.Nop())

	assert.False(t, store.Exists(input))
	require.NoError(t, store.Write(input, sampleRows()))
	assert.True(t, store.Exists(input))
	assert.FileExists(t, input+Extension)

	rows, err := store.Read(input)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "User <NUM> logged in", rows[0].Template)
	assert.Equal(t, []string{"1"}, rows[0].Parameters)
	require.NotNil(t, rows[0].Timestamp)
	assert.True(t, rows[0].Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, rows[0].RawTimestamp)
	assert.Equal(t, "2024-01-01T00:00:00", *rows[0].RawTimestamp)

	assert.Nil(t, rows[1].Timestamp)
	assert.Nil(t, rows[1].RawTimestamp)
	assert.Equal(t, 1, rows[1].Line)
	assert.Empty(t, rows[1].Parameters)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "device.log")
	store := New(logging.Nop())

	require.NoError(t, store.Write(input, sampleRows()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "device.log.parquet", entries[0].Name())
}

func TestReadMissing(t *testing.T) {
	store := New(logging.Nop())
	rows, err := store.Read(filepath.Join(t.TempDir(), "nothing.log"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadCorrupt(t *testing.T) {
	input := filepath.Join(t.TempDir(), "device.log")
	require.NoError(t, os.WriteFile(Path(input), []byte("definitely not parquet"), 0o644))

	store := New(logging.Nop())
	_, err := store.Read(input)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))

	require.NoError(t, store.Remove(input))
	assert.False(t, store.Exists(input))

	// Removing twice is fine
	require.NoError(t, store.Remove(input))
}

func TestWriteEmpty(t *testing.T) {
	input := filepath.Join(t.TempDir(), "empty.log")
	store := New(logging.Nop())

	require.NoError(t, store.Write(input, nil))
	assert.True(t, store.Exists(input))

	rows, err := store.Read(input)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
