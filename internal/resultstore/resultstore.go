// Package resultstore persists the parsed table of one input file as an
// Apache Parquet file next to it (<input>.parquet). The presence of that file
// is the "already parsed" marker: writes go through a temp file and rename so
// a result file is either complete or absent.
package resultstore

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/fsutil"
	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/pkg/types"
)

// Extension is appended to an input path to name its result file
const Extension = ".parquet"

// ErrCorrupt is returned when a result file exists but cannot be decoded
var ErrCorrupt = errors.New("corrupt result file")

// row is the on-disk schema. Timestamps are Unix nanoseconds, UTC.
type row struct {
	Line         int64    `parquet:"line"`
	RawTimestamp *string  `parquet:"raw_timestamp,optional"`
	Timestamp    *int64   `parquet:"timestamp,optional"`
	Message      string   `parquet:"loglines"`
	Template     string   `parquet:"template"`
	Parameters   []string `parquet:"parameter_list,list"`
}

// Store reads and writes result files
type Store struct {
	log *zap.SugaredLogger
}

// New creates a Store
func New(logger *zap.SugaredLogger) *Store {
	return &Store{log: logging.Component(logger, "resultstore")}
}

// Path returns the result file path for an input file
func Path(inputPath string) string {
	return inputPath + Extension
}

// Exists reports whether inputPath already has a result file
func (s *Store) Exists(inputPath string) bool {
	return fsutil.Exists(Path(inputPath))
}

// Write stores rows as the result of inputPath, replacing any previous result
func (s *Store) Write(inputPath string, rows []types.ParsedRow) error {
	out := make([]row, len(rows))
	for i, r := range rows {
		out[i] = toRow(r)
	}

	path := Path(inputPath)
	err := fsutil.WriteWith(path, func(tmpPath string) error {
		return parquet.WriteFile(tmpPath, out)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to write result %s", path)
	}

	s.log.Debugw("Result written", logging.FieldPath, path, logging.FieldCount, len(rows))
	return nil
}

// Read loads the result of inputPath. A missing result yields no rows and no
// error; an undecodable one yields ErrCorrupt.
func (s *Store) Read(inputPath string) (rows []types.ParsedRow, err error) {
	path := Path(inputPath)
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return []types.ParsedRow{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			rows = nil
			err = errors.Wrapf(ErrCorrupt, "%s: %v", path, r)
		}
	}()

	stored, readErr := parquet.ReadFile[row](path)
	if readErr != nil {
		return nil, errors.Wrapf(ErrCorrupt, "%s: %v", path, readErr)
	}

	rows = make([]types.ParsedRow, len(stored))
	for i, r := range stored {
		rows[i] = fromRow(r)
	}
	return rows, nil
}

// Remove deletes the result of inputPath so it gets parsed again
func (s *Store) Remove(inputPath string) error {
	path := Path(inputPath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove result %s", path)
	}
	return nil
}

func toRow(r types.ParsedRow) row {
	out := row{
		Line:         int64(r.Line),
		RawTimestamp: r.RawTimestamp,
		Message:      r.Message,
		Template:     r.Template,
		Parameters:   r.Parameters,
	}
	if r.Timestamp != nil {
		ns := r.Timestamp.UnixNano()
		out.Timestamp = &ns
	}
	if out.Parameters == nil {
		out.Parameters = []string{}
	}
	return out
}

func fromRow(r row) types.ParsedRow {
	out := types.ParsedRow{
		LogRecord: types.LogRecord{
			RawTimestamp: r.RawTimestamp,
			Message:      r.Message,
			Line:         int(r.Line),
		},
		Template:   r.Template,
		Parameters: r.Parameters,
	}
	if r.Timestamp != nil {
		ts := time.Unix(0, *r.Timestamp).UTC()
		out.Timestamp = &ts
	}
	if out.Parameters == nil {
		out.Parameters = []string{}
	}
	return out
}
