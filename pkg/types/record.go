package types

import "time"

// LogRecord is a single normalized log line
type LogRecord struct {
	RawTimestamp *string    // Timestamp prefix as it appeared in the line, nil for continuation lines
	Timestamp    *time.Time // Absolute time, nil when no timestamp could be derived
	Message      string     // Line content after the timestamp prefix
	Line         int        // 0-based line number in the source file
}

// ParsedRow is a LogRecord with its mined template
type ParsedRow struct {
	LogRecord
	Template   string
	Parameters []string // One value per template placeholder, in template order
}

// HasTimestamp reports whether the record carries an absolute timestamp
func (r LogRecord) HasTimestamp() bool {
	return r.Timestamp != nil
}

// Validate checks the record invariants
func (r LogRecord) Validate() error {
	if r.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}
