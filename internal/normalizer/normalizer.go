// Package normalizer splits raw log lines into a timestamp prefix and a
// message, then resolves the prefixes of a whole batch into absolute times.
//
// Recognized prefixes, in priority order (first match wins):
//
//	2023-10-02T12:34:56[.fff][Z|±hh:mm]  ISO-8601
//	2023-10-02-12-34-56                  dash-delimited
//	230102-12:34:56.123456               compact
//	Sep  3 00:28:37                      syslog, no year
//	2023-10-02 12:34:56[.fff]            space-delimited
//	175383.097855                        uptime seconds
//
// Uptime values are relative: they are anchored to the earliest absolute
// timestamp of the batch (or the current time when there is none), which also
// supplies the year for syslog prefixes. Lines without a prefix are
// continuation lines and inherit the timestamp of the line before them.
package normalizer

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dshills/logsift/pkg/types"
)

type kind int

const (
	kindAbsolute kind = iota
	kindYearless
	kindUptime
)

// grammar is one recognized timestamp prefix. The expression captures the
// timestamp in group 1 and the message in group 2.
type grammar struct {
	name    string
	re      *regexp.Regexp
	kind    kind
	layouts []string
}

// delimiter consumed between the timestamp and the message
const delim = `[:\s]+(.*)$`

var grammars = []grammar{
	{
		name: "iso8601",
		re:   regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?)` + delim),
		kind: kindAbsolute,
		layouts: []string{
			"2006-01-02T15:04:05Z07:00",
			"2006-01-02T15:04:05Z0700",
			"2006-01-02T15:04:05",
		},
	},
	{
		name:    "dash",
		re:      regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2})` + delim),
		kind:    kindAbsolute,
		layouts: []string{"2006-01-02-15-04-05"},
	},
	{
		name:    "compact",
		re:      regexp.MustCompile(`^(\d{6}-\d{2}:\d{2}:\d{2}\.\d+)` + delim),
		kind:    kindAbsolute,
		layouts: []string{"060102-15:04:05"},
	},
	{
		name:    "syslog",
		re:      regexp.MustCompile(`^([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})` + delim),
		kind:    kindYearless,
		layouts: []string{"Jan 2 15:04:05"},
	},
	{
		name:    "space",
		re:      regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}\s\d{2}:\d{2}:\d{2}(?:[.,]\d+)?)` + delim),
		kind:    kindAbsolute,
		layouts: []string{"2006-01-02 15:04:05"},
	},
	{
		name: "uptime",
		re:   regexp.MustCompile(`^(\d+\.\d+)` + delim),
		kind: kindUptime,
	},
}

// Normalizer converts raw lines into ordered LogRecords
type Normalizer struct {
	// Now supplies the base time when a batch holds no absolute timestamp
	Now func() time.Time
}

// New returns a Normalizer using the wall clock
func New() *Normalizer {
	return &Normalizer{Now: time.Now}
}

// Split matches line against the grammar table. It returns the raw timestamp
// prefix (nil when none matched), the message and the index of the grammar
// that matched (-1 for none).
func Split(line string) (*string, string, int) {
	line = strings.TrimRight(line, "\r\n")
	for i, g := range grammars {
		m := g.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		raw := m[1]
		return &raw, m[2], i
	}
	return nil, line, -1
}

// pending holds first-pass results before timestamps are resolved
type pending struct {
	record  types.LogRecord
	grammar int
	parsed  time.Time
	ok      bool
}

// Normalize runs both passes over a batch of lines
func (n *Normalizer) Normalize(lines []string) []types.LogRecord {
	rows := make([]pending, len(lines))
	for i, line := range lines {
		raw, msg, g := Split(strings.ToValidUTF8(line, ""))
		rows[i] = pending{
			record:  types.LogRecord{RawTimestamp: raw, Message: msg, Line: i},
			grammar: g,
		}
	}

	// Absolute and yearless prefixes parse on their own; uptime waits for base
	var base time.Time
	haveBase := false
	for i := range rows {
		r := &rows[i]
		if r.grammar < 0 || grammars[r.grammar].kind == kindUptime {
			continue
		}
		t, err := parseWith(grammars[r.grammar], *r.record.RawTimestamp)
		if err != nil {
			continue
		}
		r.parsed, r.ok = t, true
		if grammars[r.grammar].kind == kindAbsolute && (!haveBase || t.Before(base)) {
			base, haveBase = t, true
		}
	}
	if !haveBase {
		base = n.now()
	}

	for i := range rows {
		r := &rows[i]
		if r.grammar < 0 {
			continue
		}
		switch grammars[r.grammar].kind {
		case kindUptime:
			secs, err := strconv.ParseFloat(*r.record.RawTimestamp, 64)
			if err != nil {
				continue
			}
			r.parsed, r.ok = base.Add(time.Duration(secs*float64(time.Second))), true
		case kindYearless:
			if r.ok {
				t := r.parsed
				r.parsed = time.Date(base.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
			}
		}
		if r.ok {
			t := r.parsed
			r.record.Timestamp = &t
		}
	}

	// Continuation lines inherit the closest preceding timestamp
	var last *time.Time
	for i := range rows {
		if rows[i].record.Timestamp == nil {
			if last != nil {
				t := *last
				rows[i].record.Timestamp = &t
			}
			continue
		}
		last = rows[i].record.Timestamp
	}

	out := make([]types.LogRecord, 0, len(rows))
	for _, r := range rows {
		if isBlank(r.record.Message) {
			continue
		}
		out = append(out, r.record)
	}

	SortRecords(out)
	return out
}

// NormalizeReader reads all lines from r and normalizes them.
// Lines of any length are accepted.
func (n *Normalizer) NormalizeReader(r io.Reader) ([]types.LogRecord, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var lines []string
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read log lines")
		}
	}
	return n.Normalize(lines), nil
}

// SortRecords orders records by timestamp ascending. Records without a
// timestamp go last; ties keep their original line order.
func SortRecords(records []types.LogRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Timestamp, records[j].Timestamp
		switch {
		case a == nil && b == nil:
			return records[i].Line < records[j].Line
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return records[i].Line < records[j].Line
		default:
			return a.Before(*b)
		}
	})
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func parseWith(g grammar, raw string) (time.Time, error) {
	value := strings.Replace(raw, ",", ".", 1)
	if g.kind == kindYearless {
		value = strings.Join(strings.Fields(value), " ")
	}
	var lastErr error
	for _, layout := range g.layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, errors.Wrapf(lastErr, "unparseable %s timestamp %q", g.name, raw)
}

// isBlank reports whether a message carries no content after cleanup
func isBlank(msg string) bool {
	trimmed := strings.TrimSpace(msg)
	return trimmed == "" || trimmed == `\n`
}
