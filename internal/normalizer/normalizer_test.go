package normalizer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/logsift/pkg/types"
)

func fixedClock(t time.Time) *Normalizer {
	return &Normalizer{Now: func() time.Time { return t }}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		raw     string
		message string
		grammar string
	}{
		{"iso with T", "2023-10-02T12:34:56 started\r\n", "2023-10-02T12:34:56", "started", "iso8601"},
		{"iso with fraction and zone", "2023-10-02T12:34:56.123+02:00: boot ok", "2023-10-02T12:34:56.123+02:00", "boot ok", "iso8601"},
		{"iso with Z", "2023-10-02T12:34:56Z link up", "2023-10-02T12:34:56Z", "link up", "iso8601"},
		{"dash delimited", "2023-10-02-12-34-56 disk full", "2023-10-02-12-34-56", "disk full", "dash"},
		{"compact", "230102-12:34:56.123456: tick", "230102-12:34:56.123456", "tick", "compact"},
		{"syslog", "Sep  3 00:28:37 host kernel: oops", "Sep  3 00:28:37", "host kernel: oops", "syslog"},
		{"space delimited", "2023-10-02 12:34:56,789 worker ready", "2023-10-02 12:34:56,789", "worker ready", "space"},
		{"uptime", "12.5 something", "12.5", "something", "uptime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, msg, g := Split(tt.line)
			require.NotNil(t, raw)
			assert.Equal(t, tt.raw, *raw)
			assert.Equal(t, tt.message, msg)
			require.GreaterOrEqual(t, g, 0)
			assert.Equal(t, tt.grammar, grammars[g].name)
		})
	}
}

func TestSplitContinuation(t *testing.T) {
	raw, msg, g := Split("    at com.example.Main(Main.java:12)\n")
	assert.Nil(t, raw)
	assert.Equal(t, "    at com.example.Main(Main.java:12)", msg)
	assert.Equal(t, -1, g)

	// A number without a fraction is not an uptime
	raw, _, _ = Split("42 apples")
	assert.Nil(t, raw)
}

func TestNormalizeForwardFill(t *testing.T) {
	n := fixedClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	records := n.Normalize([]string{
		"2023-10-02T12:00:00 msg1",
		"cont1",
		"2023-10-02T12:00:05 msg2",
	})

	require.Len(t, records, 3)
	t1 := time.Date(2023, 10, 2, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "msg1", records[0].Message)
	assert.Equal(t, "cont1", records[1].Message)
	assert.Nil(t, records[1].RawTimestamp)
	require.NotNil(t, records[1].Timestamp)
	assert.True(t, records[1].Timestamp.Equal(t1))
	assert.Equal(t, "msg2", records[2].Message)
}

func TestNormalizeUptimeUsesBaseTime(t *testing.T) {
	n := fixedClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	records := n.Normalize([]string{
		"2024-05-01T08:00:00 boot",
		"12.5 something",
	})

	require.Len(t, records, 2)
	require.NotNil(t, records[1].Timestamp)
	assert.Equal(t, "something", records[1].Message)
	assert.True(t, records[1].Timestamp.Equal(t0.Add(12500*time.Millisecond)))
}

func TestNormalizeUptimeWithoutAbsoluteUsesNow(t *testing.T) {
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	records := fixedClock(now).Normalize([]string{
		"0.000000 kernel start",
		"1.250000 cpu online",
	})

	require.Len(t, records, 2)
	assert.True(t, records[0].Timestamp.Equal(now))
	assert.True(t, records[1].Timestamp.Equal(now.Add(1250*time.Millisecond)))
}

func TestNormalizeSyslogYearInjection(t *testing.T) {
	n := fixedClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	records := n.Normalize([]string{
		"2021-09-01 10:00:00 service up",
		"Sep  3 00:28:37 host sshd: accepted",
	})

	require.Len(t, records, 2)
	ts := records[1].Timestamp
	require.NotNil(t, ts)
	assert.Equal(t, 2021, ts.Year())
	assert.Equal(t, time.September, ts.Month())
	assert.Equal(t, 3, ts.Day())
}

func TestNormalizeOrdering(t *testing.T) {
	n := fixedClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	records := n.Normalize([]string{
		"leading continuation",
		"2023-01-01T00:00:10 third",
		"2023-01-01T00:00:00 first",
		"2023-01-01T00:00:10 fourth",
		"2023-01-01T00:00:05 second",
	})

	messages := make([]string, len(records))
	for i, r := range records {
		messages[i] = r.Message
	}
	assert.Equal(t, []string{"first", "second", "third", "fourth", "leading continuation"}, messages)
	assert.Nil(t, records[len(records)-1].Timestamp)

	for i := 1; i < len(records)-1; i++ {
		assert.False(t, records[i].Timestamp.Before(*records[i-1].Timestamp))
	}
}

func TestNormalizeDropsEmptyMessages(t *testing.T) {
	n := fixedClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	records := n.Normalize([]string{
		"2023-01-01T00:00:00 kept",
		"",
		"   ",
		"2023-01-01T00:00:01 \\n",
		"2023-01-01T00:00:02 ",
	})

	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].Message)
}

func TestNormalizeZoneAware(t *testing.T) {
	n := fixedClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	records := n.Normalize([]string{
		"2023-01-01T02:00:00+02:00 a",
		"2023-01-01T00:30:00Z b",
	})

	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Message)
	assert.True(t, records[0].Timestamp.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNormalizeReader(t *testing.T) {
	input := "2023-01-01T00:00:00 one\r\n2023-01-01T00:00:01 two\n\xff\xfebroken bytes\n"
	records, err := fixedClock(time.Now()).NormalizeReader(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "broken bytes", records[2].Message)
	assert.Equal(t, 2, records[2].Line)
}

func TestNormalizeReaderLongLine(t *testing.T) {
	long := strings.Repeat("x", 5*1024*1024)
	input := "2023-01-01T00:00:00 first\n2023-01-01T00:00:01 " + long + "\n2023-01-01T00:00:02 last"
	records, err := fixedClock(time.Now()).NormalizeReader(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "first", records[0].Message)
	assert.Len(t, records[1].Message, len(long))
	assert.Equal(t, "last", records[2].Message)
}

func TestSortRecordsNilLast(t *testing.T) {
	t1 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []types.LogRecord{
		{Message: "nil-a", Line: 0},
		{Message: "late", Timestamp: ptr(t1.Add(time.Second)), Line: 1},
		{Message: "nil-b", Line: 2},
		{Message: "early", Timestamp: ptr(t1), Line: 3},
	}
	SortRecords(records)

	got := []string{records[0].Message, records[1].Message, records[2].Message, records[3].Message}
	assert.Equal(t, []string{"early", "late", "nil-a", "nil-b"}, got)
}

func ptr(t time.Time) *time.Time { return &t }
