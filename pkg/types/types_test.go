package types

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{0, StateQueued, true},
		{0, StateParsed, false},
		{StateQueued, StateParsed, true},
		{StateQueued, StateError, true},
		{StateQueued, StateQueued, true},
		{StateQueued, StateIndexed, false},
		{StateParsed, StateIndexed, true},
		{StateParsed, StateError, true},
		{StateParsed, StateQueued, false},
		{StateError, StateQueued, true},
		{StateError, StateParsed, false},
		{StateIndexed, StateQueued, false},
		{StateIndexed, StateError, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(FileState{State: StateParsed})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"parsed"`)

	var fs FileState
	require.NoError(t, json.Unmarshal(data, &fs))
	assert.Equal(t, StateParsed, fs.State)

	err = json.Unmarshal([]byte(`{"state":"exploded"}`), &fs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestCountTemplates(t *testing.T) {
	rows := []ParsedRow{
		{Template: "b"}, {Template: "a"}, {Template: "a"}, {Template: "c"}, {Template: "b"}, {Template: "a"},
	}
	got := CountTemplates(rows)
	assert.Equal(t, []TemplateCount{{"a", 3}, {"b", 2}, {"c", 1}}, got)

	tied := CountTemplates([]ParsedRow{{Template: "x"}, {Template: "y"}})
	assert.Equal(t, []TemplateCount{{"x", 1}, {"y", 1}}, tied)

	blank := CountTemplates([]ParsedRow{{Template: ""}, {Template: "  "}, {Template: "x"}, {Template: ""}})
	assert.Equal(t, []TemplateCount{{"x", 1}}, blank)
}

func TestTemplateRecordValidate(t *testing.T) {
	assert.NoError(t, TemplateRecord{Template: "t", Frequency: 1, Filename: "f"}.Validate())
	assert.True(t, errors.Is(TemplateRecord{Template: "t"}.Validate(), ErrInvalidFrequency))
	assert.True(t, errors.Is(TemplateRecord{Frequency: 2}.Validate(), ErrEmptyTemplate))
}

func TestNewParseResult(t *testing.T) {
	res := NewParseResult("/x.log", []ParsedRow{{Template: "a"}, {Template: "a"}, {Template: "b"}}, true)
	assert.Equal(t, 2, res.Templates)
	assert.True(t, res.Cached)
}
