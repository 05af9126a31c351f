package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    action
		wantErr bool
	}{
		{name: "plain text", line: "Lisb", want: action{Kind: actionText, Text: "Lisb"}},
		{name: "empty text clears", line: "", want: action{Kind: actionText}},
		{name: "whitespace kept", line: "  Lis ", want: action{Kind: actionText, Text: "  Lis "}},
		{name: "escaped slash", line: "//Lis", want: action{Kind: actionText, Text: "/Lis"}},
		{name: "pick is one-based", line: "/pick 2", want: action{Kind: actionPick, Index: 1}},
		{name: "commit", line: "/commit", want: action{Kind: actionCommit}},
		{name: "quit", line: "/quit", want: action{Kind: actionQuit}},
		{name: "pick without number", line: "/pick", wantErr: true},
		{name: "pick zero", line: "/pick 0", wantErr: true},
		{name: "pick word", line: "/pick first", wantErr: true},
		{name: "unknown command", line: "/dance", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAction(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseScript(t *testing.T) {
	// Given a script with comments, blank lines and relative delays
	script := `# quick burst
+0s Li
+120ms Lis

+120ms Lisb
+2s /pick 1
+500ms
+1s /commit
`

	// When parsed
	steps, err := parseScript(strings.NewReader(script))

	// Then offsets accumulate and events are decoded
	require.NoError(t, err)
	require.Len(t, steps, 6)

	assert.Equal(t, time.Duration(0), steps[0].At)
	assert.Equal(t, "Li", steps[0].Action.Text)
	assert.Equal(t, 2, steps[0].Line)

	assert.Equal(t, 240*time.Millisecond, steps[2].At)
	assert.Equal(t, "Lisb", steps[2].Action.Text)

	assert.Equal(t, 2240*time.Millisecond, steps[3].At)
	assert.Equal(t, actionPick, steps[3].Action.Kind)
	assert.Equal(t, 0, steps[3].Action.Index)

	assert.Equal(t, action{Kind: actionText}, steps[4].Action)
	assert.Equal(t, 3740*time.Millisecond, steps[5].At)
	assert.Equal(t, actionCommit, steps[5].Action.Kind)
}

func TestParseScript_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "missing delay", script: "Lisb\n", want: "line 1: expected +<delay>"},
		{name: "bad delay", script: "+0s Li\n+soon Lis\n", want: "line 2: invalid delay"},
		{name: "negative delay", script: "+-1s Li\n", want: "line 1: negative delay"},
		{name: "bad command", script: "+1s /pick x\n", want: "line 1: invalid suggestion number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScript(strings.NewReader(tt.script))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
