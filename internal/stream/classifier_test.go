package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			name: "read tool",
			line: "Using Read tool on README.md",
			want: ToolCall{Tool: ToolRead, Target: "README.md"},
		},
		{
			name: "edit tool",
			line: "Using Edit tool on main.go",
			want: ToolCall{Tool: ToolEdit, Target: "main.go"},
		},
		{
			name: "grep tool with quoted pattern",
			line: "Using Grep tool on 'foo'",
			want: ToolCall{Tool: ToolGrep, Target: "'foo'"},
		},
		{
			name: "target may contain the word tool",
			line: "Using Write tool on tool on.md",
			want: ToolCall{Tool: ToolWrite, Target: "tool on.md"},
		},
		{
			name: "bash command",
			line: "Running: go test ./...",
			want: ToolCall{Tool: ToolBash, Command: "go test ./..."},
		},
		{
			name: "error line",
			line: "Error: file not found",
			want: ErrorEvent{Message: "file not found"},
		},
		{
			name: "analyzing progress",
			line: "Analyzing dependency graph",
			want: Progress{Message: "Analyzing dependency graph"},
		},
		{
			name: "writing progress",
			line: "Writing tests for the parser",
			want: Progress{Message: "Writing tests for the parser"},
		},
		{
			name: "reading progress",
			line: "Reading configuration",
			want: Progress{Message: "Reading configuration"},
		},
		{
			name: "unknown tool falls through to response",
			line: "Using Launch tool on rocket.go",
			want: Response{Text: "Using Launch tool on rocket.go"},
		},
		{
			name: "tool line without target falls through",
			line: "Using Read tool on ",
			want: Response{Text: "Using Read tool on "},
		},
		{
			name: "bare progress verb is not progress",
			line: "Analyzing",
			want: Response{Text: "Analyzing"},
		},
		{
			name: "plain text",
			line: "The refactor is complete.",
			want: Response{Text: "The refactor is complete."},
		},
		{
			name: "empty line",
			line: "",
			want: Response{Text: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.line))
		})
	}
}

// Error beats progress when both prefixes could apply, because rules
// are ordered.
func TestClassifyFirstMatchWins(t *testing.T) {
	got := Classify("Error: Reading config failed")
	assert.Equal(t, ErrorEvent{Message: "Reading config failed"}, got)

	// A tool announcement is never progress even though it starts with
	// a progress-looking verb after the prefix.
	got = Classify("Using Read tool on Analyzing.md")
	assert.Equal(t, ToolCall{Tool: ToolRead, Target: "Analyzing.md"}, got)
}
