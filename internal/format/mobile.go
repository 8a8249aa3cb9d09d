// Package format renders classified child output for a phone screen:
// per-tool emoji prefixes, narrow wrapping with continuation markers,
// code and diff handling, attachment sizing and transport chunking.
// Everything here is pure; the orchestrator owns all state.
package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/muesli/reflow/wordwrap"

	"github.com/drawbridge/drawbridge/internal/diffview"
)

const (
	// DefaultWrapWidth is the mobile display width.
	DefaultWrapWidth = 50
	// DefaultChunkSize is the transport-safe message maximum.
	DefaultChunkSize = 1600

	// InlineMaxLines is the size below which output always stays inline.
	InlineMaxLines = 20
	// AttachmentThresholdLines routes anything larger to a file.
	AttachmentThresholdLines = 100

	// ContinuationPrefix marks wrapped continuation lines.
	ContinuationPrefix = "↳ "
	// ChunkContinuation ends every non-final transport chunk.
	ChunkContinuation = "…"

	// AttachmentPlaceholder sits in attachment captions until the
	// orchestrator materializes the file and knows its name.
	AttachmentPlaceholder = "⟪file⟫"

	// ShortIDLen is how much of an identifier user-visible text shows.
	ShortIDLen = 8
)

var toolEmoji = map[string]string{
	"Read":  "📖",
	"Edit":  "✏️",
	"Write": "📝",
	"Grep":  "🔍",
	"Glob":  "📁",
	"Bash":  "🔧",
}

// Disposition says how rendered output should reach the user.
type Disposition int

const (
	// Inline output goes out as chat text.
	Inline Disposition = iota
	// Attachment output is materialized into a file.
	Attachment
)

// Rendered is a formatter product: inline text, or a caption plus the
// body to materialize as an attachment.
type Rendered struct {
	Text       string
	Attach     bool
	AttachBody string
	AttachHint string // filename prefix, e.g. "output" or "diff"
}

// Formatter holds the display tuning. Zero values fall back to the
// defaults above.
type Formatter struct {
	wrapWidth int
	chunkSize int
}

// New creates a formatter with the given wrap width and chunk size.
func New(wrapWidth, chunkSize int) *Formatter {
	if wrapWidth <= 0 {
		wrapWidth = DefaultWrapWidth
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Formatter{wrapWidth: wrapWidth, chunkSize: chunkSize}
}

// ToolCall renders a tool invocation line. Bash shows the command, file
// tools show their target.
func (f *Formatter) ToolCall(tool, target, command string) string {
	emoji, ok := toolEmoji[tool]
	if !ok {
		emoji = "🛠"
	}
	if command != "" {
		return f.Wrap(fmt.Sprintf("%s Running: %s", emoji, command))
	}
	return f.Wrap(fmt.Sprintf("%s %s: %s", emoji, tool, target))
}

// Progress renders a progress line.
func (f *Formatter) Progress(message string) string {
	return f.Wrap("⏳ " + message)
}

// Error renders an error line.
func (f *Formatter) Error(message string) string {
	return f.Wrap("❌ " + message)
}

// Response renders plain assistant output. Git diffs collapse to a
// summary, code blocks pass through unwrapped, and oversized output is
// routed to an attachment with a short caption.
func (f *Formatter) Response(text string, fullCode bool) Rendered {
	if diffview.IsDiff(text) {
		if r, ok := f.renderDiff(text, fullCode); ok {
			return r
		}
	}

	if Detect(text, fullCode) == Attachment {
		return Rendered{
			Text:       fmt.Sprintf("Output (%d lines) attached: %s", lineCount(text), AttachmentPlaceholder),
			Attach:     true,
			AttachBody: text,
			AttachHint: "output",
		}
	}

	if strings.Contains(text, "```") {
		// Leave fenced code alone; the chunker keeps short blocks whole.
		return Rendered{Text: text}
	}
	return Rendered{Text: f.Wrap(text)}
}

func (f *Formatter) renderDiff(text string, fullCode bool) (Rendered, bool) {
	files, err := diffview.Parse(text)
	if err != nil {
		return Rendered{}, false
	}

	summary := diffview.Summarize(files)
	if Detect(text, fullCode) == Attachment {
		return Rendered{
			Text:       summary + "\nFull diff attached: " + AttachmentPlaceholder,
			Attach:     true,
			AttachBody: text,
			AttachHint: "diff",
		}, true
	}
	return Rendered{
		Text: summary + "\n\n```diff\n" + strings.TrimRight(text, "\n") + "\n```",
	}, true
}

// Detect routes output by size: more than AttachmentThresholdLines lines
// becomes an attachment, InlineMaxLines or fewer always stays inline,
// and full-code mode forces everything inline.
func Detect(text string, fullCode bool) Disposition {
	lines := lineCount(text)
	switch {
	case lines <= InlineMaxLines:
		return Inline
	case lines > AttachmentThresholdLines && !fullCode:
		return Attachment
	default:
		return Inline
	}
}

// Wrap enforces the display width per line, prefixing continuation
// lines with a marker. The marker hangs outside the width so wrapped
// code columns still line up.
func (f *Formatter) Wrap(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if utf8.RuneCountInString(line) <= f.wrapWidth {
			out = append(out, line)
			continue
		}
		parts := strings.Split(wordwrap.String(line, f.wrapWidth), "\n")
		for i, p := range parts {
			if i == 0 {
				out = append(out, p)
			} else {
				out = append(out, ContinuationPrefix+p)
			}
		}
	}
	return strings.Join(out, "\n")
}

func lineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(strings.TrimRight(text, "\n"), "\n") + 1
}
