// Package stream turns raw child stdout into classified events and
// orchestrates the gate-format-deliver pipeline between a session's
// CLI process and the remote thread.
package stream

import (
	"regexp"
	"strings"
)

// Tool names the classifier recognizes in child output.
const (
	ToolRead  = "Read"
	ToolEdit  = "Edit"
	ToolWrite = "Write"
	ToolGrep  = "Grep"
	ToolGlob  = "Glob"
	ToolBash  = "Bash"
)

// Event is one classified line of child output. The concrete types
// are ToolCall, Progress, ErrorEvent and Response; nothing else
// implements it.
type Event interface {
	isEvent()
}

// ToolCall is a surface-level tool announcement. File-style tools set
// Target; Bash sets Command.
type ToolCall struct {
	Tool    string
	Target  string
	Command string
}

// Subject is what the tool operates on: the command for Bash, the
// target path otherwise.
func (t ToolCall) Subject() string {
	if t.Command != "" {
		return t.Command
	}
	return t.Target
}

// Progress is a narration line such as "Analyzing dependencies".
type Progress struct {
	Message string
}

// ErrorEvent is an error line reported by the child.
type ErrorEvent struct {
	Message string
}

// Response is any line that matched no other rule.
type Response struct {
	Text string
}

func (ToolCall) isEvent()   {}
func (Progress) isEvent()   {}
func (ErrorEvent) isEvent() {}
func (Response) isEvent()   {}

var (
	toolCallRe = regexp.MustCompile(`^Using (Read|Edit|Write|Grep|Glob) tool on (.+)$`)
	progressRe = regexp.MustCompile(`^(Analyzing|Writing|Reading)\s+.+`)
)

const (
	runningPrefix = "Running: "
	errorPrefix   = "Error: "
)

// Classify maps one output line to its event. Rules are ordered and
// the first match wins; a line that matches nothing is a plain
// Response.
func Classify(line string) Event {
	if m := toolCallRe.FindStringSubmatch(line); m != nil {
		return ToolCall{Tool: m[1], Target: m[2]}
	}
	if strings.HasPrefix(line, runningPrefix) {
		return ToolCall{Tool: ToolBash, Command: line[len(runningPrefix):]}
	}
	if strings.HasPrefix(line, errorPrefix) {
		return ErrorEvent{Message: line[len(errorPrefix):]}
	}
	if progressRe.MatchString(line) {
		return Progress{Message: line}
	}
	return Response{Text: line}
}
