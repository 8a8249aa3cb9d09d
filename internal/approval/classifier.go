package approval

import (
	"fmt"
	"strings"
)

// Decision is the safety verdict for one tool call.
type Decision string

const (
	// Safe operations read state without changing it.
	Safe Decision = "Safe"
	// Destructive operations can change files or run commands.
	Destructive Decision = "Destructive"
)

// ClassifyOperation decides whether a tool is safe to run unattended.
// Matching is case-insensitive; anything unknown or empty is treated
// as destructive, because guessing wrong the other way edits files
// without consent. The reason is always non-empty.
func ClassifyOperation(tool string) (Decision, string) {
	switch strings.ToLower(strings.TrimSpace(tool)) {
	case "read":
		return Safe, "Read only inspects file contents"
	case "grep":
		return Safe, "Grep only searches file contents"
	case "glob":
		return Safe, "Glob only lists matching paths"
	case "edit":
		return Destructive, "Edit modifies existing files"
	case "write":
		return Destructive, "Write creates or replaces files"
	case "bash":
		return Destructive, "Bash executes arbitrary commands"
	case "":
		return Destructive, "missing tool name is treated as destructive"
	default:
		return Destructive, fmt.Sprintf("unknown tool %q is treated as destructive", tool)
	}
}
