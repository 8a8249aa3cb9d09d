package main

import (
	"fmt"
	"strings"
)

// scenario is one canned playback script. The head word of an inbound
// command selects it; the rest of the command becomes the argument.
type scenario struct {
	name        string
	description string
	lines       func(arg string) []string
}

var scenarios = []scenario{
	{
		name:        "chat",
		description: "plain response text (default)",
		lines: func(arg string) []string {
			if arg == "" {
				arg = "that"
			}
			return []string{
				"Let me take a look at " + arg + ".",
				"Nothing needs to change; the current behavior already matches.",
			}
		},
	},
	{
		name:        "explore",
		description: "safe tool calls and progress narration",
		lines: func(arg string) []string {
			target := arg
			if target == "" {
				target = "internal/server/handler.go"
			}
			return []string{
				"Analyzing project structure",
				"Using Read tool on " + target,
				"Using Grep tool on func Serve",
				"Using Glob tool on internal/**/*.go",
				"The handler validates its input before dispatching, so the extra nil check is dead code.",
			}
		},
	},
	{
		name:        "edit",
		description: "file edit that waits for approval",
		lines: func(arg string) []string {
			target := arg
			if target == "" {
				target = "internal/server/handler.go"
			}
			return []string{
				"Using Read tool on " + target,
				"Using Edit tool on " + target,
				"Writing updated file",
				"Removed the dead nil check and tightened the error message.",
			}
		},
	},
	{
		name:        "run",
		description: "shell command that waits for approval",
		lines: func(arg string) []string {
			cmd := arg
			if cmd == "" {
				cmd = "go test ./..."
			}
			return []string{
				"Running: " + cmd,
				"ok      internal/server 0.41s",
				"All tests pass.",
			}
		},
	},
	{
		name:        "fail",
		description: "error result",
		lines: func(arg string) []string {
			reason := arg
			if reason == "" {
				reason = "connection refused"
			}
			return []string{
				"Running: curl -s localhost:9200/_cluster/health",
				"Error: " + reason,
				"The service is not reachable. Start it and retry.",
			}
		},
	},
	{
		name:        "long",
		description: "oversized response that attaches as a file",
		lines: func(string) []string {
			out := make([]string, 0, 122)
			out = append(out, "Full trace of the failing request:")
			for i := 0; i < 120; i++ {
				out = append(out, fmt.Sprintf("frame %03d: handler.Serve -> middleware.Wrap -> router.Dispatch", i))
			}
			out = append(out, "The loop in frame 017 re-enters Dispatch without consuming the body.")
			return out
		},
	},
	{
		name:        "diff",
		description: "git-diff shaped response",
		lines: func(string) []string {
			return []string{
				"diff --git a/internal/server/handler.go b/internal/server/handler.go",
				"--- a/internal/server/handler.go",
				"+++ b/internal/server/handler.go",
				"@@ -42,4 +42,2 @@ func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {",
				"-	if r == nil {",
				"-		return",
				"-	}",
				"+	// the mux never passes a nil request",
				" 	h.dispatch(w, r)",
			}
		},
	},
}

// play resolves the scenario for one inbound command. Unknown head
// words fall back to chat with the whole command as the argument.
func play(command string) []string {
	head, arg, _ := strings.Cut(command, " ")
	for _, sc := range scenarios {
		if strings.EqualFold(head, sc.name) {
			return sc.lines(strings.TrimSpace(arg))
		}
	}
	return scenarios[0].lines(command)
}
