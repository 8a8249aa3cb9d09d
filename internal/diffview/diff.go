// Package diffview parses git-style unified diffs into per-file records
// and renders plain-English summaries suitable for a small screen.
package diffview

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Hunk is one @@ range of a file diff. Lines keep their +/-/space
// prefixes verbatim.
type Hunk struct {
	OldStart int      `json:"old_start"`
	OldCount int      `json:"old_count"`
	NewStart int      `json:"new_start"`
	NewCount int      `json:"new_count"`
	Lines    []string `json:"lines"`
}

// FileDiff is the parsed change set of a single file. Binary files carry
// no hunks.
type FileDiff struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
	Binary  bool   `json:"binary"`
	Hunks   []Hunk `json:"hunks"`
}

var (
	fileHeaderRe = regexp.MustCompile(`^diff --git a/(.+) b/(.+)$`)
	hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
	binaryRe     = regexp.MustCompile(`^Binary files? .* differ$`)

	defRe   = regexp.MustCompile(`^\s*def\s+([A-Za-z_]\w*)`)
	classRe = regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)`)
	funcRe  = regexp.MustCompile(`^\s*(?:async\s+)?function\s+([A-Za-z_$]\w*)`)
)

// IsDiff reports whether the text carries a git-style diff header.
func IsDiff(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			return true
		}
	}
	return false
}

// Parse splits a git-style diff into per-file records.
func Parse(text string) ([]FileDiff, error) {
	var files []FileDiff
	var current *FileDiff
	var hunk *Hunk

	closeHunk := func() {
		if hunk != nil && current != nil {
			for len(hunk.Lines) > 0 && hunk.Lines[len(hunk.Lines)-1] == "" {
				hunk.Lines = hunk.Lines[:len(hunk.Lines)-1]
			}
			current.Hunks = append(current.Hunks, *hunk)
		}
		hunk = nil
	}
	closeFile := func() {
		closeHunk()
		if current != nil {
			files = append(files, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if m := fileHeaderRe.FindStringSubmatch(line); m != nil {
			closeFile()
			current = &FileDiff{OldPath: m[1], NewPath: m[2]}
			continue
		}
		if current == nil {
			continue
		}

		if binaryRe.MatchString(line) {
			closeHunk()
			current.Binary = true
			continue
		}
		if strings.HasPrefix(line, "--- ") {
			current.OldPath = stripPathPrefix(line[4:])
			continue
		}
		if strings.HasPrefix(line, "+++ ") {
			current.NewPath = stripPathPrefix(line[4:])
			continue
		}
		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			closeHunk()
			hunk = &Hunk{
				OldStart: atoiDefault(m[1], 0),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewCount: atoiDefault(m[4], 1),
			}
			continue
		}
		if hunk == nil {
			// index/mode lines between the file header and the first hunk
			continue
		}
		if line == "" || strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") ||
			strings.HasPrefix(line, " ") || strings.HasPrefix(line, `\`) {
			hunk.Lines = append(hunk.Lines, line)
			continue
		}
		// anything else ends the hunk
		closeHunk()
	}
	closeFile()

	if len(files) == 0 {
		return nil, fmt.Errorf("no git diff header found")
	}
	return files, nil
}

// ChangedSymbols lists function- and class-level names touched by the
// diff, detected by surface patterns on added and removed lines.
func (f *FileDiff) ChangedSymbols() []string {
	var symbols []string
	seen := map[string]bool{}

	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			symbols = append(symbols, name)
		}
	}

	for _, h := range f.Hunks {
		for _, line := range h.Lines {
			if len(line) == 0 || (line[0] != '+' && line[0] != '-') {
				continue
			}
			body := line[1:]
			if m := defRe.FindStringSubmatch(body); m != nil {
				add(m[1])
			}
			if m := classRe.FindStringSubmatch(body); m != nil {
				add(m[1])
			}
			if m := funcRe.FindStringSubmatch(body); m != nil {
				add(m[1])
			}
		}
	}
	return symbols
}

// Path returns the display path of the file: the new path unless the
// file was deleted.
func (f *FileDiff) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// Summarize renders a plain-English list of the parsed changes.
func Summarize(files []FileDiff) string {
	if len(files) == 0 {
		return "No changes."
	}

	noun := "files"
	if len(files) == 1 {
		noun = "file"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Modified %d %s:\n", len(files), noun)
	for _, f := range files {
		switch {
		case f.Binary:
			fmt.Fprintf(&b, "• %s (binary)\n", f.Path())
		default:
			if symbols := f.ChangedSymbols(); len(symbols) > 0 {
				fmt.Fprintf(&b, "• %s — changes in %s\n", f.Path(), strings.Join(symbols, ", "))
			} else {
				fmt.Fprintf(&b, "• %s\n", f.Path())
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func stripPathPrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "/dev/null" {
		return ""
	}
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[2:]
	}
	return p
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
