// Package main implements a mock coding agent for exercising the
// daemon without a real CLI. It reads one command per line on stdin
// and plays back a canned scenario as surface-pattern output: tool
// announcements, shell invocations, progress narration, errors and
// plain response text. The head word of the command picks the
// scenario; anything else falls back to plain chat.
//
// Point agent.command at this binary to drive the full pipeline,
// including approval gating on the edit and run scenarios.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	delay := flag.Duration("delay", 200*time.Millisecond, "pause between output lines")
	list := flag.Bool("list", false, "print available scenarios and exit")
	flag.Parse()

	if *list {
		for _, sc := range scenarios {
			fmt.Printf("%-8s %s\n", sc.name, sc.description)
		}
		return
	}

	out := bufio.NewWriter(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		command := strings.TrimSpace(scanner.Text())
		if command == "" {
			continue
		}
		for _, line := range play(command) {
			fmt.Fprintln(out, line)
			_ = out.Flush()
			time.Sleep(*delay)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: stdin error: %v\n", err)
		os.Exit(1)
	}
}
