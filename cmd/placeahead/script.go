package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

type actionKind int

const (
	actionText actionKind = iota
	actionPick
	actionCommit
	actionQuit
)

// action is one user event: new text, a pick, a commit or quitting
type action struct {
	Kind  actionKind
	Text  string
	Index int
}

// step is an action scheduled at an offset from the start of a replay
type step struct {
	At     time.Duration
	Action action
	Line   int
}

// parseAction reads one interactive line. Lines starting with "/" are
// commands; "//" escapes a literal leading slash.
func parseAction(line string) (action, error) {
	if !strings.HasPrefix(line, "/") {
		return action{Kind: actionText, Text: line}, nil
	}
	if strings.HasPrefix(line, "//") {
		return action{Kind: actionText, Text: line[1:]}, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/pick":
		if len(fields) != 2 {
			return action{}, fmt.Errorf("usage: /pick N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 {
			return action{}, fmt.Errorf("invalid suggestion number %q", fields[1])
		}
		return action{Kind: actionPick, Index: n - 1}, nil
	case "/commit":
		return action{Kind: actionCommit}, nil
	case "/quit":
		return action{Kind: actionQuit}, nil
	default:
		return action{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

// parseScript reads a replay script. Each line is "+<delay> <event>", where
// the delay is relative to the previous line and the event is anything
// parseAction accepts. Blank lines and lines starting with "#" are skipped.
func parseScript(r io.Reader) ([]step, error) {
	var steps []step
	var at time.Duration

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		if !strings.HasPrefix(line, "+") {
			return nil, fmt.Errorf("line %d: expected +<delay>, got %q", lineNo, line)
		}

		delay, rest, _ := strings.Cut(line[1:], " ")
		d, err := time.ParseDuration(delay)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid delay: %w", lineNo, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("line %d: negative delay %s", lineNo, d)
		}

		act, err := parseAction(rest)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		at += d
		steps = append(steps, step{At: at, Action: act, Line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return steps, nil
}
