// Package executor provides host command execution for confirmed agent
// commands. The agent core depends only on the Executor interface; the
// Docker and local implementations here are wiring.
package executor

import (
	"context"
	"strings"
)

// uiMarkerPrefixes identify lines emitted by this system's own chat UI.
// Captured command output drops them so the agent never re-ingests its own
// messages as command results.
var uiMarkerPrefixes = []string{
	"[hostpilot]",
	"[agent]",
	"[verify]",
}

// Executor runs a confirmed command for a user and returns the captured
// output. Implementations must honor ctx cancellation and apply their own
// output bounds.
type Executor interface {
	Execute(ctx context.Context, userID, command string) (string, error)
}

// FilterMarkers removes UI-emitted lines from captured output.
func FilterMarkers(output string) string {
	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if hasMarker(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func hasMarker(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range uiMarkerPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
