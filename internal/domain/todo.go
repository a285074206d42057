package domain

import (
	"fmt"
	"strings"
)

// Todo statuses accepted from the agent.
const (
	TodoStatusPending    = "pending"
	TodoStatusInProgress = "in_progress"
	TodoStatusCompleted  = "completed"
)

// TodoItem is a single entry in the per-session task list maintained by the
// agent.
type TodoItem struct {
	ID          string `json:"id"`
	Task        string `json:"task"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// ValidateTodoBatch checks a whole todo batch before it may be stored.
// At most one item may be in_progress at a time; the whole batch is rejected
// otherwise, never partially applied.
func ValidateTodoBatch(items []TodoItem) error {
	if len(items) == 0 {
		return fmt.Errorf("todo batch is empty")
	}

	inProgress := 0
	for i, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("todo item %d: id is required", i)
		}
		if strings.TrimSpace(item.Task) == "" {
			return fmt.Errorf("todo item %q: task is required", item.ID)
		}
		switch item.Status {
		case "", TodoStatusPending, TodoStatusInProgress, TodoStatusCompleted:
		default:
			return fmt.Errorf("todo item %q: unknown status %q", item.ID, item.Status)
		}
		if item.Status == TodoStatusInProgress {
			inProgress++
		}
	}

	if inProgress > 1 {
		return fmt.Errorf("todo batch rejected: %d items marked in_progress, at most one allowed", inProgress)
	}
	return nil
}
