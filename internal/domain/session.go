package domain

import (
	"time"
)

// MaxHistory is the hard cap on dialogue history length. When an append would
// exceed it, the two oldest entries are evicted together so that user/assistant
// pairing assumptions in the remaining history are preserved.
const MaxHistory = 20

// DialogueSession holds the bounded conversation history for one user while
// they are in agent mode. It is owned exclusively by the orchestrator entry
// for that user and is only mutated under the orchestrator's serialization.
type DialogueSession struct {
	UserID       string
	History      []Message
	LastActivity time.Time
	CreatedAt    time.Time
}

// NewDialogueSession creates an empty session for a user.
func NewDialogueSession(userID string) *DialogueSession {
	now := time.Now()
	return &DialogueSession{
		UserID:       userID,
		History:      make([]Message, 0, MaxHistory),
		LastActivity: now,
		CreatedAt:    now,
	}
}

// Append adds a message to the history, evicting the two oldest entries as a
// pair whenever the cap is exceeded, and updates the activity clock.
func (s *DialogueSession) Append(role Role, content string) {
	s.History = append(s.History, Message{Role: role, Content: content})
	for len(s.History) > MaxHistory {
		s.History = s.History[2:]
	}
	s.LastActivity = time.Now()
}

// Touch updates the activity clock without modifying the history.
func (s *DialogueSession) Touch() {
	s.LastActivity = time.Now()
}

// EstimatedTokens returns a crude token estimate (total content length
// divided by four). It is an approximation used for advisory warnings only
// and makes no claim of tokenizer parity.
func (s *DialogueSession) EstimatedTokens() int {
	total := 0
	for _, m := range s.History {
		total += len(m.Content)
	}
	return total / 4
}

// IdleFor reports how long the session has been without activity.
func (s *DialogueSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// PendingKind distinguishes the two pending-input states a session can be in.
type PendingKind int

const (
	// PendingConfirm means a literal command string awaits Y/N confirmation.
	PendingConfirm PendingKind = iota
	// PendingChoice means the user must reply with a free-text selection.
	PendingChoice
)

// Pending represents the single tool-initiated action a session may have
// outstanding. At most one Pending exists per session; no new AI turn is
// started while it is unresolved.
type Pending struct {
	Kind    PendingKind
	Command string   // set for PendingConfirm
	Options []string // set for PendingChoice
}
