// Package verify implements the out-of-band challenge gate for sensitive
// capabilities. A challenge artifact is a file the user must read or write
// outside the chat channel, decoupling "prove you have this access level"
// from the chat transport itself.
package verify

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capability classifies what a verification session unlocks.
type Capability int

const (
	// CapabilityRead gates reading files from the user's environment.
	CapabilityRead Capability = iota
	// CapabilityWrite gates writing files into the user's environment.
	CapabilityWrite
)

func (c Capability) String() string {
	if c == CapabilityWrite {
		return "write"
	}
	return "read"
}

const (
	sessionTTL     = 10 * time.Minute
	maxAttempts    = 3
	cooldownPeriod = 60 * time.Second
)

type session struct {
	userID     string
	capability Capability
	password   string
	artifact   string
	expiresAt  time.Time
	attempts   int
	onVerify   func()
}

// Manager owns all verification state: one active session per user plus the
// per-user cooldown records. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	dir      string
	sessions map[string]*session
	cooldown map[string]time.Time
	notify   func(userID, text string)
	now      func() time.Time
}

// NewManager creates a verification manager rooted at dir. notify delivers
// out-of-turn messages (e.g. expiry notices) to the user's chat channel and
// may be nil.
func NewManager(dir string, notify func(userID, text string)) *Manager {
	return &Manager{
		dir:      dir,
		sessions: make(map[string]*session),
		cooldown: make(map[string]time.Time),
		notify:   notify,
		now:      time.Now,
	}
}

// Start creates a verification session for a capability and returns the
// instructions to present in chat. Any previous session for the user is
// replaced; starting during an active cooldown is rejected.
func (m *Manager) Start(userID string, capability Capability, onVerify func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remaining := m.cooldownRemaining(userID); remaining > 0 {
		return "", fmt.Errorf("verification frozen for another %ds", int(remaining.Seconds())+1)
	}

	password, err := generatePassword()
	if err != nil {
		return "", fmt.Errorf("generate verification password: %w", err)
	}

	userDir := filepath.Join(m.dir, userID)
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return "", fmt.Errorf("create verification directory: %w", err)
	}
	artifact := filepath.Join(userDir, "verify-"+uuid.NewString()+".txt")

	var instructions string
	switch capability {
	case CapabilityRead:
		// Read-class: the password is hidden in the artifact; echoing it in
		// chat proves the user can read that location.
		if err := os.WriteFile(artifact, []byte(password+"\n"), 0600); err != nil {
			return "", fmt.Errorf("write verification artifact: %w", err)
		}
		instructions = fmt.Sprintf(
			"To unlock file reading, open %s and send the 6-digit code it contains. The code expires in 10 minutes.",
			artifact)
	case CapabilityWrite:
		// Write-class: the password is shown in chat; writing it into the
		// artifact proves write access. The next chat message only triggers
		// the check, its content is irrelevant.
		if err := os.WriteFile(artifact, nil, 0600); err != nil {
			return "", fmt.Errorf("create verification artifact: %w", err)
		}
		instructions = fmt.Sprintf(
			"To unlock file writing, write the code %s into %s, then send any message here. The code expires in 10 minutes.",
			password, artifact)
	default:
		return "", fmt.Errorf("unknown capability %d", capability)
	}

	if old, ok := m.sessions[userID]; ok {
		m.removeArtifact(old)
	}
	m.sessions[userID] = &session{
		userID:     userID,
		capability: capability,
		password:   password,
		artifact:   artifact,
		expiresAt:  m.now().Add(sessionTTL),
		attempts:   0,
		onVerify:   onVerify,
	}

	slog.Info("verification started", "user_id", userID, "capability", capability.String())
	return instructions, nil
}

// Pending reports whether a verification session is active for the user.
func (m *Manager) Pending(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	return ok
}

// HandleAttempt processes a chat message as a verification attempt. consumed
// is true when the message was taken by the verification flow and must not
// reach the dialogue; reply is the feedback to show the user. The cooldown
// check runs first and rejects attempts regardless of password correctness.
func (m *Manager) HandleAttempt(userID, text string) (consumed bool, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remaining := m.cooldownRemaining(userID); remaining > 0 {
		return true, fmt.Sprintf("Verification is frozen. Try again in %ds.", int(remaining.Seconds())+1)
	}

	s, ok := m.sessions[userID]
	if !ok {
		return false, ""
	}

	if m.now().After(s.expiresAt) {
		m.discard(s)
		return true, "Verification expired. Start over to try again."
	}

	var passed bool
	switch s.capability {
	case CapabilityRead:
		passed = strings.TrimSpace(text) == s.password
	case CapabilityWrite:
		// The message is only a "check now" signal.
		content, err := os.ReadFile(s.artifact)
		passed = err == nil && strings.TrimSpace(string(content)) == s.password
	}

	if passed {
		onVerify := s.onVerify
		m.discard(s)
		m.mu.Unlock()
		if onVerify != nil {
			onVerify()
		}
		m.mu.Lock()
		slog.Info("verification succeeded", "user_id", userID, "capability", s.capability.String())
		return true, "Verification successful."
	}

	s.attempts++
	if s.attempts >= maxAttempts {
		m.discard(s)
		m.cooldown[userID] = m.now().Add(cooldownPeriod)
		slog.Warn("verification attempts exhausted", "user_id", userID, "capability", s.capability.String())
		return true, fmt.Sprintf("Verification failed %d times. Frozen for %d seconds.", maxAttempts, int(cooldownPeriod.Seconds()))
	}

	return true, fmt.Sprintf("Verification failed. %d attempts remaining.", maxAttempts-s.attempts)
}

// StartSweep runs a periodic sweep that discards expired sessions, deletes
// their artifacts, and notifies the user. The sweep stops when ctx is done.
func (m *Manager) StartSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) sweepExpired() {
	m.mu.Lock()
	var expired []*session
	now := m.now()
	for _, s := range m.sessions {
		if now.After(s.expiresAt) {
			expired = append(expired, s)
			m.discardLocked(s)
		}
	}
	notify := m.notify
	m.mu.Unlock()

	for _, s := range expired {
		slog.Info("verification session expired", "user_id", s.userID, "capability", s.capability.String())
		if notify != nil {
			notify(s.userID, "Your verification request expired without being completed.")
		}
	}
}

// cooldownRemaining returns the time left on the user's cooldown, pruning
// finished entries. Callers must hold mu.
func (m *Manager) cooldownRemaining(userID string) time.Duration {
	until, ok := m.cooldown[userID]
	if !ok {
		return 0
	}
	remaining := until.Sub(m.now())
	if remaining <= 0 {
		delete(m.cooldown, userID)
		return 0
	}
	return remaining
}

// discard removes a session and its artifact. Callers must hold mu.
func (m *Manager) discard(s *session) {
	m.discardLocked(s)
}

func (m *Manager) discardLocked(s *session) {
	delete(m.sessions, s.userID)
	m.removeArtifact(s)
}

func (m *Manager) removeArtifact(s *session) {
	if err := os.Remove(s.artifact); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove verification artifact", "path", s.artifact, "error", err)
	}
}

func generatePassword() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
