// Package agent drives the per-user dialogue turn cycle: user input in, AI
// call out, tool dispatch, and the pending-confirmation protocol. All session
// state is owned by the Orchestrator and mutated only under its mutex; AI and
// search calls run on background goroutines and re-validate the session before
// their results are applied.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/hostpilot/internal/config"
	"github.com/ashureev/hostpilot/internal/domain"
	"github.com/ashureev/hostpilot/internal/executor"
	"github.com/ashureev/hostpilot/internal/provider"
	"github.com/ashureev/hostpilot/internal/store"
	"github.com/ashureev/hostpilot/internal/verify"
)

// User-facing messages. Lines the orchestrator originates carry a marker
// prefix so the executor can filter them out of captured command output.
const (
	msgTerms = "[agent] Before we start: this assistant can run commands in your sandbox after your confirmation. Reply \"agree\" to accept the terms and begin."
	msgBusy  = "[agent] Still working on the previous message. Type \"stop\" to interrupt."
	msgStop  = "[agent] Stopped."
	msgBye   = "[agent] Session closed. Send a message to start a new one."
	msgIdle  = "[agent] Session closed due to inactivity."
)

// Outbound delivers text lines to a user's chat channel. Implemented by the
// websocket channel hub; a send to a disconnected user is a no-op.
type Outbound interface {
	Send(userID, text string)
}

// ChatClient is the AI backend adapter consumed by the orchestrator.
type ChatClient interface {
	Chat(ctx context.Context, history []domain.Message, systemPrompt string) (*provider.Reply, error)
}

// Searcher performs web lookups for the search tool.
type Searcher interface {
	Configured() bool
	Search(ctx context.Context, query string) (string, error)
}

// PresetReader resolves sandboxed reference files for the get tool.
type PresetReader interface {
	Read(name string) (string, error)
}

// sessionState is one user's live dialogue plus its turn-cycle flags. Only
// the Orchestrator mutex guards it.
type sessionState struct {
	dialogue *domain.DialogueSession
	pending  *domain.Pending

	// generating is true while an AI call or tool chain is in flight. It
	// rejects overlapping input and stays set while a pending item waits.
	generating bool

	// genEpoch advances on every turn launch and on stop. Background results
	// carry the epoch they started under and are discarded on mismatch.
	genEpoch uint64

	tokenWarned bool
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	AI       ChatClient
	Executor executor.Executor
	Search   Searcher
	Presets  PresetReader
	Verifier *verify.Manager
	Repo     store.Repository
	Out      Outbound
}

// Orchestrator owns the session map and the turn state machine.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	closed   bool

	deps         Deps
	cfg          config.AgentConfig
	systemPrompt string
	execTimeout  time.Duration

	// ctx covers all background calls; cancelled on Close so in-flight AI
	// requests abort instead of keeping the process alive.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an orchestrator. systemPrompt is sent with every AI call.
func New(deps Deps, cfg config.AgentConfig, systemPrompt string, execTimeout time.Duration) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		sessions:     make(map[string]*sessionState),
		deps:         deps,
		cfg:          cfg,
		systemPrompt: systemPrompt,
		execTimeout:  execTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// HandleInput processes one line of user input. It never blocks on the AI
// backend; long work is dispatched to background goroutines and delivered
// through the Outbound channel.
func (o *Orchestrator) HandleInput(ctx context.Context, userID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	// stop forces the session back to idle from any state and discards
	// whatever was pending or in flight.
	if strings.EqualFold(text, "stop") {
		o.interrupt(userID)
		return
	}

	// A live verification challenge or an active cooldown consumes chat input
	// before the dialogue sees it, so a frozen user gets remaining-time
	// feedback instead of feeding the message to the AI. The verifier has its
	// own lock; its success callback re-enters the orchestrator, so this must
	// run outside o.mu.
	if o.deps.Verifier != nil {
		consumed, reply := o.deps.Verifier.HandleAttempt(userID, text)
		if consumed {
			if reply != "" {
				o.deps.Out.Send(userID, "[verify] "+reply)
			}
			return
		}
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	st, ok := o.sessions[userID]
	if !ok {
		o.mu.Unlock()
		o.startSession(ctx, userID, text)
		return
	}

	if st.pending != nil {
		o.resolvePending(userID, st, text)
		return // resolvePending unlocks
	}

	if st.generating {
		o.mu.Unlock()
		o.deps.Out.Send(userID, msgBusy)
		return
	}

	st.dialogue.Append(domain.RoleUser, text)
	o.warnTokensLocked(userID, st)
	o.launchGenerateLocked(userID, st)
	o.mu.Unlock()
}

// startSession runs the agreement gate and, if it passes, creates the session
// and starts the first turn with the given text.
func (o *Orchestrator) startSession(ctx context.Context, userID, text string) {
	agreed, err := o.deps.Repo.HasAgreed(ctx, userID)
	if err != nil {
		slog.Error("agreement lookup failed", "user_id", userID, "error", err)
		o.deps.Out.Send(userID, "[agent] Something went wrong, please try again.")
		return
	}

	if !agreed {
		if !strings.EqualFold(text, "agree") {
			o.deps.Out.Send(userID, msgTerms)
			return
		}
		if err := o.deps.Repo.RecordAgreement(ctx, userID); err != nil {
			slog.Error("failed to record agreement", "user_id", userID, "error", err)
			o.deps.Out.Send(userID, "[agent] Could not record your agreement, please try again.")
			return
		}
		o.deps.Out.Send(userID, "[agent] Thanks. What can I help you with?")
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	st, ok := o.sessions[userID]
	if !ok {
		st = &sessionState{dialogue: domain.NewDialogueSession(userID)}
		o.sessions[userID] = st
		slog.Info("dialogue session created", "user_id", userID)
	}
	if st.generating || st.pending != nil {
		o.mu.Unlock()
		o.deps.Out.Send(userID, msgBusy)
		return
	}
	st.dialogue.Append(domain.RoleUser, text)
	o.warnTokensLocked(userID, st)
	o.launchGenerateLocked(userID, st)
	o.mu.Unlock()
}

// interrupt implements stop: discard pending state, invalidate in-flight
// background results, return to idle. The session itself survives.
func (o *Orchestrator) interrupt(userID string) {
	o.mu.Lock()
	st, ok := o.sessions[userID]
	if !ok {
		o.mu.Unlock()
		return
	}
	st.pending = nil
	st.generating = false
	st.genEpoch++
	st.dialogue.Touch()
	o.mu.Unlock()

	slog.Info("session interrupted", "user_id", userID)
	o.deps.Out.Send(userID, msgStop)
}

// warnTokensLocked emits the advisory context-size warning once per session
// when the rough chars/4 estimate crosses the configured threshold.
func (o *Orchestrator) warnTokensLocked(userID string, st *sessionState) {
	if o.cfg.TokenWarnLimit <= 0 || st.tokenWarned {
		return
	}
	if est := st.dialogue.EstimatedTokens(); est > o.cfg.TokenWarnLimit {
		st.tokenWarned = true
		o.deps.Out.Send(userID, "[agent] Heads up: the conversation is getting long and older messages will be dropped.")
	}
}

// SessionCount reports the number of live sessions, for the status endpoint.
func (o *Orchestrator) SessionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// StartSweep runs the idle-timeout sweep on a fixed period until ctx is done.
func (o *Orchestrator) StartSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.sweepIdle()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (o *Orchestrator) sweepIdle() {
	now := time.Now()

	o.mu.Lock()
	var closed []string
	for userID, st := range o.sessions {
		if st.dialogue.IdleFor(now) > o.cfg.IdleTimeout {
			delete(o.sessions, userID)
			closed = append(closed, userID)
		}
	}
	o.mu.Unlock()

	for _, userID := range closed {
		slog.Info("session closed by idle sweep", "user_id", userID)
		o.deps.Out.Send(userID, msgIdle)
	}
}

// Close stops accepting input, abandons in-flight background calls, and
// releases all session state.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	n := len(o.sessions)
	o.sessions = make(map[string]*sessionState)
	o.mu.Unlock()

	o.cancel()
	slog.Info("orchestrator closed", "sessions_released", n)
}
