package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/hostpilot/internal/domain"
	"github.com/ashureev/hostpilot/internal/provider"
	"github.com/ashureev/hostpilot/internal/toolcall"
	"github.com/ashureev/hostpilot/internal/verify"
)

// feedbackCap bounds tool output fed back into the dialogue so a single
// command cannot dominate the request payload.
const feedbackCap = 4000

// launchGenerateLocked snapshots the dialogue and dispatches one AI call to
// the background. Callers must hold o.mu.
func (o *Orchestrator) launchGenerateLocked(userID string, st *sessionState) {
	st.generating = true
	st.genEpoch++
	epoch := st.genEpoch
	history := append([]domain.Message(nil), st.dialogue.History...)

	go func() {
		reply, err := o.deps.AI.Chat(o.ctx, history, o.systemPrompt)
		o.applyReply(userID, epoch, reply, err)
	}()
}

// applyReply marshals a background AI result back into session state. The
// session is re-validated here, not at dispatch time: a reply landing after
// stop or exit finds a missing session or a newer epoch and is discarded.
func (o *Orchestrator) applyReply(userID string, epoch uint64, reply *provider.Reply, err error) {
	o.mu.Lock()
	st, ok := o.sessions[userID]
	if !ok || st.genEpoch != epoch {
		o.mu.Unlock()
		slog.Debug("discarding stale AI reply", "user_id", userID)
		return
	}

	if err != nil {
		st.generating = false
		o.mu.Unlock()
		if errors.Is(err, provider.ErrInterrupted) {
			return
		}
		slog.Warn("AI call failed", "user_id", userID, "error", err)
		o.deps.Out.Send(userID, "[agent] "+chatErrorText(err))
		return
	}

	st.dialogue.Append(domain.RoleAssistant, reply.Text)
	display, call := toolcall.ParseReply(reply.Text)

	if display != "" {
		o.deps.Out.Send(userID, display)
	}
	if call == nil {
		st.generating = false
		o.mu.Unlock()
		return
	}
	o.dispatch(userID, st, call) // unlocks
}

// chatErrorText turns an adapter error into the reply text shown to the user.
// Configuration problems are explained rather than surfaced as failures.
func chatErrorText(err error) string {
	var provErr *provider.ProviderError
	var parseErr *provider.ParseError
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		return "The AI backend is not configured. Set an API key and restart the server."
	case errors.Is(err, context.DeadlineExceeded):
		return "The AI backend timed out. Please try again."
	case errors.As(err, &provErr):
		return fmt.Sprintf("The AI backend returned an error (HTTP %d). Please try again.", provErr.Status)
	case errors.As(err, &parseErr):
		return "The AI backend returned an unreadable response. Please try again."
	default:
		return "The AI call failed. Please try again."
	}
}

// dispatch routes one parsed tool call. Called with o.mu held; every path
// unlocks before doing I/O or returning.
func (o *Orchestrator) dispatch(userID string, st *sessionState, call *toolcall.Call) {
	slog.Info("tool call", "user_id", userID, "tool", call.Name)

	switch call.Name {
	case toolcall.NameOver:
		st.generating = false
		o.mu.Unlock()

	case toolcall.NameExit:
		delete(o.sessions, userID)
		o.mu.Unlock()
		slog.Info("session exited by agent", "user_id", userID)
		o.deps.Out.Send(userID, msgBye)

	case toolcall.NameRun:
		command := strings.TrimPrefix(call.Args, "/")
		if command == "" {
			o.toolError(userID, st, call.Name, "no command given")
			return
		}
		st.pending = &domain.Pending{Kind: domain.PendingConfirm, Command: command}
		o.mu.Unlock()
		o.deps.Out.Send(userID, fmt.Sprintf("[agent] Run this command? Reply Y to confirm or N to cancel.\n  %s", command))

	case toolcall.NameGet:
		if call.Args == "" {
			o.toolError(userID, st, call.Name, "no file name given")
			return
		}
		content, err := o.deps.Presets.Read(call.Args)
		if err != nil {
			o.toolError(userID, st, call.Name, err.Error())
			return
		}
		o.continueTurnLocked(userID, st, fmt.Sprintf("#get result (%s):\n%s", call.Args, content))

	case toolcall.NameChoose:
		options := toolcall.SplitOptions(call.Args)
		if len(options) < 2 {
			o.toolError(userID, st, call.Name, "need at least two comma-separated options")
			return
		}
		st.pending = &domain.Pending{Kind: domain.PendingChoice, Options: options}
		o.mu.Unlock()
		var b strings.Builder
		b.WriteString("[agent] Please pick one:\n")
		for i, opt := range options {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, opt)
		}
		o.deps.Out.Send(userID, strings.TrimRight(b.String(), "\n"))

	case toolcall.NameSearch:
		if call.Args == "" {
			o.toolError(userID, st, call.Name, "no query given")
			return
		}
		if o.deps.Search == nil || !o.deps.Search.Configured() {
			o.toolError(userID, st, call.Name, "search is not configured on this server")
			return
		}
		epoch := st.genEpoch
		o.mu.Unlock()
		o.deps.Out.Send(userID, "[agent] Searching: "+call.Args)
		go o.runSearch(userID, epoch, call.Args)

	case toolcall.NameTodo:
		if call.Args == "" {
			o.toolError(userID, st, call.Name, "no todo batch given")
			return
		}
		var items []domain.TodoItem
		if err := json.Unmarshal([]byte(call.Args), &items); err != nil {
			o.toolError(userID, st, call.Name, "invalid JSON: "+err.Error())
			return
		}
		if err := domain.ValidateTodoBatch(items); err != nil {
			o.toolError(userID, st, call.Name, err.Error())
			return
		}
		if err := o.deps.Repo.ReplaceTodos(o.ctx, userID, items); err != nil {
			o.toolError(userID, st, call.Name, "could not store the list: "+err.Error())
			return
		}
		o.continueTurnLocked(userID, st, fmt.Sprintf("#todo result: stored %d items", len(items)))

	case toolcall.NameRead:
		o.gatedFileTool(userID, st, call, verify.CapabilityRead)

	case toolcall.NameWrite:
		o.gatedFileTool(userID, st, call, verify.CapabilityWrite)

	default:
		// The grammar's known-name check is a prefix match, so a token like
		// "overdue" reaches dispatch. Report it and let the agent correct.
		o.toolError(userID, st, call.Name, "unrecognized tool")
	}
}

// toolError reports a tool failure to the user and feeds it back into the
// dialogue so the agent can retry differently. Called with o.mu held.
func (o *Orchestrator) toolError(userID string, st *sessionState, name, reason string) {
	text := fmt.Sprintf("#%s error: %s", name, reason)
	o.deps.Out.Send(userID, "[agent] "+text)
	o.continueTurnLocked(userID, st, text)
}

// continueTurnLocked feeds a tool result into the dialogue and starts exactly
// one more AI call. Called with o.mu held; unlocks.
//
// Results enter the history with the user role: the wire format allows only
// one system message per request, so a system-role entry would never reach
// the backend. The machine prefix in the content marks the origin.
func (o *Orchestrator) continueTurnLocked(userID string, st *sessionState, feedback string) {
	st.dialogue.Append(domain.RoleUser, truncateFeedback(feedback))
	o.launchGenerateLocked(userID, st)
	o.mu.Unlock()
}

// continueWithFeedback is the background-side counterpart: it re-validates
// the session and epoch before feeding the result, so work finishing after
// stop or exit is dropped.
func (o *Orchestrator) continueWithFeedback(userID string, epoch uint64, feedback string) {
	o.mu.Lock()
	st, ok := o.sessions[userID]
	if !ok || st.genEpoch != epoch {
		o.mu.Unlock()
		slog.Debug("discarding stale tool result", "user_id", userID)
		return
	}
	o.continueTurnLocked(userID, st, feedback)
}

// resolvePending handles user input while a confirmation or choice is
// outstanding. Called with o.mu held; unlocks.
func (o *Orchestrator) resolvePending(userID string, st *sessionState, text string) {
	pending := st.pending
	st.dialogue.Touch()

	switch pending.Kind {
	case domain.PendingConfirm:
		switch strings.ToLower(text) {
		case "y", "yes":
			st.pending = nil
			epoch := st.genEpoch
			command := pending.Command
			o.mu.Unlock()
			o.executeConfirmed(userID, epoch, command)
		case "n", "no":
			st.pending = nil
			o.deps.Out.Send(userID, "[agent] Cancelled.")
			o.continueTurnLocked(userID, st, "#run cancelled: the user declined to run the command")
		default:
			o.mu.Unlock()
			o.deps.Out.Send(userID, "[agent] Reply Y to run the command or N to cancel.")
		}

	case domain.PendingChoice:
		st.pending = nil
		o.continueTurnLocked(userID, st, "#choose_result: "+text)

	default:
		// Unreachable unless session state was corrupted.
		slog.Error("pending item with unknown kind", "user_id", userID, "kind", int(pending.Kind))
		st.pending = nil
		st.generating = false
		o.mu.Unlock()
	}
}

// executeConfirmed runs a confirmed command through the executor and feeds
// the captured output back into the turn. Runs without o.mu held.
func (o *Orchestrator) executeConfirmed(userID string, epoch uint64, command string) {
	ctx, cancel := context.WithTimeout(o.ctx, o.execTimeout)
	defer cancel()

	output, err := o.deps.Executor.Execute(ctx, userID, command)
	var feedback string
	if err != nil {
		slog.Warn("command execution failed", "user_id", userID, "error", err)
		feedback = fmt.Sprintf("#run failed: %s\n%s", err, output)
	} else {
		feedback = "#run result:\n" + output
	}

	if output != "" {
		o.deps.Out.Send(userID, "[hostpilot] output:\n"+output)
	}
	o.continueWithFeedback(userID, epoch, feedback)
}

// runSearch performs the web lookup on the background and feeds the result,
// or the error, back as dialogue feedback. Errors are part of the
// conversation, never silently dropped.
func (o *Orchestrator) runSearch(userID string, epoch uint64, query string) {
	result, err := o.deps.Search.Search(o.ctx, query)
	if err != nil {
		slog.Warn("search failed", "user_id", userID, "error", err)
		o.continueWithFeedback(userID, epoch, "#search error: "+err.Error())
		return
	}
	o.continueWithFeedback(userID, epoch, "#search result:\n"+result)
}

// gatedFileTool starts a verification challenge for a read or write file
// operation. The operation itself runs in the onVerify callback, which
// re-validates the session. Called with o.mu held; unlocks.
func (o *Orchestrator) gatedFileTool(userID string, st *sessionState, call *toolcall.Call, capability verify.Capability) {
	path, content, err := splitFileArgs(call, capability)
	if err != nil {
		o.toolError(userID, st, call.Name, err.Error())
		return
	}

	epoch := st.genEpoch
	name := call.Name

	instructions, err := o.deps.Verifier.Start(userID, capability, func() {
		go o.runFileOperation(userID, epoch, name, capability, path, content)
	})
	if err != nil {
		o.toolError(userID, st, name, err.Error())
		return
	}

	// The turn pauses here: the user completes the challenge out of band and
	// the verifier's callback picks the turn back up. Keeping the generating
	// flag set would wedge the session if the challenge expires untouched.
	st.generating = false
	o.mu.Unlock()
	o.deps.Out.Send(userID, "[verify] "+instructions)
}

// splitFileArgs validates file-tool arguments. Read takes a path; write takes
// a path on the first line and the content after it.
func splitFileArgs(call *toolcall.Call, capability verify.Capability) (path, content string, err error) {
	if capability == verify.CapabilityRead {
		path = strings.TrimSpace(call.Args)
		if path == "" {
			return "", "", errors.New("no file path given")
		}
		return path, "", nil
	}

	path, content, found := strings.Cut(call.Args, "\n")
	path = strings.TrimSpace(path)
	if path == "" {
		return "", "", errors.New("no file path given")
	}
	if !found || content == "" {
		return "", "", errors.New("no content given, expected the path on the first line and the content after it")
	}
	return path, content, nil
}

// runFileOperation performs the verified read or write in the user's
// environment and feeds the outcome back into the turn.
func (o *Orchestrator) runFileOperation(userID string, epoch uint64, name string, capability verify.Capability, path, content string) {
	ctx, cancel := context.WithTimeout(o.ctx, o.execTimeout)
	defer cancel()

	var command string
	if capability == verify.CapabilityRead {
		command = "cat " + shellQuote(path)
	} else {
		command = fmt.Sprintf("cat > %s <<'HOSTPILOT_EOF'\n%s\nHOSTPILOT_EOF", shellQuote(path), content)
	}

	output, err := o.deps.Executor.Execute(ctx, userID, command)
	if err != nil {
		slog.Warn("file operation failed", "user_id", userID, "tool", name, "error", err)
		o.continueWithFeedback(userID, epoch, fmt.Sprintf("#%s failed: %s\n%s", name, err, output))
		return
	}

	if capability == verify.CapabilityRead {
		o.continueWithFeedback(userID, epoch, fmt.Sprintf("#read result (%s):\n%s", path, output))
	} else {
		o.deps.Out.Send(userID, "[agent] Wrote "+path)
		o.continueWithFeedback(userID, epoch, fmt.Sprintf("#write result: wrote %s", path))
	}
}

func truncateFeedback(s string) string {
	if len(s) <= feedbackCap {
		return s
	}
	return s[:feedbackCap] + "\n...[truncated]"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
