// Package toolcall implements the tool-call grammar embedded in AI replies.
//
// A reply carries at most one tool invocation, and it must be the trailing
// content of the reply. The parser scans for the last sigil character and
// only honors it when a known tool name follows, so a model that mentions
// "#" incidentally does not trigger a dispatch.
package toolcall

import (
	"regexp"
	"strings"
)

// Sigil starts every tool invocation.
const Sigil = "#"

// Tool names recognized by the dispatcher.
const (
	NameOver   = "over"
	NameExit   = "exit"
	NameRun    = "run"
	NameGet    = "get"
	NameChoose = "choose"
	NameSearch = "search"
	NameTodo   = "todo"
	NameRead   = "read"
	NameWrite  = "write"
)

// knownNames is the fixed tool vocabulary, used for the trailing-sigil guard.
var knownNames = []string{
	NameChoose,
	NameSearch,
	NameWrite,
	NameOver,
	NameExit,
	NameTodo,
	NameRead,
	NameRun,
	NameGet,
}

// Call is a parsed tool invocation.
type Call struct {
	Name string // lowercased tool name, without the sigil
	Args string // trimmed argument string, may be empty
}

// thoughtBlockRe matches <thought>...</thought> reasoning blocks, which may
// span multiple lines.
var thoughtBlockRe = regexp.MustCompile(`(?s)<thought>.*?</thought>`)

// thoughtLinePrefixes are stripped when they start the first line of a reply.
var thoughtLinePrefixes = []string{"Thought:", "思考过程:"}

// stripThought removes reasoning artifacts the model sometimes leaks into the
// visible reply text.
func stripThought(raw string) string {
	cleaned := thoughtBlockRe.ReplaceAllString(raw, "")
	cleaned = strings.TrimLeft(cleaned, " \t\r\n")
	for _, prefix := range thoughtLinePrefixes {
		if strings.HasPrefix(cleaned, prefix) {
			if idx := strings.IndexByte(cleaned, '\n'); idx >= 0 {
				cleaned = cleaned[idx+1:]
			} else {
				cleaned = ""
			}
			break
		}
	}
	return cleaned
}

// ParseReply splits a raw AI reply into display content and an optional
// trailing tool call. Only the last sigil occurrence is considered; tool
// calls embedded mid-reply are not honored. This last-sigil contract is load
// bearing for the prompting on the model side and must not be "fixed".
func ParseReply(raw string) (display string, call *Call) {
	cleaned := stripThought(raw)

	idx := strings.LastIndex(cleaned, Sigil)
	if idx < 0 {
		return strings.TrimSpace(cleaned), nil
	}

	tail := cleaned[idx:]
	if !startsWithKnownName(tail) {
		// The sigil is ordinary text, e.g. "I will just mention # as a symbol".
		return strings.TrimSpace(cleaned), nil
	}

	display = strings.TrimSpace(cleaned[:idx])

	// The tool name ends at the first ':' or space, whichever comes first.
	body := tail[len(Sigil):]
	nameEnd := len(body)
	for i, r := range body {
		if r == ':' || r == ' ' || r == '\n' || r == '\t' {
			nameEnd = i
			break
		}
	}

	name := strings.ToLower(body[:nameEnd])
	args := ""
	if nameEnd < len(body) {
		args = strings.TrimSpace(strings.TrimPrefix(body[nameEnd:], ":"))
	}

	return display, &Call{Name: name, Args: args}
}

// startsWithKnownName reports whether the text at a sigil begins with one of
// the fixed tool names, case-insensitively. Note that this is a prefix guard:
// "#overdue" passes it, and the dispatcher then rejects the extracted name
// "overdue" as unrecognized so the model can self-correct.
func startsWithKnownName(tail string) bool {
	lower := strings.ToLower(tail)
	for _, name := range knownNames {
		if strings.HasPrefix(lower, Sigil+name) {
			return true
		}
	}
	return false
}

// IsKnown reports whether name is part of the fixed tool vocabulary.
func IsKnown(name string) bool {
	for _, known := range knownNames {
		if name == known {
			return true
		}
	}
	return false
}

// SplitOptions splits a #choose argument string on ASCII and full-width
// commas, dropping empty entries.
func SplitOptions(args string) []string {
	fields := strings.FieldsFunc(args, func(r rune) bool {
		return r == ',' || r == '，'
	})
	options := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			options = append(options, trimmed)
		}
	}
	return options
}
