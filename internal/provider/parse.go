package provider

import (
	"encoding/json"
)

// shapeMatcher attempts to extract reply text and optional reasoning text
// from one known response schema. ok is true only when reply text was found.
type shapeMatcher func(raw []byte) (text, thought string, ok bool)

// shapeMatchers is the ordered matcher chain. Keeping the chain as data lets
// each schema be tested on its own; the first matcher that yields text wins.
var shapeMatchers = []shapeMatcher{
	matchChoices,
	matchOutputItems,
	matchFlatResult,
}

// parseReplyBody runs the matcher chain over a raw response body.
func parseReplyBody(raw []byte) (*Reply, error) {
	for _, match := range shapeMatchers {
		if text, thought, ok := match(raw); ok {
			return &Reply{Text: text, Thought: thought}, nil
		}
	}
	return nil, &ParseError{Snippet: snippet(raw)}
}

// matchChoices handles the chat-completions schema:
// choices[0].message.content with an optional reasoning_content sibling.
func matchChoices(raw []byte) (string, string, bool) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content          string `json:"content"`
				ReasoningContent string `json:"reasoning_content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", "", false
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", "", false
	}
	msg := parsed.Choices[0].Message
	return msg.Content, msg.ReasoningContent, true
}

// outputContent is a nested content entry inside a responses-style item.
type outputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// outputItem is one entry of the responses-style output[] array. The text of
// a reasoning item arrives in the wild as an array of objects, a single
// string, or nested content entries, so it is kept raw and decoded lazily.
type outputItem struct {
	Type    string          `json:"type"`
	Content []outputContent `json:"content"`
	Text    json.RawMessage `json:"text"`
}

// matchOutputItems handles the responses schema: a typed output[] array with
// message items (nested output_text/reasoning content) and standalone
// reasoning items. The first non-empty candidate wins per field; later
// matches are ignored.
func matchOutputItems(raw []byte) (string, string, bool) {
	var parsed struct {
		Output []outputItem `json:"output"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", "", false
	}

	var text, thought string
	for _, item := range parsed.Output {
		switch item.Type {
		case "message":
			for _, entry := range item.Content {
				switch entry.Type {
				case "output_text":
					if text == "" {
						text = entry.Text
					}
				case "reasoning":
					if thought == "" {
						thought = entry.Text
					}
				}
			}
		case "reasoning":
			if thought == "" {
				thought = reasoningText(item)
			}
		}
	}

	if text == "" {
		return "", "", false
	}
	return text, thought, true
}

// reasoningText decodes the text of a reasoning item across its three
// observed encodings.
func reasoningText(item outputItem) string {
	if len(item.Text) > 0 {
		var single string
		if err := json.Unmarshal(item.Text, &single); err == nil && single != "" {
			return single
		}
		var many []outputContent
		if err := json.Unmarshal(item.Text, &many); err == nil {
			for _, entry := range many {
				if entry.Text != "" {
					return entry.Text
				}
			}
		}
	}
	for _, entry := range item.Content {
		if entry.Text != "" {
			return entry.Text
		}
	}
	return ""
}

// matchFlatResult handles the flat wrapper schema:
// result.response/result.text plus result.reasoning/result.thought.
func matchFlatResult(raw []byte) (string, string, bool) {
	var parsed struct {
		Result struct {
			Response  string `json:"response"`
			Text      string `json:"text"`
			Reasoning string `json:"reasoning"`
			Thought   string `json:"thought"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", "", false
	}

	text := parsed.Result.Response
	if text == "" {
		text = parsed.Result.Text
	}
	if text == "" {
		return "", "", false
	}

	thought := parsed.Result.Reasoning
	if thought == "" {
		thought = parsed.Result.Thought
	}
	return text, thought, true
}
