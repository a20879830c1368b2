// Package turn implements the core orchestration for one user turn
// (spec §4.F): the silence gate, debounce/supersede, dedup check, buffer
// phrase, keep-alive loop, upstream stream, smart hold, and passthrough.
package turn

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voicebridge/proxy/internal/config"
	"github.com/voicebridge/proxy/internal/dedup"
)

// Message is a chat-completions message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request wraps the decoded request body. body retains every field the
// caller sent, including ones this proxy does not understand, so they can
// be passed through upstream untouched.
type Request struct {
	SessionID string
	UserText  string
	Messages  []Message

	body map[string]any
}

// ParseRequest decodes the chat-completions request body, deriving the
// session id from "user" (falling back to "default") and extracting the
// last user message's trimmed content.
func ParseRequest(raw []byte) (*Request, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}

	rawMessages, _ := body["messages"].([]any)
	messages := make([]Message, 0, len(rawMessages))
	for _, m := range rawMessages {
		obj, ok := m.(map[string]any)
		if !ok {
			continue
		}
		role, _ := obj["role"].(string)
		content, _ := obj["content"].(string)
		messages = append(messages, Message{Role: role, Content: content})
	}

	sessionID := "default"
	if u, ok := body["user"].(string); ok && strings.TrimSpace(u) != "" {
		sessionID = u
	}

	userText := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			userText = strings.TrimSpace(messages[i].Content)
			break
		}
	}

	return &Request{SessionID: sessionID, UserText: userText, Messages: messages, body: body}, nil
}

// IsSilence reports whether userText should be filtered per §4.F step 2:
// empty, "...", the single ellipsis character, or shorter than 3 runes.
func (r *Request) IsSilence() bool {
	return isSilence(r.UserText)
}

func isSilence(text string) bool {
	if text == "" || text == "..." || text == "…" {
		return true
	}
	return len([]rune(text)) < 3
}

// Fingerprint computes the dedup cache key from the last three messages.
func (r *Request) Fingerprint() string {
	msgs := make([]dedup.Message, len(r.Messages))
	for i, m := range r.Messages {
		msgs[i] = dedup.Message{Role: m.Role, Content: m.Content}
	}
	return dedup.Fingerprint(msgs)
}

// UpstreamBody builds the transformed request body to send to the LLM
// gateway per §4.E: the vendor extension field is removed, model is
// rewritten, stream is forced true, and the voice hint is appended to a
// *copy* of the last user message — the caller's Request is left
// untouched (SPEC_FULL open question (ii)).
func (r *Request) UpstreamBody(cfg config.Config) ([]byte, error) {
	out := make(map[string]any, len(r.body))
	for k, v := range r.body {
		out[k] = v
	}
	delete(out, "elevenlabs_extra_body")
	out["model"] = fmt.Sprintf("%s:%s", cfg.ModelPrefix, cfg.UpstreamAgent)
	out["stream"] = true

	rawMessages, _ := out["messages"].([]any)
	copied := make([]any, len(rawMessages))
	lastUserIdx := -1
	for i, m := range rawMessages {
		obj, ok := m.(map[string]any)
		if !ok {
			copied[i] = m
			continue
		}
		clone := make(map[string]any, len(obj))
		for k, v := range obj {
			clone[k] = v
		}
		copied[i] = clone
		if role, _ := clone["role"].(string); role == "user" {
			lastUserIdx = i
		}
	}
	if lastUserIdx >= 0 {
		clone := copied[lastUserIdx].(map[string]any)
		content, _ := clone["content"].(string)
		clone["content"] = content + cfg.VoiceHint
	}
	out["messages"] = copied

	return json.Marshal(out)
}
