package turn

import "encoding/json"

type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// extractContentDelta pulls the content delta out of an upstream SSE
// payload for caching purposes. Malformed JSON is treated as carrying no
// delta — the raw payload is still forwarded to the client verbatim by the
// caller, preserving upstream idiosyncrasies per §4.A.
func extractContentDelta(payload string) (string, bool) {
	var cp chunkPayload
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return "", false
	}
	if len(cp.Choices) == 0 {
		return "", false
	}
	content := cp.Choices[0].Delta.Content
	if content == "" {
		return "", false
	}
	return content, true
}
