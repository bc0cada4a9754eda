package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanJSON extracts the JSON object a model returned, tolerating markdown
// fences and chatter around it.
func CleanJSON(raw string) (json.RawMessage, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "\uFEFF")
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first == -1 || last <= first {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidResponse)
	}
	s = strings.ToValidUTF8(s[first:last+1], "")

	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrInvalidResponse)
	}
	return json.RawMessage(s), nil
}

type evaluationEnvelope struct {
	Result json.RawMessage `json:"result"`
	Advice string          `json:"advice"`
}

// ParseEvaluation splits an evaluation response into its scored result and
// the plain-text advice.
func ParseEvaluation(raw string) (json.RawMessage, string, error) {
	body, err := CleanJSON(raw)
	if err != nil {
		return nil, "", err
	}
	var env evaluationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil, "", fmt.Errorf("%w: evaluation has no result", ErrInvalidResponse)
	}
	return env.Result, strings.TrimSpace(env.Advice), nil
}
