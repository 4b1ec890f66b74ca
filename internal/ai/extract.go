package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the JSON object out of model output that may be wrapped
// in a markdown fence or surrounded by prose.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.Contains(text, "```") {
		for _, part := range strings.Split(text, "```") {
			if strings.Contains(part, "{") && strings.Contains(part, "}") {
				text = strings.TrimPrefix(part, "json")
				break
			}
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// decodeObject extracts and decodes a JSON object from model output.
func decodeObject(text string) (map[string]any, error) {
	raw := ExtractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("could not extract JSON from AI response")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON response from AI: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("AI response is not a JSON object")
	}
	return out, nil
}
