package ai

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a failed generation for clients.
type Kind string

const (
	KindQuotaExceeded Kind = "quota_exceeded"
	KindAuthError     Kind = "authentication_error"
	KindAPIError      Kind = "api_error"
)

// DefaultRetryAfter is suggested when the provider gives no delay.
const DefaultRetryAfter = 60

// ErrNotConfigured is returned by a client without an API key.
var ErrNotConfigured = errors.New("AI API key is missing: set AI_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY")

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("empty response from AI model")

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("AI API returned %d: %s", e.Code, e.Message)
}

// Error is the classified failure attached to fallback payloads.
type Error struct {
	Kind       Kind   `json:"error"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	RetryAfter int    `json:"retry_after,omitempty"`
	HelpURL    string `json:"help_url"`
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

var retryInPattern = regexp.MustCompile(`retry in ([\d.]+)s`)

// Classify maps err to a client-facing Error. openAI selects the help links.
func Classify(err error, openAI bool) *Error {
	text := strings.ToLower(err.Error())

	var status int
	var se *StatusError
	if errors.As(err, &se) {
		status = se.Code
	}

	switch {
	case status == http.StatusTooManyRequests || strings.Contains(text, "429") ||
		strings.Contains(text, "rate limit") || strings.Contains(text, "quota"):
		return &Error{
			Kind:       KindQuotaExceeded,
			Message:    "API rate limit or quota exceeded. Please wait before trying again.",
			Details:    "The API has rate limits based on your plan. Please wait a moment and try again.",
			RetryAfter: retryAfter(text),
			HelpURL:    pick(openAI, "https://platform.openai.com/docs/guides/rate-limits", "https://ai.google.dev/gemini-api/docs/rate-limits"),
		}

	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.Contains(text, "401") || strings.Contains(text, "403") ||
		(strings.Contains(text, "invalid") && strings.Contains(text, "api key")):
		return &Error{
			Kind:    KindAuthError,
			Message: "Invalid API key or authentication failed.",
			Details: "Please check your AI API key in the .env file or backend configuration.",
			HelpURL: pick(openAI, "https://platform.openai.com/api-keys", "https://aistudio.google.com/apikey"),
		}

	case se != nil:
		return &Error{
			Kind:    KindAPIError,
			Message: "AI API error: " + truncate(se.Error(), 100),
			Details: "Please check your API key and account status.",
			HelpURL: pick(openAI, "https://platform.openai.com/docs", "https://ai.google.dev/docs"),
		}
	}

	return &Error{
		Kind:    KindAPIError,
		Message: "An error occurred while calling the AI API.",
		Details: truncate(err.Error(), 200),
		HelpURL: pick(openAI, "https://platform.openai.com/docs", "https://ai.google.dev/docs"),
	}
}

func retryAfter(text string) int {
	m := retryInPattern.FindStringSubmatch(text)
	if m == nil {
		return DefaultRetryAfter
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return DefaultRetryAfter
	}
	return int(secs) + 5
}

func pick(openAI bool, openAIURL, otherURL string) string {
	if openAI {
		return openAIURL
	}
	return otherURL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
