// Package ai talks to an OpenAI-compatible chat-completions endpoint and turns
// its answers into segment, flow and campaign drafts.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sumanism/ECA2/internal/config"
	"github.com/sumanism/ECA2/internal/logger"
	"github.com/sumanism/ECA2/internal/telemetry"
)

// Completer produces one chat completion.
type Completer interface {
	Complete(ctx context.Context, req Prompt) (string, error)
}

// Prompt is a system plus user message pair.
type Prompt struct {
	System      string
	User        string
	Temperature float64
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Breaker settings; the circuit opens after consecutive provider failures.
const (
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
)

// Client calls {BaseURL}/chat/completions with retries and a circuit breaker.
type Client struct {
	http    *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker[string]
	baseURL string
	apiKey  string
	model   string
	tracer  trace.Tracer
}

// NewClient builds a client from cfg. It does not check cfg.Enabled; a client
// without a key fails every call with ErrNotConfigured.
func NewClient(cfg config.AIConfig, log logger.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = leveledLogger{log.Component("ai")}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "ai-chat-completions",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		// Bad credentials and malformed prompts are not provider outages.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError && se.Code != http.StatusTooManyRequests
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Client{
		http:    rc,
		breaker: breaker,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		tracer:  telemetry.Tracer(),
	}
}

// IsOpenAI reports whether the client targets api.openai.com.
func (c *Client) IsOpenAI() bool {
	return strings.Contains(strings.ToLower(c.baseURL), "openai.com")
}

// Complete sends p and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, p Prompt) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	ctx, span := c.tracer.Start(ctx, "ai.Complete", trace.WithAttributes(attribute.String("ai.model", c.model)))
	defer span.End()

	out, err := c.breaker.Execute(func() (string, error) { return c.do(ctx, p) })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("AI API temporarily unavailable: %w", err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, p Prompt) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
		Temperature:    p.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call chat completions: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return "", &StatusError{Code: resp.StatusCode, Message: msg}
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// leveledLogger routes retryablehttp diagnostics to zerolog.
type leveledLogger struct {
	log logger.Logger
}

func (l leveledLogger) Error(msg string, kv ...any) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.log.Warn().Fields(kv).Msg(msg) }
