package ai

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumanism/ECA2/internal/audit"
	"github.com/sumanism/ECA2/internal/logger"
)

type fakeCompleter struct {
	reply string
	err   error
	last  Prompt
}

func (f *fakeCompleter) Complete(_ context.Context, p Prompt) (string, error) {
	f.last = p
	return f.reply, f.err
}

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *memRecorder) Log(e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func newAssistant(llm Completer) (*Assistant, *memRecorder) {
	rec := &memRecorder{}
	return NewAssistant(llm, rec, logger.Nop(), false), rec
}

func TestAssistant_BuildSegment(t *testing.T) {
	llm := &fakeCompleter{reply: "```json\n{\"logical_operator\":\"AND\",\"criteria\":[{\"field\":\"total_order_value\",\"operator\":\"gt\",\"value\":1000}],\"explanation\":\"big spenders\"}\n```"}
	a, rec := newAssistant(llm)

	out := a.BuildSegment(context.Background(), "customers who spent over $1000")

	assert.Equal(t, "big spenders", out["explanation"])
	assert.NotContains(t, out, "error")
	assert.Contains(t, llm.last.System, "- total_order_value (number): Total amount customer has spent")
	assert.Contains(t, llm.last.User, "User request: customers who spent over $1000")
	assert.InDelta(t, 0.7, llm.last.Temperature, 1e-9)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, audit.KindSegment, rec.entries[0].Kind)
	assert.False(t, rec.entries[0].Failed)
	assert.Equal(t, llm.last.User, rec.entries[0].Prompt)
}

func TestAssistant_FallbackCarriesClassifiedError(t *testing.T) {
	a, rec := newAssistant(&fakeCompleter{err: &StatusError{Code: 429, Message: "quota exceeded, retry in 3s"}})

	out := a.BuildSegment(context.Background(), "anything")

	assert.Equal(t, "AND", out["logical_operator"])
	assert.Equal(t, []any{}, out["criteria"])
	e, ok := out["error"].(*Error)
	require.True(t, ok)
	assert.Equal(t, KindQuotaExceeded, e.Kind)
	assert.Equal(t, 8, e.RetryAfter)
	assert.Equal(t, warningPrefix+e.Message, out["explanation"])

	require.Len(t, rec.entries, 1)
	assert.True(t, rec.entries[0].Failed)
	assert.Equal(t, string(KindQuotaExceeded), rec.entries[0].ErrorType)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"error":{"error":"quota_exceeded"`)
}

func TestAssistant_NotConfigured(t *testing.T) {
	a, _ := newAssistant(nil)
	out := a.Chat(context.Background(), "hi", "")
	e := out["error"].(*Error)
	assert.Equal(t, KindAPIError, e.Kind)
	assert.Contains(t, e.Details, "AI API key is missing")
	assert.Equal(t, "Special Offer for You!", out["campaign"].(map[string]any)["subject"])
}

func TestAssistant_InvalidJSONFallsBack(t *testing.T) {
	a, _ := newAssistant(&fakeCompleter{reply: "I cannot help with that"})
	out := a.FlowContent(context.Background(), FlowContentRequest{SegmentDescription: "VIPs", StepType: "SEND_EMAIL", StepNumber: 1})
	assert.Equal(t, "friendly", out["tone"])
	require.Contains(t, out, "error")
}

func TestAssistant_FlowContentDefaults(t *testing.T) {
	llm := &fakeCompleter{reply: `{"tone":"urgent"}`}
	a, _ := newAssistant(llm)

	out := a.FlowContent(context.Background(), FlowContentRequest{SegmentDescription: "Lapsed buyers", StepType: "SEND_EMAIL", StepNumber: 2})

	assert.Equal(t, "urgent", out["tone"])
	assert.Equal(t, "Special Offer for You!", out["subject"])
	assert.Equal(t, "We have a special offer that we think you'll love!", out["body_text"])
	assert.Contains(t, llm.last.User, "Step Number: 2")
	assert.Equal(t, "You are an expert email marketing copywriter.", llm.last.System)
	assert.InDelta(t, 0.8, llm.last.Temperature, 1e-9)
}

func TestAssistant_FlowFromSegmentDefaults(t *testing.T) {
	llm := &fakeCompleter{reply: `{"entry_condition":"after purchase"}`}
	a, _ := newAssistant(llm)

	out := a.FlowFromSegment(context.Background(), "High value", json.RawMessage(`{"total_order_value":{"gt":1000}}`))

	assert.Equal(t, "Flow for High value", out["name"])
	assert.Equal(t, "order_completed", out["entry_condition_type"])
	assert.Equal(t, []any{}, out["steps"])
	assert.Contains(t, llm.last.User, `"total_order_value": {`)
}

func TestAssistant_Campaign(t *testing.T) {
	llm := &fakeCompleter{reply: `{"name":"","start_time_of_day":"9:5","recommendations":"none"}`}
	a, _ := newAssistant(llm)
	flow := &FlowSummary{
		Name:               "Welcome",
		EntryConditionType: "segment_entered",
		Steps: []FlowStepSummary{
			{StepType: "SEND_EMAIL", StepOrder: 1, Config: map[string]any{"subject": "Hi", "template_id": "t1"}},
			{StepType: "WAIT", StepOrder: 2, Config: map[string]any{"duration_days": 3}},
			{StepType: "SEND_PUSH", StepOrder: 3},
			{StepType: "EXIT", StepOrder: 4},
		},
	}

	out := a.Campaign(context.Background(), "VIPs", nil, flow)

	assert.Equal(t, "Campaign for VIPs", out["name"])
	assert.Equal(t, "Marketing campaign targeting VIPs", out["description"])
	assert.Equal(t, "09:05", out["start_time_of_day"])
	assert.Equal(t, "Optimal time based on segment characteristics and marketing best practices", out["time_recommendation_reason"])
	assert.Equal(t, []any{"Use personalized subject lines", "Include relevant product recommendations"}, out["recommendations"])

	assert.Contains(t, llm.last.User, "- Flow Name: Welcome")
	assert.Contains(t, llm.last.User, "- Number of Steps: 4")
	assert.NotContains(t, llm.last.User, "template_id")
	assert.NotContains(t, llm.last.User, "EXIT")
	assert.Contains(t, llm.last.User, "Segment Criteria: {}")
}

func TestAssistant_CampaignWithoutFlow(t *testing.T) {
	llm := &fakeCompleter{err: errors.New("connection refused")}
	a, _ := newAssistant(llm)

	out := a.Campaign(context.Background(), "VIPs", json.RawMessage(`{}`), nil)

	assert.NotContains(t, llm.last.User, "Flow Information")
	assert.Equal(t, DefaultStartTimeOfDay, out["start_time_of_day"])
	assert.Equal(t, "Default time (API error occurred)", out["time_recommendation_reason"])
}

func TestNormalizeTimeOfDay(t *testing.T) {
	tests := []struct {
		in         any
		want       string
		wantReason string
	}{
		{"14:30", "14:30", ""},
		{"7:0", "07:00", ""},
		{nil, DefaultStartTimeOfDay, "Default morning time for general campaigns"},
		{"", DefaultStartTimeOfDay, "Default morning time for general campaigns"},
		{"24:00", DefaultStartTimeOfDay, "Default morning time (invalid time provided)"},
		{"ten:30", DefaultStartTimeOfDay, "Default morning time (time parsing failed)"},
		{"10 AM", DefaultStartTimeOfDay, "Default morning time (invalid format)"},
		{"10:00:00", DefaultStartTimeOfDay, "Default morning time (invalid format)"},
		{float64(10), DefaultStartTimeOfDay, "Default morning time (invalid format)"},
	}

	for _, tt := range tests {
		got, reason := NormalizeTimeOfDay(tt.in)
		if got != tt.want || reason != tt.wantReason {
			t.Errorf("NormalizeTimeOfDay(%v) = (%q, %q), want (%q, %q)", tt.in, got, reason, tt.want, tt.wantReason)
		}
	}
}

func TestAssistant_ChatIncludesContext(t *testing.T) {
	llm := &fakeCompleter{reply: `{"segment_description":"Loyal buyers"}`}
	a, _ := newAssistant(llm)

	out := a.Chat(context.Background(), "who should I email?", "spring sale")

	assert.Equal(t, "Loyal buyers", out["segment_description"])
	assert.Equal(t, "Generated based on your request", out["explanation"])
	assert.Contains(t, llm.last.User, "Context: spring sale")
	assert.Contains(t, llm.last.User, "User question: who should I email?")
}
