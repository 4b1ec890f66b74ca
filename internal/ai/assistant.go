package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sumanism/ECA2/internal/audit"
	"github.com/sumanism/ECA2/internal/logger"
	"github.com/sumanism/ECA2/internal/telemetry"
)

// OutcomeOK labels successful generations in metrics.
const OutcomeOK = "ok"

// DefaultStartTimeOfDay is used when the model gives no usable send time.
const DefaultStartTimeOfDay = "10:00"

const warningPrefix = "⚠️ "

// Recorder receives every generation, successful or not.
type Recorder interface {
	Log(e audit.Entry)
}

type nopRecorder struct{}

func (nopRecorder) Log(audit.Entry) {}

// Assistant turns free-text requests into drafts. Every method returns a
// payload: on failure it is the fallback carrying the classified error under
// "error".
type Assistant struct {
	llm    Completer
	rec    Recorder
	log    logger.Logger
	openAI bool
}

// NewAssistant wires an Assistant. rec may be nil.
func NewAssistant(llm Completer, rec Recorder, log logger.Logger, openAI bool) *Assistant {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Assistant{llm: llm, rec: rec, log: log.Component("ai"), openAI: openAI}
}

type promptField struct {
	Name        string
	Type        string
	Description string
}

var segmentPromptFields = []promptField{
	{"total_order_value", "number", "Total amount customer has spent"},
	{"order_count", "number", "Number of orders placed"},
	{"days_since_last_order", "number", "Days since last order"},
	{"last_order_date", "date", "Date of last order"},
	{"shipping_state", "string", `State code (e.g., "CA", "TX")`},
	{"shipping_country", "string", "Country code"},
	{"email", "string", "Email address"},
	{"marketing_opt_in", "boolean", "Email subscription status"},
}

// BuildSegment converts a description into a rule set draft.
func (a *Assistant) BuildSegment(ctx context.Context, prompt string) map[string]any {
	return a.generate(ctx, generation{
		kind:        audit.KindSegment,
		system:      tmplSegmentSystem,
		user:        tmplSegmentUser,
		data:        map[string]any{"Prompt": prompt, "Fields": segmentPromptFields},
		temperature: 0.7,
		fallback: func(e *Error) map[string]any {
			return map[string]any{
				"logical_operator": "AND",
				"criteria":         []any{},
				"explanation":      warningPrefix + e.Message,
			}
		},
	})
}

// FlowContentRequest describes one flow step to write copy for.
type FlowContentRequest struct {
	SegmentDescription string `json:"segment_description"`
	StepType           string `json:"step_type"`
	StepNumber         int    `json:"step_number"`
}

// FlowContent writes subject and body for a flow step.
func (a *Assistant) FlowContent(ctx context.Context, req FlowContentRequest) map[string]any {
	return a.generate(ctx, generation{
		kind:        audit.KindFlowContent,
		system:      tmplFlowContentSystem,
		user:        tmplFlowContentUser,
		data:        req,
		temperature: 0.8,
		fill: func(out map[string]any) {
			setDefault(out, "subject", "Special Offer for You!")
			setDefault(out, "body_text", "We have a special offer that we think you'll love!")
		},
		fallback: func(e *Error) map[string]any {
			return map[string]any{
				"subject":   "Special Offer for You!",
				"body_text": warningPrefix + e.Message,
				"tone":      "friendly",
			}
		},
	})
}

// FlowFromSegment drafts a complete flow for a segment.
func (a *Assistant) FlowFromSegment(ctx context.Context, description string, criteria json.RawMessage) map[string]any {
	name := "Flow for " + description
	return a.generate(ctx, generation{
		kind:        audit.KindFlowFromSeg,
		system:      tmplFlowSystem,
		user:        tmplFlowUser,
		data:        map[string]any{"SegmentDescription": description, "Criteria": criteria},
		temperature: 0.7,
		fill: func(out map[string]any) {
			setDefault(out, "steps", []any{})
			setDefault(out, "entry_condition_type", "order_completed")
			setDefault(out, "name", name)
		},
		fallback: func(e *Error) map[string]any {
			return map[string]any{
				"entry_condition_type": "order_completed",
				"name":                 name,
				"entry_condition":      warningPrefix + e.Message,
				"steps":                []any{},
			}
		},
	})
}

// FlowSummary is the flow context given to campaign generation.
type FlowSummary struct {
	Name               string
	EntryConditionType string
	EntryCondition     string
	Steps              []FlowStepSummary
}

// FlowStepSummary is one step of a FlowSummary.
type FlowStepSummary struct {
	StepType  string         `json:"step_type"`
	StepOrder int            `json:"step_order"`
	Config    map[string]any `json:"config,omitempty"`
}

var previewConfigKeys = []string{"subject", "body_text", "duration_days", "title", "message"}

// StepCount is the total number of steps.
func (f FlowSummary) StepCount() int { return len(f.Steps) }

// Preview returns the first three steps with only their copy and timing
// config.
func (f FlowSummary) Preview() []FlowStepSummary {
	steps := f.Steps
	if len(steps) > 3 {
		steps = steps[:3]
	}
	out := make([]FlowStepSummary, 0, len(steps))
	for _, s := range steps {
		clean := FlowStepSummary{StepType: s.StepType, StepOrder: s.StepOrder}
		for _, k := range previewConfigKeys {
			if v, ok := s.Config[k]; ok {
				if clean.Config == nil {
					clean.Config = map[string]any{}
				}
				clean.Config[k] = v
			}
		}
		out = append(out, clean)
	}
	return out
}

// Campaign drafts campaign settings for a segment and optional flow.
func (a *Assistant) Campaign(ctx context.Context, description string, criteria json.RawMessage, flow *FlowSummary) map[string]any {
	return a.generate(ctx, generation{
		kind:        audit.KindCampaign,
		system:      tmplCampaignSystem,
		user:        tmplCampaignUser,
		data:        map[string]any{"SegmentDescription": description, "Criteria": criteria, "Flow": flow},
		temperature: 0.7,
		fill:        func(out map[string]any) { fillCampaign(out, description) },
		fallback: func(e *Error) map[string]any {
			return map[string]any{
				"name":                       "Campaign for " + description,
				"description":                warningPrefix + e.Message,
				"start_time_of_day":          DefaultStartTimeOfDay,
				"time_recommendation_reason": "Default time (API error occurred)",
				"marketing_strategy":         "Unable to generate strategy due to API error",
				"recommendations":            []any{"Please try again later or check your API quota"},
			}
		},
	})
}

func fillCampaign(out map[string]any, description string) {
	if s, _ := out["name"].(string); s == "" {
		out["name"] = "Campaign for " + description
	}
	if s, _ := out["description"].(string); s == "" {
		out["description"] = "Marketing campaign targeting " + description
	}

	if t, reason := NormalizeTimeOfDay(out["start_time_of_day"]); reason != "" {
		out["start_time_of_day"] = t
		out["time_recommendation_reason"] = reason
	} else {
		out["start_time_of_day"] = t
	}

	setDefault(out, "time_recommendation_reason", "Optimal time based on segment characteristics and marketing best practices")
	setDefault(out, "marketing_strategy", "Personalized messaging based on segment characteristics")
	if _, ok := out["recommendations"].([]any); !ok {
		out["recommendations"] = []any{"Use personalized subject lines", "Include relevant product recommendations"}
	}
}

// NormalizeTimeOfDay formats v as HH:MM. When v is unusable it returns
// DefaultStartTimeOfDay and the reason to show instead of the model's own.
func NormalizeTimeOfDay(v any) (string, string) {
	if v == nil {
		return DefaultStartTimeOfDay, "Default morning time for general campaigns"
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return DefaultStartTimeOfDay, "Default morning time for general campaigns"
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return DefaultStartTimeOfDay, "Default morning time (invalid format)"
	}
	h, errH := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errH != nil || errM != nil {
		return DefaultStartTimeOfDay, "Default morning time (time parsing failed)"
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return DefaultStartTimeOfDay, "Default morning time (invalid time provided)"
	}
	return fmt.Sprintf("%02d:%02d", h, m), ""
}

// Chat answers a free-form question with a segment description and campaign
// ideas.
func (a *Assistant) Chat(ctx context.Context, prompt, extra string) map[string]any {
	return a.generate(ctx, generation{
		kind:        audit.KindChat,
		system:      tmplChatSystem,
		user:        tmplChatUser,
		data:        map[string]any{"Prompt": prompt, "Context": extra},
		temperature: 0.7,
		fill: func(out map[string]any) {
			setDefault(out, "segment_description", "Segment description based on your request")
			setDefault(out, "campaign", defaultChatCampaign("We have a special offer for you!"))
			setDefault(out, "explanation", "Generated based on your request")
		},
		fallback: func(e *Error) map[string]any {
			return map[string]any{
				"segment_description": warningPrefix + e.Message,
				"campaign":            defaultChatCampaign("We have a special offer that we think you'll love!"),
				"explanation":         warningPrefix + e.Message,
			}
		},
	})
}

func defaultChatCampaign(idea string) map[string]any {
	return map[string]any{
		"subject":       "Special Offer for You!",
		"send_time":     "Morning",
		"send_date":     "Within 3 days",
		"content_ideas": []any{idea},
	}
}

type generation struct {
	kind         string
	system, user string
	data         any
	temperature  float64
	fill         func(out map[string]any)
	fallback     func(e *Error) map[string]any
}

func (a *Assistant) generate(ctx context.Context, g generation) map[string]any {
	userPrompt, out, err := a.complete(ctx, g)
	entry := audit.NewEntry(ctx, g.kind).WithPrompt(userPrompt)

	if err != nil {
		classified := Classify(err, a.openAI)
		out = g.fallback(classified)
		out["error"] = classified

		l := a.log.WithContext(ctx)
		l.Warn().Err(err).Str("kind", g.kind).Str("error_type", string(classified.Kind)).Msg("AI generation failed, returning fallback")

		telemetry.ObserveAI(g.kind, string(classified.Kind))
		a.rec.Log(entry.WithOutput(out).Failure(string(classified.Kind)).Build())
		return out
	}

	if g.fill != nil {
		g.fill(out)
	}
	telemetry.ObserveAI(g.kind, OutcomeOK)
	a.rec.Log(entry.WithOutput(out).Build())
	return out
}

func (a *Assistant) complete(ctx context.Context, g generation) (string, map[string]any, error) {
	system, err := render(g.system, g.data)
	if err != nil {
		return "", nil, err
	}
	user, err := render(g.user, g.data)
	if err != nil {
		return "", nil, err
	}
	if a.llm == nil {
		return user, nil, ErrNotConfigured
	}

	text, err := a.llm.Complete(ctx, Prompt{System: system, User: user, Temperature: g.temperature})
	if err != nil {
		return user, nil, err
	}
	out, err := decodeObject(text)
	if err != nil {
		return user, nil, err
	}
	return user, out, nil
}

func setDefault(m map[string]any, key string, v any) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}
