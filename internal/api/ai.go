package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sumanism/ECA2/internal/ai"
	"github.com/sumanism/ECA2/internal/store"
)

const (
	defaultLogLimit        = 50
	fallbackSegmentName    = "Selected segment"
	fallbackFlowName       = "Unnamed Flow"
	fallbackEntryCondition = "order_completed"
	fallbackFlowStepType   = store.StepSendEmail
	fallbackStepOrder      = 1
)

func (s *Server) aiRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/logs", s.admin(s.handleGenerationLogs))

	r.Group(func(r chi.Router) {
		if s.opts.RateLimitAIPerKey > 0 {
			r.Use(s.rateLimitAI(s.opts.RateLimitAIPerKey))
		}

		r.Post("/segments/build", s.handleBuildSegment)
		r.Post("/flows/generate-content", s.handleFlowContent)
		r.Post("/flows/generate-from-segment", s.handleFlowFromSegment)
		r.Post("/campaigns/generate", s.handleGenerateCampaign)
		r.Post("/chat", s.handleChat)
	})
}

type buildSegmentRequest struct {
	Prompt string `json:"prompt"`
}

type flowContentRequest struct {
	SegmentDescription string `json:"segment_description"`
	StepType           string `json:"step_type"`
	StepNumber         int    `json:"step_number"`
}

type flowGenerateRequest struct {
	SegmentID          string  `json:"segment_id"`
	SegmentDescription *string `json:"segment_description,omitempty"`
}

type campaignGenerateRequest struct {
	SegmentID          string  `json:"segment_id"`
	FlowID             *string `json:"flow_id,omitempty"`
	SegmentDescription *string `json:"segment_description,omitempty"`
}

type chatRequest struct {
	Prompt  string  `json:"prompt"`
	Context *string `json:"context,omitempty"`
}

// Generation failures still answer 200: the payload is the fallback draft and
// carries the classified error under "error".

func (s *Server) handleBuildSegment(w http.ResponseWriter, r *http.Request) {
	var req buildSegmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		ValidationError(w, r, "Invalid request", map[string]string{"prompt": "Prompt is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.assistant.BuildSegment(r.Context(), req.Prompt))
}

func (s *Server) handleFlowContent(w http.ResponseWriter, r *http.Request) {
	var req flowContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.assistant.FlowContent(r.Context(), ai.FlowContentRequest{
		SegmentDescription: req.SegmentDescription,
		StepType:           req.StepType,
		StepNumber:         req.StepNumber,
	}))
}

func (s *Server) handleFlowFromSegment(w http.ResponseWriter, r *http.Request) {
	var req flowGenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	seg, ok := s.loadSegment(w, r, req.SegmentID)
	if !ok {
		return
	}
	desc := describeSegment(seg, req.SegmentDescription)
	writeJSON(w, http.StatusOK, s.assistant.FlowFromSegment(r.Context(), desc, definitionOrEmpty(seg)))
}

func (s *Server) handleGenerateCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignGenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	seg, ok := s.loadSegment(w, r, req.SegmentID)
	if !ok {
		return
	}

	// an unknown flow id drafts the campaign without flow context
	var flow *ai.FlowSummary
	if req.FlowID != nil && *req.FlowID != "" {
		summary, err := s.flowSummary(ctx, *req.FlowID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.storeError(w, r, err, flowNotFound)
			return
		}
		flow = summary
	}

	desc := describeSegment(seg, req.SegmentDescription)
	writeJSON(w, http.StatusOK, s.assistant.Campaign(ctx, desc, definitionOrEmpty(seg), flow))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		ValidationError(w, r, "Invalid request", map[string]string{"prompt": "Prompt is required"})
		return
	}
	var extra string
	if req.Context != nil {
		extra = *req.Context
	}
	writeJSON(w, http.StatusOK, s.assistant.Chat(r.Context(), req.Prompt, extra))
}

func (s *Server) handleGenerationLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultLogLimit)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, err.Error())
		return
	}
	logs, err := s.store.ListGenerationLogs(r.Context(), limit)
	if err != nil {
		s.storeError(w, r, err, "Not found")
		return
	}
	if logs == nil {
		logs = []store.GenerationLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) loadSegment(w http.ResponseWriter, r *http.Request, id string) (*store.Segment, bool) {
	if strings.TrimSpace(id) == "" {
		ValidationError(w, r, "Invalid request", map[string]string{"segment_id": "Segment id is required"})
		return nil, false
	}
	seg, err := s.store.GetSegment(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return nil, false
	}
	return seg, true
}

// describeSegment prefers the caller's description, then the segment's name
// and description.
func describeSegment(seg *store.Segment, requested *string) string {
	if requested != nil && *requested != "" {
		return *requested
	}
	if seg.Name != "" {
		return seg.Name
	}
	if seg.Description != nil && *seg.Description != "" {
		return *seg.Description
	}
	return fallbackSegmentName
}

func definitionOrEmpty(seg *store.Segment) json.RawMessage {
	if isNull(seg.Definition) {
		return emptyDefinition
	}
	return seg.Definition
}

// flowSummary loads the flow and its ordered steps as prompt context.
func (s *Server) flowSummary(ctx context.Context, flowID string) (*ai.FlowSummary, error) {
	f, err := s.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListFlowSteps(ctx, flowID)
	if err != nil {
		return nil, err
	}

	summary := &ai.FlowSummary{
		Name:               fallbackFlowName,
		EntryConditionType: fallbackEntryCondition,
		Steps:              make([]ai.FlowStepSummary, 0, len(steps)),
	}
	if f.Name != nil && *f.Name != "" {
		summary.Name = *f.Name
	}
	if f.EntryConditionType != nil && *f.EntryConditionType != "" {
		summary.EntryConditionType = *f.EntryConditionType
	}
	if f.EntryCondition != nil {
		summary.EntryCondition = *f.EntryCondition
	}

	for _, st := range steps {
		item := ai.FlowStepSummary{StepType: st.StepType, StepOrder: st.StepOrder, Config: st.Config}
		if item.StepType == "" {
			item.StepType = fallbackFlowStepType
		}
		if item.StepOrder == 0 {
			item.StepOrder = fallbackStepOrder
		}
		if item.Config == nil {
			item.Config = map[string]any{}
		}
		summary.Steps = append(summary.Steps, item)
	}
	return summary, nil
}
