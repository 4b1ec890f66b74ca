package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sumanism/ECA2/internal/store"
)

const flowStepNotFound = "Flow step not found"

func (s *Server) flowRoutes(r chi.Router) {
	r.Get("/", s.handleListFlows)
	r.Get("/{flowID}", s.handleGetFlow)
	r.Get("/{flowID}/steps", s.handleListFlowSteps)
	r.Method(http.MethodPost, "/", s.admin(s.handleCreateFlow))
	r.Method(http.MethodPut, "/{flowID}", s.admin(s.handleUpdateFlow))
	r.Method(http.MethodDelete, "/{flowID}", s.admin(s.handleDeleteFlow))
	r.Method(http.MethodPost, "/{flowID}/steps", s.admin(s.handleCreateFlowStep))
	r.Method(http.MethodPut, "/{flowID}/steps/{stepID}", s.admin(s.handleUpdateFlowStep))
	r.Method(http.MethodDelete, "/{flowID}/steps/{stepID}", s.admin(s.handleDeleteFlowStep))
}

type flowStepRequest struct {
	StepType   string         `json:"step_type"`
	Config     map[string]any `json:"config"`
	NextStepID *string        `json:"next_step_id,omitempty"`
	StepOrder  int            `json:"step_order"`
}

func (req flowStepRequest) validate(prefix string, fields map[string]string) {
	if !store.ValidStepType(req.StepType) {
		fields[prefix+"step_type"] = "Step type must be SEND_EMAIL, WAIT, SEND_PUSH or EXIT"
	}
}

func (req flowStepRequest) step(flowID string) store.FlowStep {
	cfg := req.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return store.FlowStep{
		FlowID:     flowID,
		StepType:   req.StepType,
		Config:     cfg,
		NextStepID: req.NextStepID,
		StepOrder:  req.StepOrder,
	}
}

type createFlowRequest struct {
	SegmentID          string            `json:"segment_id"`
	EntryConditionType *string           `json:"entry_condition_type,omitempty"`
	EntryCondition     *string           `json:"entry_condition,omitempty"`
	Name               *string           `json:"name,omitempty"`
	Steps              []flowStepRequest `json:"steps"`
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.store.ListFlows(r.Context())
	if err != nil {
		s.storeError(w, r, err, flowNotFound)
		return
	}
	if flows == nil {
		flows = []store.Flow{}
	}
	writeJSON(w, http.StatusOK, flows)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFlow(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		s.storeError(w, r, err, flowNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleListFlowSteps returns an empty list for unknown flows, like a
// filtered query would.
func (s *Server) handleListFlowSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.store.ListFlowSteps(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		s.storeError(w, r, err, flowNotFound)
		return
	}
	if steps == nil {
		steps = []store.FlowStep{}
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req createFlowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := make(map[string]string)
	if strings.TrimSpace(req.SegmentID) == "" {
		fields["segment_id"] = "Segment id is required"
	}
	for i, st := range req.Steps {
		st.validate(fmt.Sprintf("steps[%d].", i), fields)
	}
	if len(fields) > 0 {
		ValidationError(w, r, "Invalid flow", fields)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetSegment(ctx, req.SegmentID); err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return
	}

	f := &store.Flow{
		SegmentID:          req.SegmentID,
		EntryConditionType: req.EntryConditionType,
		EntryCondition:     req.EntryCondition,
		Name:               req.Name,
	}
	steps := make([]store.FlowStep, 0, len(req.Steps))
	for _, st := range req.Steps {
		steps = append(steps, st.step(""))
	}
	if err := s.store.CreateFlow(ctx, f, steps); err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	var patch store.FlowPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	f, err := s.store.UpdateFlow(r.Context(), chi.URLParam(r, "flowID"), patch)
	if err != nil {
		s.storeError(w, r, err, flowNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteFlow(r.Context(), chi.URLParam(r, "flowID")); err != nil {
		s.storeError(w, r, err, flowNotFound)
		return
	}
	writeMessage(w, "Flow deleted successfully")
}

func (s *Server) handleCreateFlowStep(w http.ResponseWriter, r *http.Request) {
	var req flowStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fields := make(map[string]string)
	if req.validate("", fields); len(fields) > 0 {
		ValidationError(w, r, "Invalid flow step", fields)
		return
	}

	step := req.step(chi.URLParam(r, "flowID"))
	if err := s.store.CreateFlowStep(r.Context(), &step); err != nil {
		s.storeError(w, r, err, flowNotFound)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

// handleUpdateFlowStep replaces every field of the step.
func (s *Server) handleUpdateFlowStep(w http.ResponseWriter, r *http.Request) {
	var req flowStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fields := make(map[string]string)
	if req.validate("", fields); len(fields) > 0 {
		ValidationError(w, r, "Invalid flow step", fields)
		return
	}

	replacement := req.step("")
	patch := store.FlowStepPatch{
		StepType:   &replacement.StepType,
		Config:     replacement.Config,
		NextStepID: replacement.NextStepID,
		StepOrder:  &replacement.StepOrder,
	}
	step, err := s.store.UpdateFlowStep(r.Context(), chi.URLParam(r, "flowID"), chi.URLParam(r, "stepID"), patch)
	if err != nil {
		s.storeError(w, r, err, flowStepNotFound)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (s *Server) handleDeleteFlowStep(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteFlowStep(r.Context(), chi.URLParam(r, "flowID"), chi.URLParam(r, "stepID")); err != nil {
		s.storeError(w, r, err, flowStepNotFound)
		return
	}
	writeMessage(w, "Flow step deleted successfully")
}
