package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sumanism/ECA2/internal/store"
)

const (
	campaignNotFound  = "Campaign not found"
	flowNotFound      = "Flow not found"
	invalidStatusText = "Invalid status. Must be: draft, active, paused, or completed"
)

func (s *Server) campaignRoutes(r chi.Router) {
	r.Get("/", s.handleListCampaigns)
	r.Get("/{campaignID}", s.handleGetCampaign)
	r.Get("/{campaignID}/flow", s.handleGetCampaignFlow)
	r.Get("/{campaignID}/steps", s.handleListCampaignSteps)
	r.Method(http.MethodPost, "/", s.admin(s.handleCreateCampaign))
	r.Method(http.MethodPut, "/{campaignID}", s.admin(s.handleUpdateCampaign))
	r.Method(http.MethodPut, "/{campaignID}/status", s.admin(s.handleUpdateCampaignStatus))
	r.Method(http.MethodDelete, "/{campaignID}", s.admin(s.handleDeleteCampaign))
	r.Method(http.MethodPost, "/{campaignID}/steps", s.admin(s.handleCreateCampaignStep))
	r.Method(http.MethodPost, "/{campaignID}/execute", s.admin(s.handleExecuteCampaign))
}

// Schedule fields arrive as strings: start_time is ISO 8601, start_date is
// YYYY-MM-DD and start_time_of_day is HH:MM. Unparseable values are dropped.
type createCampaignRequest struct {
	SegmentID      string  `json:"segment_id"`
	FlowID         *string `json:"flow_id,omitempty"`
	Name           string  `json:"name"`
	Description    *string `json:"description,omitempty"`
	Status         string  `json:"status"`
	StartTime      *string `json:"start_time,omitempty"`
	StartDate      *string `json:"start_date,omitempty"`
	StartTimeOfDay *string `json:"start_time_of_day,omitempty"`
}

type updateCampaignRequest struct {
	FlowID         *string `json:"flow_id,omitempty"`
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	Status         *string `json:"status,omitempty"`
	StartTime      *string `json:"start_time,omitempty"`
	StartDate      *string `json:"start_date,omitempty"`
	StartTimeOfDay *string `json:"start_time_of_day,omitempty"`
}

func (req updateCampaignRequest) patch() store.CampaignPatch {
	p := store.CampaignPatch{
		Name:           req.Name,
		Description:    req.Description,
		Status:         req.Status,
		StartTime:      parseStartTime(req.StartTime),
		StartDate:      parseStartDate(req.StartDate),
		StartTimeOfDay: req.StartTimeOfDay,
	}
	// an empty flow_id means "leave unchanged"
	if req.FlowID != nil && *req.FlowID != "" {
		p.FlowID = req.FlowID
	}
	return p
}

type createCampaignStepRequest struct {
	StepNumber int    `json:"step_number"`
	Subject    string `json:"subject"`
	BodyText   string `json:"body_text"`
	DelayDays  int    `json:"delay_days"`
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListCampaigns(r.Context())
	if err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}
	if campaigns == nil {
		campaigns = []store.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCampaign(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetCampaignFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.store.GetCampaign(ctx, chi.URLParam(r, "campaignID"))
	if err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}
	if c.FlowID == nil || *c.FlowID == "" {
		NotFoundError(w, r, "No flow associated with this campaign")
		return
	}
	f, err := s.store.GetFlow(ctx, *c.FlowID)
	if err != nil {
		s.storeError(w, r, err, flowNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := make(map[string]string)
	if strings.TrimSpace(req.SegmentID) == "" {
		fields["segment_id"] = "Segment id is required"
	}
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "Name is required"
	}
	if req.Status == "" {
		req.Status = store.CampaignDraft
	}
	if !store.ValidCampaignStatus(req.Status) {
		fields["status"] = invalidStatusText
	}
	if len(fields) > 0 {
		ValidationError(w, r, "Invalid campaign", fields)
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetSegment(ctx, req.SegmentID); err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return
	}
	if req.FlowID != nil && *req.FlowID == "" {
		req.FlowID = nil
	}
	if req.FlowID != nil {
		if _, err := s.store.GetFlow(ctx, *req.FlowID); err != nil {
			s.storeError(w, r, err, flowNotFound)
			return
		}
	}

	c := &store.Campaign{
		SegmentID:      req.SegmentID,
		FlowID:         req.FlowID,
		Name:           req.Name,
		Description:    req.Description,
		Status:         req.Status,
		StartTime:      parseStartTime(req.StartTime),
		StartDate:      parseStartDate(req.StartDate),
		StartTimeOfDay: req.StartTimeOfDay,
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req updateCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Status != nil && !store.ValidCampaignStatus(*req.Status) {
		BadRequestError(w, r, ErrCodeValidation, invalidStatusText)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "campaignID")
	if _, err := s.store.GetCampaign(ctx, id); err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}

	c, err := s.store.UpdateCampaign(ctx, id, req.patch())
	if err != nil {
		// the campaign exists, so a miss here is the referenced flow
		s.storeError(w, r, err, flowNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCampaignStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "campaignID")
	if _, err := s.store.GetCampaign(ctx, id); err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}

	status := r.URL.Query().Get("status")
	if !store.ValidCampaignStatus(status) {
		BadRequestError(w, r, ErrCodeValidation, invalidStatusText)
		return
	}

	c, err := s.store.UpdateCampaign(ctx, id, store.CampaignPatch{Status: &status})
	if err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCampaign(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}
	writeMessage(w, "Campaign deleted successfully")
}

func (s *Server) handleListCampaignSteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "campaignID")
	if _, err := s.store.GetCampaign(ctx, id); err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}
	steps, err := s.store.ListCampaignSteps(ctx, id)
	if err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}
	if steps == nil {
		steps = []store.CampaignStep{}
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) handleCreateCampaignStep(w http.ResponseWriter, r *http.Request) {
	var req createCampaignStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := make(map[string]string)
	if req.StepNumber <= 0 {
		fields["step_number"] = "Step number must be positive"
	}
	if req.DelayDays < 0 {
		fields["delay_days"] = "Delay must not be negative"
	}
	if len(fields) > 0 {
		ValidationError(w, r, "Invalid campaign step", fields)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "campaignID")
	if _, err := s.store.GetCampaign(ctx, id); err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}

	step := &store.CampaignStep{
		CampaignID: id,
		StepNumber: req.StepNumber,
		Subject:    req.Subject,
		BodyText:   req.BodyText,
		DelayDays:  req.DelayDays,
	}
	if err := s.store.CreateCampaignStep(ctx, step); err != nil {
		s.storeError(w, r, err, campaignNotFound)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

// handleExecuteCampaign resolves the audience of an active campaign. Delivery
// is out of band; the response only reports what was scheduled.
func (s *Server) handleExecuteCampaign(w http.ResponseWriter, r *http.Request) {
	sel, err := s.audience.SelectForCampaign(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		s.audienceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}
