package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sumanism/ECA2/internal/audience"
	"github.com/sumanism/ECA2/internal/segment"
	"github.com/sumanism/ECA2/internal/store"
)

const segmentNotFound = "Segment not found"

var emptyDefinition = json.RawMessage(`{}`)

func (s *Server) segmentRoutes(r chi.Router) {
	r.Get("/", s.handleListSegments)
	r.Post("/preview", s.handlePreviewSegment)
	r.Get("/{segmentID}", s.handleGetSegment)
	r.Get("/{segmentID}/count", s.handleSegmentCount)
	r.Get("/{segmentID}/users", s.handleSegmentUsers)
	r.Post("/{segmentID}/evaluate", s.handleEvaluateSegment)
	r.Method(http.MethodPost, "/", s.admin(s.handleCreateSegment))
	r.Method(http.MethodPut, "/{segmentID}", s.admin(s.handleUpdateSegment))
	r.Method(http.MethodDelete, "/{segmentID}", s.admin(s.handleDeleteSegment))
}

type createSegmentRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition,omitempty"`
}

type previewRequest struct {
	Definition json.RawMessage `json:"definition"`
}

type segmentCountResponse struct {
	SegmentID string `json:"segment_id"`
	Count     int    `json:"count"`
}

type segmentUsersResponse struct {
	SegmentID  string           `json:"segment_id"`
	TotalCount int              `json:"total_count"`
	Users      []map[string]any `json:"users"`
	Columns    []string         `json:"columns"`
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// validateDefinition applies the strict write-time check and writes the 400
// itself. It returns false when the handler should stop.
func validateDefinition(w http.ResponseWriter, r *http.Request, definition json.RawMessage) bool {
	if err := segment.Validate(definition); err != nil {
		errResp := NewErrorResponse(http.StatusBadRequest, ErrCodeInvalidDefinition, "Invalid segment definition").
			WithFields(map[string]string{"definition": err.Error()})
		writeErrorResponse(w, r, http.StatusBadRequest, errResp)
		return false
	}
	return true
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := s.store.ListSegments(r.Context())
	if err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return
	}
	if segments == nil {
		segments = []store.Segment{}
	}
	writeJSONWithETag(w, r, segments)
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := s.store.GetSegment(r.Context(), chi.URLParam(r, "segmentID"))
	if err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return
	}
	writeJSONWithETag(w, r, seg)
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var req createSegmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		ValidationError(w, r, "Invalid segment", map[string]string{"name": "Name is required"})
		return
	}
	if isNull(req.Definition) {
		req.Definition = emptyDefinition
	}
	if !validateDefinition(w, r, req.Definition) {
		return
	}

	seg := &store.Segment{Name: req.Name, Description: req.Description, Definition: req.Definition}
	if err := s.store.CreateSegment(r.Context(), seg); err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	var patch store.SegmentPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		ValidationError(w, r, "Invalid segment", map[string]string{"name": "Name must not be empty"})
		return
	}
	if isNull(patch.Definition) {
		patch.Definition = nil
	} else if !validateDefinition(w, r, patch.Definition) {
		return
	}

	seg, err := s.store.UpdateSegment(r.Context(), chi.URLParam(r, "segmentID"), patch)
	if err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSegment(r.Context(), chi.URLParam(r, "segmentID")); err != nil {
		s.storeError(w, r, err, segmentNotFound)
		return
	}
	writeMessage(w, "Segment deleted successfully")
}

func (s *Server) handleSegmentCount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "segmentID")
	count, err := s.audience.Count(r.Context(), id)
	if err != nil {
		s.audienceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, segmentCountResponse{SegmentID: id, Count: count})
}

func (s *Server) handleSegmentUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", audience.DefaultLimit)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "segmentID")
	page, err := s.audience.Filter(r.Context(), id, limit)
	if err != nil {
		s.audienceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, segmentUsersResponse{
		SegmentID:  id,
		TotalCount: page.Total,
		Users:      page.Rows(),
		Columns:    page.Columns(),
	})
}

func (s *Server) handleEvaluateSegment(w http.ResponseWriter, r *http.Request) {
	report, err := s.audience.Evaluate(r.Context(), chi.URLParam(r, "segmentID"))
	if err != nil {
		s.audienceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handlePreviewSegment evaluates a definition without saving it. Preview is
// lenient like evaluation: diagnostics come back in the report.
func (s *Server) handlePreviewSegment(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if isNull(req.Definition) {
		req.Definition = emptyDefinition
	}

	report, err := s.audience.Preview(r.Context(), req.Definition)
	if err != nil {
		s.audienceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) audienceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, audience.ErrSegmentNotFound):
		NotFoundError(w, r, segmentNotFound)
	case errors.Is(err, audience.ErrCampaignNotFound):
		NotFoundError(w, r, campaignNotFound)
	case errors.Is(err, audience.ErrCampaignNotActive):
		ConflictError(w, r, ErrCodePrecondition, "Campaign is not active")
	case errors.Is(err, audience.ErrInvalidDefinition):
		errResp := NewErrorResponse(http.StatusUnprocessableEntity, ErrCodeInvalidDefinition, "Invalid segment definition").
			WithFields(map[string]string{"definition": err.Error()})
		writeErrorResponse(w, r, http.StatusUnprocessableEntity, errResp)
	default:
		l := s.log.WithContext(r.Context())
		l.Error().Err(err).Str("path", r.URL.Path).Msg("audience evaluation failed")
		InternalError(w, r, "Internal server error")
	}
}
