package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sumanism/ECA2/internal/logger"
	"github.com/sumanism/ECA2/internal/store"
)

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(http.StatusBadRequest, ErrCodeInvalidDefinition, "Invalid segment definition")

	if resp.Error != "Bad Request" {
		t.Errorf("Expected Error 'Bad Request', got '%s'", resp.Error)
	}
	if resp.Message != "Invalid segment definition" {
		t.Errorf("Expected Message 'Invalid segment definition', got '%s'", resp.Message)
	}
	if resp.Code != ErrCodeInvalidDefinition {
		t.Errorf("Expected Code ErrCodeInvalidDefinition, got '%s'", resp.Code)
	}
}

func TestErrorResponse_WithFields(t *testing.T) {
	fields := map[string]string{
		"email":      "A valid email is required",
		"first_name": "First name is required",
	}

	resp := NewErrorResponse(http.StatusBadRequest, ErrCodeValidation, "Invalid user").
		WithFields(fields)

	if len(resp.Fields) != 2 {
		t.Errorf("Expected 2 fields, got %d", len(resp.Fields))
	}
	if resp.Fields["email"] != "A valid email is required" {
		t.Errorf("Expected field 'email' error, got '%s'", resp.Fields["email"])
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter, r *http.Request)
		status int
		code   ErrorCode
	}{
		{"validation", func(w http.ResponseWriter, r *http.Request) {
			ValidationError(w, r, "Invalid user", map[string]string{"email": "required"})
		}, http.StatusBadRequest, ErrCodeValidation},
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			BadRequestError(w, r, ErrCodeInvalidJSON, "Invalid JSON")
		}, http.StatusBadRequest, ErrCodeInvalidJSON},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			UnauthorizedError(w, r, "missing credentials")
		}, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"forbidden", func(w http.ResponseWriter, r *http.Request) {
			ForbiddenError(w, r, "admin account is disabled")
		}, http.StatusForbidden, ErrCodeForbidden},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			NotFoundError(w, r, "Segment not found")
		}, http.StatusNotFound, ErrCodeNotFound},
		{"conflict", func(w http.ResponseWriter, r *http.Request) {
			ConflictError(w, r, ErrCodePrecondition, "Campaign is not active")
		}, http.StatusConflict, ErrCodePrecondition},
		{"internal", func(w http.ResponseWriter, r *http.Request) {
			InternalError(w, r, "Internal server error")
		}, http.StatusInternalServerError, ErrCodeInternal},
		{"too large", func(w http.ResponseWriter, r *http.Request) {
			RequestTooLargeError(w, r, "Request body too large")
		}, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			RateLimitedError(w, r, "Too many requests")
		}, http.StatusTooManyRequests, ErrCodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/segments", nil)

			tt.write(w, r)

			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Code != tt.code {
				t.Errorf("Expected Code %s, got '%s'", tt.code, resp.Code)
			}
			if resp.Error != http.StatusText(tt.status) {
				t.Errorf("Expected Error %q, got %q", http.StatusText(tt.status), resp.Error)
			}
		})
	}
}

func TestErrorResponse_IncludesRequestID(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError(w, r, "User not found")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users/x", nil))

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("Expected request_id to be set")
	}
}

func TestDenyAuth(t *testing.T) {
	tests := []struct {
		status int
		code   ErrorCode
	}{
		{http.StatusUnauthorized, ErrCodeUnauthorized},
		{http.StatusForbidden, ErrCodeForbidden},
		{http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		denyAuth(w, httptest.NewRequest(http.MethodPost, "/api/segments", nil), tt.status, "denied")

		if w.Code != tt.status {
			t.Errorf("Expected status %d, got %d", tt.status, w.Code)
		}
		var resp ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.Code != tt.code || resp.Message != "denied" {
			t.Errorf("Expected %s/denied, got %s/%s", tt.code, resp.Code, resp.Message)
		}
	}
}

func TestStoreError(t *testing.T) {
	s := &Server{log: logger.Nop()}

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", fmt.Errorf("%w: user u1", store.ErrNotFound), http.StatusNotFound, "User not found"},
		{"conflict", fmt.Errorf("%w: segment in use", store.ErrConflict), http.StatusConflict, "conflict: segment in use"},
		{"other", errors.New("connection reset"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.storeError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, "User not found")

			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, resp.Message)
			}
		})
	}
}
