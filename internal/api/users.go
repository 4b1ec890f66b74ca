package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sumanism/ECA2/internal/store"
)

const defaultUserPageSize = 100

func (s *Server) userRoutes(r chi.Router) {
	r.Get("/", s.handleListUsers)
	r.Get("/{userID}", s.handleGetUser)
	r.Method(http.MethodPost, "/", s.admin(s.handleCreateUser))
	r.Method(http.MethodPut, "/{userID}", s.admin(s.handleUpdateUser))
	r.Method(http.MethodDelete, "/{userID}", s.admin(s.handleDeleteUser))
}

type createUserRequest struct {
	Email           string         `json:"email"`
	Phone           *string        `json:"phone,omitempty"`
	FirstName       string         `json:"first_name"`
	LastName        string         `json:"last_name"`
	MarketingOptIn  *bool          `json:"marketing_opt_in,omitempty"` // defaults to true
	ShippingState   *string        `json:"shipping_state,omitempty"`
	ShippingCountry *string        `json:"shipping_country,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty"`
}

func (req createUserRequest) validate() map[string]string {
	fields := make(map[string]string)
	if !validEmail(req.Email) {
		fields["email"] = "A valid email is required"
	}
	if strings.TrimSpace(req.FirstName) == "" {
		fields["first_name"] = "First name is required"
	}
	if strings.TrimSpace(req.LastName) == "" {
		fields["last_name"] = "Last name is required"
	}
	return fields
}

func validEmail(email string) bool {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	return ok && local != "" && domain != ""
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", defaultUserPageSize)
	if err != nil {
		BadRequestError(w, r, ErrCodeBadRequest, err.Error())
		return
	}

	users, err := s.store.ListUsers(r.Context(), store.UserFilter{
		Skip:   skip,
		Limit:  limit,
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	})
	if err != nil {
		s.storeError(w, r, err, "User not found")
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.storeError(w, r, err, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if fields := req.validate(); len(fields) > 0 {
		ValidationError(w, r, "Invalid user", fields)
		return
	}

	u := &store.User{
		Email:           strings.TrimSpace(req.Email),
		Phone:           req.Phone,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		MarketingOptIn:  req.MarketingOptIn == nil || *req.MarketingOptIn,
		ShippingState:   req.ShippingState,
		ShippingCountry: req.ShippingCountry,
		Attributes:      req.Attributes,
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		s.userWriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch store.UserPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if patch.Email != nil && !validEmail(*patch.Email) {
		ValidationError(w, r, "Invalid user", map[string]string{"email": "A valid email is required"})
		return
	}

	u, err := s.store.UpdateUser(r.Context(), chi.URLParam(r, "userID"), patch)
	if err != nil {
		s.userWriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		s.storeError(w, r, err, "User not found")
		return
	}
	writeMessage(w, "User deleted successfully")
}

// userWriteError reports a taken email as a 400, which is what the dashboard
// expects from both create and update.
func (s *Server) userWriteError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrConflict) {
		writeErrorResponse(w, r, http.StatusBadRequest,
			NewErrorResponse(http.StatusBadRequest, ErrCodeConflict, "Email already exists"))
		return
	}
	s.storeError(w, r, err, "User not found")
}
