package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sumanism/ECA2/internal/api"
	"github.com/sumanism/ECA2/internal/logger"
	"github.com/sumanism/ECA2/internal/store"
)

// NewTestServer creates a test server with in-memory store for testing.
// An empty adminKey leaves mutating routes open.
func NewTestServer(t *testing.T, adminKey string) (*api.Server, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	server := api.NewServer(api.Deps{
		Store:  memStore,
		Auth:   api.NewAuthenticator(nil, adminKey),
		Logger: logger.Nop(),
	}, api.Options{})
	return server, memStore
}

// NewHTTPServer starts the router of a fresh test server and closes it when
// the test ends.
func NewHTTPServer(t *testing.T, adminKey string) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	server, memStore := NewTestServer(t, adminKey)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, memStore
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// DecodeJSON decodes the recorder body into v, failing the test on error.
func DecodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

// SeedUsers populates the store with users. IDs are assigned by the store and
// written back into the slice.
func SeedUsers(ctx context.Context, st store.UserStore, users []store.User) error {
	for i := range users {
		if err := st.CreateUser(ctx, &users[i]); err != nil {
			return err
		}
	}
	return nil
}

// SeedSegment stores a segment with the given definition and returns its id.
func SeedSegment(ctx context.Context, st store.SegmentStore, name, definition string) (string, error) {
	seg := &store.Segment{Name: name, Definition: json.RawMessage(definition)}
	if err := st.CreateSegment(ctx, seg); err != nil {
		return "", err
	}
	return seg.ID, nil
}

// DefaultUsers is a small customer base covering opted-in and opted-out
// users, high and low spenders, and users with and without orders.
func DefaultUsers(now time.Time) []store.User {
	recent := now.AddDate(0, 0, -5)
	old := now.AddDate(0, 0, -90)
	ca, tx := "CA", "TX"
	return []store.User{
		{Email: "alice@example.com", FirstName: "Alice", LastName: "Anders", TotalOrderValue: 1500, OrderCount: 6, MarketingOptIn: true, ShippingState: &ca, LastOrderDate: &recent},
		{Email: "bob@example.com", FirstName: "Bob", LastName: "Brown", TotalOrderValue: 200, OrderCount: 1, MarketingOptIn: true, ShippingState: &tx, LastOrderDate: &old},
		{Email: "carol@example.com", FirstName: "Carol", LastName: "Clark", TotalOrderValue: 2400, OrderCount: 9, MarketingOptIn: false, ShippingState: &ca, LastOrderDate: &recent},
		{Email: "dave@example.com", FirstName: "Dave", LastName: "Diaz", MarketingOptIn: true},
	}
}
