package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sumanism/ECA2/internal/ai"
	"github.com/sumanism/ECA2/internal/auth"
	"github.com/sumanism/ECA2/internal/logger"
	"github.com/sumanism/ECA2/internal/store"
)

const highValueOptIn = `{"logical_operator":"AND","criteria":[
	{"field":"total_order_value","operator":"gt","value":1000},
	{"field":"marketing_opt_in","operator":"eq","value":true}
]}`

func strPtr(s string) *string { return &s }

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
}

func newTestEnv(t *testing.T, adminKey string, opts Options, assistant *ai.Assistant) testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	srv := NewServer(Deps{
		Store:     st,
		Assistant: assistant,
		Auth:      NewAuthenticator(nil, adminKey),
		Logger:    logger.Nop(),
	}, opts)
	return testEnv{handler: srv.Router(), store: st}
}

func (e testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e testEnv) seedUsers(t *testing.T) []store.User {
	t.Helper()
	recent := time.Now().UTC().AddDate(0, 0, -5)
	users := []store.User{
		{Email: "alice@example.com", FirstName: "Alice", LastName: "Anders", TotalOrderValue: 1500, MarketingOptIn: true, ShippingState: strPtr("CA"), LastOrderDate: &recent},
		{Email: "bob@example.com", FirstName: "Bob", LastName: "Brown", TotalOrderValue: 200, MarketingOptIn: true},
		{Email: "carol@example.com", FirstName: "Carol", LastName: "Clark", TotalOrderValue: 2400, MarketingOptIn: false},
	}
	for i := range users {
		if err := e.store.CreateUser(context.Background(), &users[i]); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return users
}

func (e testEnv) seedSegment(t *testing.T, definition string) string {
	t.Helper()
	seg := &store.Segment{Name: "High value", Definition: json.RawMessage(definition)}
	if err := e.store.CreateSegment(context.Background(), seg); err != nil {
		t.Fatalf("seed segment: %v", err)
	}
	return seg.ID
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, message string) ErrorResponse {
	t.Helper()
	expectStatus(t, rr, status)
	resp := decode[ErrorResponse](t, rr)
	if message != "" && resp.Message != message {
		t.Errorf("Expected message %q, got %q", message, resp.Message)
	}
	return resp
}

// ---- service endpoints ----

func TestRootHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)

	rr := env.do(t, http.MethodGet, "/", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["message"]; got != Banner {
		t.Errorf("Expected banner %q, got %q", Banner, got)
	}

	rr = env.do(t, http.MethodGet, "/health", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["status"]; got != "healthy" {
		t.Errorf("Expected healthy, got %q", got)
	}

	rr = env.do(t, http.MethodGet, "/version", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]any](t, rr)["version"]; got == "" || got == nil {
		t.Error("Expected a version string")
	}
}

// ---- users ----

func TestUsers_CRUD(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)

	rr := env.do(t, http.MethodPost, "/api/users", `{"email":"eve@example.com","first_name":"Eve","last_name":"Evans"}`)
	expectStatus(t, rr, http.StatusOK)
	created := decode[store.User](t, rr)
	if created.ID == "" {
		t.Fatal("Expected an id")
	}
	if !created.MarketingOptIn {
		t.Error("Expected marketing_opt_in to default to true")
	}

	rr = env.do(t, http.MethodPost, "/api/users", `{"email":"eve@example.com","first_name":"Eve","last_name":"Again"}`)
	resp := expectError(t, rr, http.StatusBadRequest, "Email already exists")
	if resp.Code != ErrCodeConflict {
		t.Errorf("Expected CONFLICT, got %s", resp.Code)
	}

	rr = env.do(t, http.MethodGet, "/api/users/"+created.ID, "")
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodPut, "/api/users/"+created.ID, `{"shipping_state":"NY","marketing_opt_in":false}`)
	expectStatus(t, rr, http.StatusOK)
	updated := decode[store.User](t, rr)
	if updated.ShippingState == nil || *updated.ShippingState != "NY" || updated.MarketingOptIn {
		t.Errorf("Patch not applied: %+v", updated)
	}
	if updated.FirstName != "Eve" {
		t.Errorf("Expected untouched first name, got %q", updated.FirstName)
	}

	rr = env.do(t, http.MethodDelete, "/api/users/"+created.ID, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["message"]; got != "User deleted successfully" {
		t.Errorf("Unexpected delete message %q", got)
	}

	rr = env.do(t, http.MethodGet, "/api/users/"+created.ID, "")
	expectError(t, rr, http.StatusNotFound, "User not found")
}

func TestUsers_ListSearchAndPaging(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	env.seedUsers(t)

	rr := env.do(t, http.MethodGet, "/api/users?search=BOB", "")
	expectStatus(t, rr, http.StatusOK)
	if users := decode[[]store.User](t, rr); len(users) != 1 || users[0].FirstName != "Bob" {
		t.Errorf("Expected only Bob, got %+v", users)
	}

	rr = env.do(t, http.MethodGet, "/api/users?skip=1&limit=1", "")
	expectStatus(t, rr, http.StatusOK)
	if users := decode[[]store.User](t, rr); len(users) != 1 || users[0].FirstName != "Bob" {
		t.Errorf("Expected the second user, got %+v", users)
	}

	rr = env.do(t, http.MethodGet, "/api/users?limit=lots", "")
	expectError(t, rr, http.StatusBadRequest, "")
}

func TestUsers_Validation(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)

	rr := env.do(t, http.MethodPost, "/api/users", `{"email":"not-an-email","first_name":""}`)
	resp := expectError(t, rr, http.StatusBadRequest, "Invalid user")
	for _, field := range []string{"email", "first_name", "last_name"} {
		if _, ok := resp.Fields[field]; !ok {
			t.Errorf("Expected a %s field error", field)
		}
	}

	rr = env.do(t, http.MethodPost, "/api/users", `{"email":`)
	resp = expectError(t, rr, http.StatusBadRequest, "")
	if resp.Code != ErrCodeInvalidJSON {
		t.Errorf("Expected INVALID_JSON, got %s", resp.Code)
	}
}

func TestRequestTooLarge(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)

	body := `{"email":"` + strings.Repeat("a", maxBodyBytes+1) + `"}`
	rr := env.do(t, http.MethodPost, "/api/users", body)
	expectError(t, rr, http.StatusRequestEntityTooLarge, "Request body too large")
}

// ---- segments ----

func TestSegments_CreateValidatesDefinition(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)

	tests := []struct {
		name       string
		definition string
	}{
		{"unknown operator", `{"criteria":[{"field":"total_order_value","operator":"between","value":1}]}`},
		{"malformed relative token", `{"criteria":[{"field":"last_order_date","operator":"lt","value":"relative_soon"}]}`},
		{"not an object", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/segments", `{"name":"bad","definition":`+tt.definition+`}`)
			resp := expectError(t, rr, http.StatusBadRequest, "Invalid segment definition")
			if resp.Code != ErrCodeInvalidDefinition {
				t.Errorf("Expected INVALID_DEFINITION, got %s", resp.Code)
			}
		})
	}

	rr := env.do(t, http.MethodPost, "/api/segments", `{"name":"everyone"}`)
	expectStatus(t, rr, http.StatusOK)
	if seg := decode[store.Segment](t, rr); string(seg.Definition) != "{}" {
		t.Errorf("Expected empty definition, got %s", seg.Definition)
	}
}

func TestSegments_CountUsersEvaluate(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	env.seedUsers(t)
	id := env.seedSegment(t, highValueOptIn)

	rr := env.do(t, http.MethodGet, "/api/segments/"+id+"/count", "")
	expectStatus(t, rr, http.StatusOK)
	count := decode[segmentCountResponse](t, rr)
	if count.SegmentID != id || count.Count != 1 {
		t.Errorf("Expected count 1 for %s, got %+v", id, count)
	}

	rr = env.do(t, http.MethodGet, "/api/segments/"+id+"/users?limit=10", "")
	expectStatus(t, rr, http.StatusOK)
	page := decode[segmentUsersResponse](t, rr)
	if page.TotalCount != 1 || len(page.Users) != 1 {
		t.Fatalf("Expected one member, got %+v", page)
	}
	if want := []string{"name", "email", "total_order_value"}; fmt.Sprint(page.Columns) != fmt.Sprint(want) {
		t.Errorf("Expected columns %v, got %v", want, page.Columns)
	}
	if page.Users[0]["name"] != "Alice Anders" || page.Users[0]["total_order_value"] != 1500.0 {
		t.Errorf("Unexpected row %v", page.Users[0])
	}

	rr = env.do(t, http.MethodPost, "/api/segments/"+id+"/evaluate", "")
	expectStatus(t, rr, http.StatusOK)
	report := decode[map[string]any](t, rr)
	if report["matching_users_count"] != 1.0 || report["evaluated_users"] != 3.0 {
		t.Errorf("Unexpected report %v", report)
	}
	if users, ok := report["users"].([]any); !ok || len(users) != 1 {
		t.Errorf("Expected one user in report, got %v", report["users"])
	}
}

func TestSegments_CountAgreesWithUsers(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	env.seedUsers(t)

	for _, def := range []string{highValueOptIn, `{}`, `{"total_order_value":{"gte":200}}`, `{"logical_operator":"OR","criteria":[]}`} {
		id := env.seedSegment(t, def)

		count := decode[segmentCountResponse](t, env.do(t, http.MethodGet, "/api/segments/"+id+"/count", ""))
		page := decode[segmentUsersResponse](t, env.do(t, http.MethodGet, "/api/segments/"+id+"/users", ""))
		if count.Count != page.TotalCount || count.Count != len(page.Users) {
			t.Errorf("%s: count %d, users total %d, rows %d", def, count.Count, page.TotalCount, len(page.Users))
		}
	}
}

func TestSegments_NotFound(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)

	for _, path := range []string{"/api/segments/missing", "/api/segments/missing/count", "/api/segments/missing/users"} {
		rr := env.do(t, http.MethodGet, path, "")
		expectError(t, rr, http.StatusNotFound, "Segment not found")
	}
	rr := env.do(t, http.MethodPost, "/api/segments/missing/evaluate", "")
	expectError(t, rr, http.StatusNotFound, "Segment not found")
}

func TestSegments_PersistedInvalidDefinition(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	id := env.seedSegment(t, `"just a string"`)

	rr := env.do(t, http.MethodGet, "/api/segments/"+id+"/count", "")
	resp := expectError(t, rr, http.StatusUnprocessableEntity, "Invalid segment definition")
	if resp.Code != ErrCodeInvalidDefinition {
		t.Errorf("Expected INVALID_DEFINITION, got %s", resp.Code)
	}
}

func TestSegments_ETag(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	id := env.seedSegment(t, highValueOptIn)

	for _, path := range []string{"/api/segments", "/api/segments/" + id} {
		rr := env.do(t, http.MethodGet, path, "")
		expectStatus(t, rr, http.StatusOK)
		etag := rr.Header().Get("ETag")
		if etag == "" {
			t.Fatalf("%s: expected ETag header", path)
		}

		rr = env.do(t, http.MethodGet, path, "", "If-None-Match", etag)
		expectStatus(t, rr, http.StatusNotModified)
		if rr.Body.Len() != 0 {
			t.Errorf("%s: expected empty 304 body", path)
		}
	}

	before := env.do(t, http.MethodGet, "/api/segments/"+id, "").Header().Get("ETag")
	rr := env.do(t, http.MethodPut, "/api/segments/"+id, `{"name":"Renamed"}`)
	expectStatus(t, rr, http.StatusOK)
	after := env.do(t, http.MethodGet, "/api/segments/"+id, "").Header().Get("ETag")
	if before == after {
		t.Error("Expected ETag to change after update")
	}
}

func TestSegments_UpdateAndDelete(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	id := env.seedSegment(t, `{}`)

	rr := env.do(t, http.MethodPut, "/api/segments/"+id, `{"definition":{"criteria":[{"field":"x","operator":"nope","value":1}]}}`)
	expectError(t, rr, http.StatusBadRequest, "Invalid segment definition")

	rr = env.do(t, http.MethodPut, "/api/segments/"+id, `{"definition":{"order_count":{"gte":2}}}`)
	expectStatus(t, rr, http.StatusOK)

	c := &store.Campaign{SegmentID: id, Name: "Uses segment"}
	if err := env.store.CreateCampaign(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	rr = env.do(t, http.MethodDelete, "/api/segments/"+id, "")
	expectError(t, rr, http.StatusConflict, "")

	if err := env.store.DeleteCampaign(context.Background(), c.ID); err != nil {
		t.Fatal(err)
	}
	rr = env.do(t, http.MethodDelete, "/api/segments/"+id, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["message"]; got != "Segment deleted successfully" {
		t.Errorf("Unexpected delete message %q", got)
	}
}

func TestSegments_Preview(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	env.seedUsers(t)

	rr := env.do(t, http.MethodPost, "/api/segments/preview", `{"definition":`+highValueOptIn+`}`)
	expectStatus(t, rr, http.StatusOK)
	if report := decode[map[string]any](t, rr); report["matching_users_count"] != 1.0 {
		t.Errorf("Expected one match, got %v", report["matching_users_count"])
	}

	// preview stays lenient and reports the issue instead of rejecting
	rr = env.do(t, http.MethodPost, "/api/segments/preview", `{"definition":{"criteria":[{"field":"last_order_date","operator":"lt","value":"relative_x"}]}}`)
	expectStatus(t, rr, http.StatusOK)
	report := decode[map[string]any](t, rr)
	if issues, ok := report["issues"].([]any); !ok || len(issues) == 0 {
		t.Errorf("Expected issues in report, got %v", report["issues"])
	}
}

// ---- campaigns ----

func TestCampaigns_Lifecycle(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	env.seedUsers(t)
	segID := env.seedSegment(t, highValueOptIn)

	rr := env.do(t, http.MethodPost, "/api/campaigns", `{"segment_id":"missing","name":"x"}`)
	expectError(t, rr, http.StatusNotFound, "Segment not found")

	rr = env.do(t, http.MethodPost, "/api/campaigns", `{"segment_id":"`+segID+`","flow_id":"missing","name":"x"}`)
	expectError(t, rr, http.StatusNotFound, "Flow not found")

	rr = env.do(t, http.MethodPost, "/api/campaigns", `{"segment_id":"`+segID+`","name":"Summer","start_date":"2025-07-01","start_time":"not a time","start_time_of_day":"09:30"}`)
	expectStatus(t, rr, http.StatusOK)
	c := decode[store.Campaign](t, rr)
	if c.Status != store.CampaignDraft {
		t.Errorf("Expected draft status, got %q", c.Status)
	}
	if c.StartDate == nil || c.StartDate.Format(time.DateOnly) != "2025-07-01" {
		t.Errorf("Expected parsed start date, got %v", c.StartDate)
	}
	if c.StartTime != nil {
		t.Errorf("Expected unparseable start time to be dropped, got %v", c.StartTime)
	}

	rr = env.do(t, http.MethodGet, "/api/campaigns/"+c.ID+"/flow", "")
	expectError(t, rr, http.StatusNotFound, "No flow associated with this campaign")

	rr = env.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/execute", "")
	resp := expectError(t, rr, http.StatusConflict, "Campaign is not active")
	if resp.Code != ErrCodePrecondition {
		t.Errorf("Expected PRECONDITION_FAILED, got %s", resp.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/campaigns/"+c.ID+"/status?status=running", "")
	expectError(t, rr, http.StatusBadRequest, invalidStatusText)

	rr = env.do(t, http.MethodPut, "/api/campaigns/"+c.ID+"/status?status=active", "")
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/steps", `{"step_number":1,"subject":"Hi","body_text":"Welcome","delay_days":0}`)
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodGet, "/api/campaigns/"+c.ID+"/steps", "")
	expectStatus(t, rr, http.StatusOK)
	if steps := decode[[]store.CampaignStep](t, rr); len(steps) != 1 {
		t.Errorf("Expected one step, got %d", len(steps))
	}

	rr = env.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/execute", "")
	expectStatus(t, rr, http.StatusOK)
	got := decode[map[string]any](t, rr)
	if got["users_targeted"] != 1.0 || got["steps"] != 1.0 || got["status"] != "scheduled" {
		t.Errorf("Unexpected selection %v", got)
	}

	rr = env.do(t, http.MethodPut, "/api/campaigns/"+c.ID, `{"name":"Summer sale","status":"paused"}`)
	expectStatus(t, rr, http.StatusOK)
	if updated := decode[store.Campaign](t, rr); updated.Name != "Summer sale" || updated.Status != store.CampaignPaused {
		t.Errorf("Update not applied: %+v", updated)
	}

	rr = env.do(t, http.MethodDelete, "/api/campaigns/"+c.ID, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["message"]; got != "Campaign deleted successfully" {
		t.Errorf("Unexpected delete message %q", got)
	}

	rr = env.do(t, http.MethodPost, "/api/campaigns/"+c.ID+"/execute", "")
	expectError(t, rr, http.StatusNotFound, "Campaign not found")
}

func TestCampaigns_FlowLink(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	segID := env.seedSegment(t, `{}`)

	flow := &store.Flow{SegmentID: segID, Name: strPtr("Welcome")}
	if err := env.store.CreateFlow(context.Background(), flow, nil); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodPost, "/api/campaigns", `{"segment_id":"`+segID+`","flow_id":"`+flow.ID+`","name":"Onboarding"}`)
	expectStatus(t, rr, http.StatusOK)
	c := decode[store.Campaign](t, rr)

	rr = env.do(t, http.MethodGet, "/api/campaigns/"+c.ID+"/flow", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[store.Flow](t, rr); got.ID != flow.ID {
		t.Errorf("Expected flow %s, got %s", flow.ID, got.ID)
	}

	rr = env.do(t, http.MethodPut, "/api/campaigns/"+c.ID, `{"flow_id":"missing"}`)
	expectError(t, rr, http.StatusNotFound, "Flow not found")
}

// ---- flows ----

func TestFlows_StepsAreLinkedInOrder(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	segID := env.seedSegment(t, `{}`)

	rr := env.do(t, http.MethodPost, "/api/flows", `{"segment_id":"missing"}`)
	expectError(t, rr, http.StatusNotFound, "Segment not found")

	rr = env.do(t, http.MethodPost, "/api/flows", `{"segment_id":"`+segID+`","steps":[{"step_type":"TELEPORT","config":{},"step_order":1}]}`)
	expectError(t, rr, http.StatusBadRequest, "Invalid flow")

	rr = env.do(t, http.MethodPost, "/api/flows", `{"segment_id":"`+segID+`","name":"Welcome","steps":[
		{"step_type":"WAIT","config":{"duration_days":2},"step_order":2},
		{"step_type":"SEND_EMAIL","config":{"subject":"Hi"},"step_order":1},
		{"step_type":"EXIT","config":{},"step_order":3}
	]}`)
	expectStatus(t, rr, http.StatusOK)
	flow := decode[store.Flow](t, rr)

	rr = env.do(t, http.MethodGet, "/api/flows/"+flow.ID+"/steps", "")
	expectStatus(t, rr, http.StatusOK)
	steps := decode[[]store.FlowStep](t, rr)
	if len(steps) != 3 {
		t.Fatalf("Expected 3 steps, got %d", len(steps))
	}
	for i, st := range steps {
		if st.StepOrder != i+1 {
			t.Errorf("Step %d has order %d", i, st.StepOrder)
		}
		if i < len(steps)-1 && (st.NextStepID == nil || *st.NextStepID != steps[i+1].ID) {
			t.Errorf("Step %d does not point at its successor", i)
		}
	}
	if steps[2].NextStepID != nil {
		t.Error("Expected last step to have no successor")
	}

	rr = env.do(t, http.MethodPut, "/api/flows/"+flow.ID+"/steps/"+steps[0].ID, `{"step_type":"SEND_PUSH","config":{"title":"Hey"},"step_order":1}`)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[store.FlowStep](t, rr); got.StepType != store.StepSendPush || got.Config["title"] != "Hey" {
		t.Errorf("Step not replaced: %+v", got)
	}

	rr = env.do(t, http.MethodPut, "/api/flows/other/steps/"+steps[0].ID, `{"step_type":"EXIT","config":{},"step_order":1}`)
	expectError(t, rr, http.StatusNotFound, "Flow step not found")

	rr = env.do(t, http.MethodDelete, "/api/flows/"+flow.ID+"/steps/"+steps[2].ID, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["message"]; got != "Flow step deleted successfully" {
		t.Errorf("Unexpected delete message %q", got)
	}

	rr = env.do(t, http.MethodPost, "/api/flows/"+flow.ID+"/steps", `{"step_type":"EXIT","config":{},"step_order":9}`)
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodPut, "/api/flows/"+flow.ID, `{"entry_condition_type":"signup"}`)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[store.Flow](t, rr); got.EntryConditionType == nil || *got.EntryConditionType != "signup" {
		t.Errorf("Flow not updated: %+v", got)
	}

	rr = env.do(t, http.MethodDelete, "/api/flows/"+flow.ID, "")
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["message"]; got != "Flow deleted successfully" {
		t.Errorf("Unexpected delete message %q", got)
	}

	rr = env.do(t, http.MethodGet, "/api/flows/"+flow.ID, "")
	expectError(t, rr, http.StatusNotFound, "Flow not found")
}

// ---- catalog and metrics ----

func TestOrdersAndMetrics(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	users := env.seedUsers(t)

	rr := env.do(t, http.MethodPost, "/api/products", `{"name":"Mug","category":"home","brand":"Acme","price":12.5}`)
	expectStatus(t, rr, http.StatusOK)
	product := decode[store.Product](t, rr)

	rr = env.do(t, http.MethodPost, "/api/orders", `{"user_id":"`+users[1].ID+`","items":[{"product_id":"missing","quantity":1}]}`)
	expectError(t, rr, http.StatusNotFound, "Product not found")

	rr = env.do(t, http.MethodPost, "/api/orders", `{"user_id":"`+users[1].ID+`","items":[{"product_id":"`+product.ID+`","quantity":2}]}`)
	expectStatus(t, rr, http.StatusOK)
	order := decode[store.Order](t, rr)
	if order.TotalAmount != 25 || order.Currency != "USD" {
		t.Errorf("Unexpected order %+v", order)
	}

	rr = env.do(t, http.MethodGet, "/api/orders?user_id="+users[1].ID, "")
	expectStatus(t, rr, http.StatusOK)
	if orders := decode[[]store.Order](t, rr); len(orders) != 1 {
		t.Errorf("Expected one order, got %d", len(orders))
	}

	rr = env.do(t, http.MethodGet, "/api/metrics/dashboard", "")
	expectStatus(t, rr, http.StatusOK)
	dash := decode[map[string]any](t, rr)
	if dash["total_customers"] != 3.0 || dash["total_orders"] != 1.0 || dash["revenue_30d"] != 25.0 {
		t.Errorf("Unexpected dashboard %v", dash)
	}

	rr = env.do(t, http.MethodGet, "/api/metrics/customers/"+users[1].ID+"/metrics", "")
	expectStatus(t, rr, http.StatusOK)
	if m := decode[map[string]any](t, rr); m["lifetime_value"] != 25.0 || m["days_since_last_order"] != 0.0 {
		t.Errorf("Unexpected customer metrics %v", m)
	}

	rr = env.do(t, http.MethodGet, "/api/metrics/customers/missing/metrics", "")
	expectStatus(t, rr, http.StatusNotFound)
	if got := decode[map[string]string](t, rr)["error"]; got != "User not found" {
		t.Errorf("Unexpected error %q", got)
	}

	rr = env.do(t, http.MethodGet, "/api/metrics/products/"+product.ID+"/metrics", "")
	expectStatus(t, rr, http.StatusOK)
	if m := decode[map[string]any](t, rr); m["total_units_sold"] != 2.0 || m["total_revenue"] != 25.0 {
		t.Errorf("Unexpected product metrics %v", m)
	}

	rr = env.do(t, http.MethodGet, "/api/metrics/products/missing/metrics", "")
	expectStatus(t, rr, http.StatusNotFound)
	if got := decode[map[string]string](t, rr)["error"]; got != "Product not found" {
		t.Errorf("Unexpected error %q", got)
	}

	rr = env.do(t, http.MethodGet, "/api/metrics/top-products?limit=5", "")
	expectStatus(t, rr, http.StatusOK)
	if top := decode[[]map[string]any](t, rr); len(top) != 1 || top[0]["units_sold"] != 2.0 {
		t.Errorf("Unexpected top products %v", top)
	}

	rr = env.do(t, http.MethodDelete, "/api/products/"+product.ID, "")
	expectStatus(t, rr, http.StatusConflict)
}

// ---- auth ----

func TestAuth_MutatingRoutesRequireAdminKey(t *testing.T) {
	env := newTestEnv(t, "secret-admin-key", Options{}, nil)

	rr := env.do(t, http.MethodGet, "/api/segments", "")
	expectStatus(t, rr, http.StatusOK)

	body := `{"name":"Everyone","definition":{}}`
	rr = env.do(t, http.MethodPost, "/api/segments", body)
	expectError(t, rr, http.StatusUnauthorized, "missing credentials")

	rr = env.do(t, http.MethodPost, "/api/segments", body, "Authorization", "Bearer wrong")
	expectError(t, rr, http.StatusUnauthorized, "invalid token")

	rr = env.do(t, http.MethodPost, "/api/segments", body, "Authorization", "Bearer secret-admin-key")
	expectStatus(t, rr, http.StatusOK)
}

func TestAuth_AdminBasicCredentials(t *testing.T) {
	st := store.NewMemoryStore()
	var logs bytes.Buffer
	log := logger.NewWithWriter("debug", logger.JSONFormat, &logs)
	srv := NewServer(Deps{Store: st, Auth: NewAuthenticator(st, ""), Logger: log}, Options{})
	env := testEnv{handler: srv.Router(), store: st}

	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CreateAdmin(context.Background(), &store.AdminUser{Email: "ops@example.com", HashedPassword: hash, IsActive: true}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/segments", strings.NewReader(`{"name":"x"}`))
	req.SetBasicAuth("ops@example.com", "hunter22")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(logs.String(), `"principal":"admin_user:ops@example.com"`) {
		t.Errorf("admin request log missing principal: %s", logs.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/segments", strings.NewReader(`{"name":"x"}`))
	req.SetBasicAuth("ops@example.com", "wrong")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	expectError(t, rr, http.StatusUnauthorized, "invalid credentials")
}

// ---- AI ----

type stubCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []ai.Prompt
}

func (c *stubCompleter) Complete(_ context.Context, p ai.Prompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, p)
	return c.reply, c.err
}

func (c *stubCompleter) lastPrompt() ai.Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompts[len(c.prompts)-1]
}

func TestAI_BuildSegment(t *testing.T) {
	llm := &stubCompleter{reply: "```json\n" + highValueOptIn + "\n```"}
	env := newTestEnv(t, "", Options{}, ai.NewAssistant(llm, nil, logger.Nop(), false))

	rr := env.do(t, http.MethodPost, "/api/ai/segments/build", `{"prompt":"big spenders who opted in"}`)
	expectStatus(t, rr, http.StatusOK)
	got := decode[map[string]any](t, rr)
	if got["logical_operator"] != "AND" {
		t.Errorf("Unexpected payload %v", got)
	}
	if _, failed := got["error"]; failed {
		t.Errorf("Did not expect an error: %v", got["error"])
	}
	if !strings.Contains(llm.lastPrompt().User, "big spenders who opted in") {
		t.Error("Expected the prompt to reach the model")
	}

	rr = env.do(t, http.MethodPost, "/api/ai/segments/build", `{"prompt":"  "}`)
	expectError(t, rr, http.StatusBadRequest, "Invalid request")
}

func TestAI_FailureReturnsFallback(t *testing.T) {
	llm := &stubCompleter{err: &ai.StatusError{Code: http.StatusTooManyRequests, Message: "quota exceeded"}}
	env := newTestEnv(t, "", Options{}, ai.NewAssistant(llm, nil, logger.Nop(), false))

	rr := env.do(t, http.MethodPost, "/api/ai/chat", `{"prompt":"ideas for winter"}`)
	expectStatus(t, rr, http.StatusOK)
	got := decode[map[string]any](t, rr)
	errObj, ok := got["error"].(map[string]any)
	if !ok {
		t.Fatalf("Expected an error object, got %v", got)
	}
	if errObj["error"] != string(ai.KindQuotaExceeded) {
		t.Errorf("Expected quota_exceeded, got %v", errObj["error"])
	}
	if _, ok := got["campaign"]; !ok {
		t.Error("Expected the fallback campaign")
	}
}

func TestAI_WithoutModelStillAnswers(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)

	rr := env.do(t, http.MethodPost, "/api/ai/flows/generate-content", `{"segment_description":"VIPs","step_type":"SEND_EMAIL","step_number":1}`)
	expectStatus(t, rr, http.StatusOK)
	got := decode[map[string]any](t, rr)
	if _, ok := got["error"]; !ok {
		t.Errorf("Expected a configuration error in %v", got)
	}
	if got["subject"] != "Special Offer for You!" {
		t.Errorf("Expected fallback subject, got %v", got["subject"])
	}
}

func TestAI_SegmentContext(t *testing.T) {
	llm := &stubCompleter{reply: `{"name":"Win back","steps":[]}`}
	env := newTestEnv(t, "", Options{}, ai.NewAssistant(llm, nil, logger.Nop(), false))
	segID := env.seedSegment(t, highValueOptIn)

	rr := env.do(t, http.MethodPost, "/api/ai/flows/generate-from-segment", `{"segment_id":"missing"}`)
	expectError(t, rr, http.StatusNotFound, "Segment not found")

	rr = env.do(t, http.MethodPost, "/api/ai/flows/generate-from-segment", `{"segment_id":"`+segID+`"}`)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(llm.lastPrompt().User, "High value") {
		t.Error("Expected the segment name as description")
	}

	flow := &store.Flow{SegmentID: segID, Name: strPtr("VIP journey")}
	steps := []store.FlowStep{{StepType: store.StepSendEmail, StepOrder: 1, Config: map[string]any{"subject": "Welcome back"}}}
	if err := env.store.CreateFlow(context.Background(), flow, steps); err != nil {
		t.Fatal(err)
	}

	llm.reply = `{"name":"VIP push","start_time_of_day":"9:05"}`
	rr = env.do(t, http.MethodPost, "/api/ai/campaigns/generate", `{"segment_id":"`+segID+`","flow_id":"`+flow.ID+`","segment_description":"Loyal VIPs"}`)
	expectStatus(t, rr, http.StatusOK)
	got := decode[map[string]any](t, rr)
	if got["start_time_of_day"] != "09:05" {
		t.Errorf("Expected normalized time, got %v", got["start_time_of_day"])
	}
	prompt := llm.lastPrompt().User
	if !strings.Contains(prompt, "Loyal VIPs") || !strings.Contains(prompt, "VIP journey") {
		t.Errorf("Expected description and flow in prompt, got %q", prompt)
	}

	rr = env.do(t, http.MethodPost, "/api/ai/campaigns/generate", `{"segment_id":"`+segID+`","flow_id":"missing"}`)
	expectStatus(t, rr, http.StatusOK)
}

func TestAI_GenerationLogs(t *testing.T) {
	env := newTestEnv(t, "", Options{}, nil)
	ctx := context.Background()
	for _, kind := range []string{"segment", "chat"} {
		if err := env.store.CreateGenerationLog(ctx, &store.GenerationLog{Kind: kind, Prompt: "p", Output: json.RawMessage(`{}`)}); err != nil {
			t.Fatal(err)
		}
	}

	rr := env.do(t, http.MethodGet, "/api/ai/logs?limit=1", "")
	expectStatus(t, rr, http.StatusOK)
	logs := decode[[]store.GenerationLog](t, rr)
	if len(logs) != 1 || logs[0].Kind != "chat" {
		t.Errorf("Expected the newest log, got %+v", logs)
	}
}

// ---- middleware ----

func TestRateLimitPerIP(t *testing.T) {
	env := newTestEnv(t, "", Options{RateLimitPerIP: 2}, nil)

	for i := 0; i < 2; i++ {
		expectStatus(t, env.do(t, http.MethodGet, "/api/segments", ""), http.StatusOK)
	}
	rr := env.do(t, http.MethodGet, "/api/segments", "")
	resp := expectError(t, rr, http.StatusTooManyRequests, "")
	if resp.Code != ErrCodeRateLimited {
		t.Errorf("Expected RATE_LIMITED, got %s", resp.Code)
	}
}

func TestRateLimitAIPerKey(t *testing.T) {
	env := newTestEnv(t, "", Options{RateLimitAIPerKey: 1}, nil)
	body := `{"prompt":"hello"}`

	expectStatus(t, env.do(t, http.MethodPost, "/api/ai/chat", body, "Authorization", "Bearer one"), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/api/ai/chat", body, "Authorization", "Bearer one"), http.StatusTooManyRequests)
	// a different key has its own budget
	expectStatus(t, env.do(t, http.MethodPost, "/api/ai/chat", body, "Authorization", "Bearer two"), http.StatusOK)
	// non-AI routes are not affected
	expectStatus(t, env.do(t, http.MethodGet, "/api/segments", "", "Authorization", "Bearer one"), http.StatusOK)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, "", Options{CORSOrigins: []string{"http://localhost:5173"}}, nil)

	rr := env.do(t, http.MethodOptions, "/api/segments", "",
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", http.MethodPost,
	)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Expected allowed origin, got %q", got)
	}

	rr = env.do(t, http.MethodGet, "/api/segments", "", "Origin", "http://evil.example")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header for unknown origin, got %q", got)
	}
}

func TestAIRateKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/ai/chat", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	if key, _ := aiRateKey(r); key != "ip:203.0.113.9:5555" {
		t.Errorf("Unexpected key %q", key)
	}

	r.Header.Set("Authorization", "Bearer abc")
	key, err := aiRateKey(r)
	if err != nil || !strings.HasPrefix(key, "key:") || strings.Contains(key, "abc") {
		t.Errorf("Expected hashed key, got %q (%v)", key, err)
	}

	r.SetBasicAuth("ops@example.com", "pw")
	if key, _ := aiRateKey(r); key != "admin:ops@example.com" {
		t.Errorf("Unexpected key %q", key)
	}
}

func TestParseSchedule(t *testing.T) {
	if got := parseStartTime(strPtr("2025-07-01T10:30:00Z")); got == nil || got.Hour() != 10 {
		t.Errorf("Expected RFC3339 parse, got %v", got)
	}
	if got := parseStartTime(strPtr("2025-07-01T10:30:00")); got == nil || got.Minute() != 30 {
		t.Errorf("Expected local ISO parse, got %v", got)
	}
	if got := parseStartTime(strPtr("tomorrow")); got != nil {
		t.Errorf("Expected nil, got %v", got)
	}
	if got := parseStartDate(strPtr("2025-13-01")); got != nil {
		t.Errorf("Expected nil for invalid month, got %v", got)
	}
	if got := parseStartDate(nil); got != nil {
		t.Errorf("Expected nil, got %v", got)
	}
}
