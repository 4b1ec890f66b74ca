package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sumanism/ECA2/internal/audience"
	"github.com/sumanism/ECA2/internal/store"
	"github.com/sumanism/ECA2/internal/version"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 2
)

// Client is an HTTP client for the CDP API.
type Client struct {
	BaseURL string
	APIKey  string

	http *retryablehttp.Client
}

// APIError is a non-2xx answer. Code and Message come from the JSON error
// body when the server sent one.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d, %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// NewClient creates a new API client. Only GET requests are retried.
func NewClient(baseURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultRetries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = defaultTimeout
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		http:    rc,
	}
}

// SegmentUsers is one page of segment members with the display columns.
type SegmentUsers struct {
	SegmentID  string           `json:"segment_id"`
	TotalCount int              `json:"total_count"`
	Users      []map[string]any `json:"users"`
	Columns    []string         `json:"columns"`
}

// ListSegments retrieves all segments.
func (c *Client) ListSegments(ctx context.Context) ([]store.Segment, error) {
	var out []store.Segment
	if err := c.do(ctx, http.MethodGet, "/api/segments", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSegment retrieves a single segment by id.
func (c *Client) GetSegment(ctx context.Context, id string) (*store.Segment, error) {
	var out store.Segment
	if err := c.do(ctx, http.MethodGet, "/api/segments/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSegment stores a segment; the server validates the definition.
func (c *Client) CreateSegment(ctx context.Context, name string, definition json.RawMessage) (*store.Segment, error) {
	body := map[string]any{"name": name, "definition": definition}
	var out store.Segment
	if err := c.do(ctx, http.MethodPost, "/api/segments", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SegmentCount returns the number of users matching the segment.
func (c *Client) SegmentCount(ctx context.Context, id string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/segments/"+url.PathEscape(id)+"/count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// SegmentUsers lists matching users. limit <= 0 uses the server default.
func (c *Client) SegmentUsers(ctx context.Context, id string, limit int) (*SegmentUsers, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out SegmentUsers
	if err := c.do(ctx, http.MethodGet, "/api/segments/"+url.PathEscape(id)+"/users", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EvaluateSegment returns the full evaluation report of a stored segment.
func (c *Client) EvaluateSegment(ctx context.Context, id string) (*audience.Report, error) {
	var out audience.Report
	if err := c.do(ctx, http.MethodPost, "/api/segments/"+url.PathEscape(id)+"/evaluate", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCampaigns retrieves all campaigns.
func (c *Client) ListCampaigns(ctx context.Context) ([]store.Campaign, error) {
	var out []store.Campaign
	if err := c.do(ctx, http.MethodGet, "/api/campaigns", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetCampaignStatus moves a campaign to status.
func (c *Client) SetCampaignStatus(ctx context.Context, id, status string) (*store.Campaign, error) {
	q := url.Values{"status": {status}}
	var out store.Campaign
	if err := c.do(ctx, http.MethodPut, "/api/campaigns/"+url.PathEscape(id)+"/status", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteCampaign selects the audience of an active campaign.
func (c *Client) ExecuteCampaign(ctx context.Context, id string) (*audience.Selection, error) {
	var out audience.Selection
	if err := c.do(ctx, http.MethodPost, "/api/campaigns/"+url.PathEscape(id)+"/execute", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Version returns the server build version.
func (c *Client) Version(ctx context.Context) (version.Info, error) {
	var out version.Info
	if err := c.do(ctx, http.MethodGet, "/version", nil, nil, &out); err != nil {
		return version.Info{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Code
		switch {
		case body.Message != "":
			apiErr.Message = body.Message
		case body.Error != "":
			apiErr.Message = body.Error
		}
	}
	return apiErr
}
