// Package backend talks to the home-automation backend: REST calls, the
// push connection and the local state cache built from both.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clawbridge/clawbridge/internal/metrics"
	"github.com/clawbridge/clawbridge/internal/models"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 200
)

// UpstreamError is a non-2xx answer from the backend.
type UpstreamError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned HTTP %d", e.Status)
	}

	return fmt.Sprintf("backend returned HTTP %d: %s", e.Status, e.Body)
}

// Unwrap lets callers match models.ErrUpstream.
func (e *UpstreamError) Unwrap() error {
	return models.ErrUpstream
}

// Client is a REST client for the backend API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a client for baseURL (e.g. "http://supervisor/core")
// that authenticates with token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}

	return c
}

// States fetches every entity state.
func (c *Client) States(ctx context.Context) ([]models.State, error) {
	var states []models.State
	if err := c.getJSON(ctx, "states", "/api/states", nil, &states); err != nil {
		return nil, err
	}

	return states, nil
}

// Services fetches the service catalog.
func (c *Client) Services(ctx context.Context) ([]models.ServiceDomain, error) {
	var services []models.ServiceDomain
	if err := c.getJSON(ctx, "services", "/api/services", nil, &services); err != nil {
		return nil, err
	}

	return services, nil
}

// CallService invokes domain.service with payload and returns the backend's
// response body unchanged.
func (c *Client) CallService(ctx context.Context, domain, service string, payload map[string]any) (json.RawMessage, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)

	body, err := c.do(ctx, "call_service", http.MethodPost, path, nil, payload)
	if err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return json.RawMessage("[]"), nil
	}

	return json.RawMessage(body), nil
}

// History fetches state history for entityIDs starting at start. end may be
// empty.
func (c *Client) History(ctx context.Context, start, end string, entityIDs []string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("filter_entity_id", strings.Join(entityIDs, ","))
	q.Set("minimal_response", "true")
	if end != "" {
		q.Set("end_time", end)
	}

	body, err := c.do(ctx, "history", http.MethodGet, "/api/history/period/"+url.PathEscape(start), q, nil)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(body), nil
}

// RenderTemplate renders a backend template and returns the output text.
func (c *Client) RenderTemplate(ctx context.Context, template string) (string, error) {
	body, err := c.do(ctx, "template", http.MethodPost, "/api/template", nil, map[string]string{"template": template})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, result any) error {
	body, err := c.do(ctx, op, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", models.ErrUpstream, op, err)
	}

	return nil
}

// do executes one request and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body any) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.BackendCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrUpstream, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %w", models.ErrUpstream, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: truncateBody(respBody)}
	}

	return respBody, nil
}

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}

	return strings.ToValidUTF8(string(b), "")
}
