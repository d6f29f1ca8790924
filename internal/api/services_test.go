package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/clawbridge/clawbridge/internal/api"
	"github.com/clawbridge/clawbridge/internal/backend"
	"github.com/clawbridge/clawbridge/internal/gateway"
	"github.com/clawbridge/clawbridge/internal/models"
)

func newServiceRouter(gw *mockGateway) http.Handler {
	h := api.NewServiceHandler(gw, testLogger())
	r := newTestRouter()
	r.GET("/api/services", h.List)
	r.POST("/api/services/:domain/:service", h.Call)
	r.GET("/api/confirm/:action_id", h.ConfirmStatus)

	return r
}

func TestCall_Forwarded(t *testing.T) {
	t.Parallel()

	var got gateway.CallRequest
	var gotKey string
	gw := &mockGateway{
		callFn: func(_ context.Context, id *gateway.Identity, req gateway.CallRequest) (*gateway.CallResult, error) {
			got, gotKey = req, id.KeyID()
			return &gateway.CallResult{
				EntityIDs: []string{"light.kitchen"},
				Result:    json.RawMessage(`[{"entity_id":"light.kitchen","state":"on"}]`),
			}, nil
		},
	}

	w := doRequest(newServiceRouter(gw), http.MethodPost, "/api/services/light/turn_on", `{"entity_id":"light.kitchen","brightness":80}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if got.Domain != "light" || got.Service != "turn_on" || got.Payload["brightness"] != float64(80) {
		t.Errorf("unexpected call request %+v", got)
	}
	if gotKey != testKeyID {
		t.Errorf("identity not passed through: %q", gotKey)
	}

	var body struct {
		EntityIDs []string          `json:"entity_ids"`
		Result    []json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.EntityIDs) != 1 || len(body.Result) != 1 {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestCall_EmptyBodyIsEmptyPayload(t *testing.T) {
	t.Parallel()

	var payload map[string]any
	gw := &mockGateway{
		callFn: func(_ context.Context, _ *gateway.Identity, req gateway.CallRequest) (*gateway.CallResult, error) {
			payload = req.Payload
			return &gateway.CallResult{Result: json.RawMessage(`[]`)}, nil
		},
	}

	w := doRequest(newServiceRouter(gw), http.MethodPost, "/api/services/light/turn_off", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if payload == nil || len(payload) != 0 {
		t.Errorf("expected empty payload, got %v", payload)
	}
}

func TestCall_PendingReturns202(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{
		callFn: func(context.Context, *gateway.Identity, gateway.CallRequest) (*gateway.CallResult, error) {
			return &gateway.CallResult{
				EntityIDs: []string{"lock.front"},
				Action:    &models.PendingAction{ID: "act-9", EntityID: "lock.front", Status: models.StatusPending},
			}, nil
		},
	}

	w := doRequest(newServiceRouter(gw), http.MethodPost, "/api/services/lock/unlock", `{"entity_id":"lock.front"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["action_id"] != "act-9" || body["status"] != "pending" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestCall_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"not exposed", models.ErrEntityNotExposed, http.StatusForbidden, models.ErrEntityNotExposed.Error()},
		{"read only", models.ErrReadOnly, http.StatusForbidden, models.ErrReadOnly.Error()},
		{"domain mismatch", models.ErrDomainMismatch, http.StatusForbidden, models.ErrDomainMismatch.Error()},
		{"outside schedule", models.ErrOutsideSchedule, http.StatusForbidden, models.ErrOutsideSchedule.Error()},
		{"no targets", models.ErrNoTargets, http.StatusForbidden, models.ErrNoTargets.Error()},
		{"rate limited", models.ErrRateLimited, http.StatusTooManyRequests, models.ErrRateLimited.Error()},
		{"bad entity id", models.ErrFieldRequired("entity_id"), http.StatusBadRequest, "invalid request: entity_id is required"},
		{"upstream", &backend.UpstreamError{Status: 500, Body: "boom"}, http.StatusBadGateway, "backend returned HTTP 500: boom"},
		{"internal", fmt.Errorf("unexpected"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gw := &mockGateway{
				callFn: func(context.Context, *gateway.Identity, gateway.CallRequest) (*gateway.CallResult, error) {
					return nil, tt.err
				},
			}

			w := doRequest(newServiceRouter(gw), http.MethodPost, "/api/services/light/turn_on", `{}`)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}

			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if len(body) != 1 || body["message"] != tt.wantMsg {
				t.Errorf("body = %v, want only message %q", body, tt.wantMsg)
			}
		})
	}
}

func TestCall_RejectsMalformedInput(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{
		callFn: func(context.Context, *gateway.Identity, gateway.CallRequest) (*gateway.CallResult, error) {
			t.Error("gateway should not be called")
			return nil, nil
		},
	}
	r := newServiceRouter(gw)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"array body", "/api/services/light/turn_on", `[1,2]`},
		{"invalid json", "/api/services/light/turn_on", `{`},
		{"bad domain", "/api/services/Light!/turn_on", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestConfirmStatus(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{
		actionStatusFn: func(_ context.Context, _ *gateway.Identity, id string) (*models.PendingAction, error) {
			switch id {
			case "act-ok":
				return &models.PendingAction{ID: id, Status: models.StatusApproved}, nil
			case "act-old":
				return &models.PendingAction{ID: id, Status: models.StatusExpired}, models.ErrConfirmationExpired
			default:
				return nil, models.ErrNotFound
			}
		},
	}
	r := newServiceRouter(gw)

	tests := []struct {
		id       string
		wantCode int
	}{
		{"act-ok", http.StatusOK},
		{"act-old", http.StatusGone},
		{"act-missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := doRequest(r, http.MethodGet, "/api/confirm/"+tt.id, "")
			if w.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, w.Code)
			}
		})
	}
}

func TestServices_UpstreamErrorIsGeneric(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{
		servicesFn: func(context.Context, *gateway.Identity) ([]models.ServiceDomain, error) {
			return nil, fmt.Errorf("fetching services: %w", &backend.UpstreamError{Status: 503, Body: "secret detail"})
		},
	}

	w := doRequest(newServiceRouter(gw), http.MethodGet, "/api/services", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["message"] != "backend request failed" {
		t.Errorf("upstream detail leaked on read: %q", body["message"])
	}
}
