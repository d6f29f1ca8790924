package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"testing"

	"github.com/clawbridge/clawbridge/internal/api"
	"github.com/clawbridge/clawbridge/internal/gateway"
	"github.com/clawbridge/clawbridge/internal/models"
)

func newStateRouter(gw *mockGateway) http.Handler {
	states := api.NewStateHandler(gw, testLogger())
	history := api.NewHistoryHandler(gw, testLogger())

	r := newTestRouter()
	r.GET("/api/states", states.List)
	r.GET("/api/states/:entity_id", states.Get)
	r.GET("/api/context", states.Context)
	r.GET("/api/history/period/:start", history.Period)

	return r
}

func TestStates_PassesFilter(t *testing.T) {
	t.Parallel()

	var got gateway.StateFilter
	gw := &mockGateway{
		statesFn: func(_ context.Context, _ *gateway.Identity, f gateway.StateFilter) ([]models.ExposedState, error) {
			got = f
			return []models.ExposedState{{
				State:  models.State{EntityID: "light.kitchen", State: "on"},
				Access: models.AccessControl,
				Area:   "Kitchen",
			}}, nil
		},
	}

	w := doRequest(newStateRouter(gw), http.MethodGet, "/api/states?domain=light&area=Kitchen&compact=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	want := gateway.StateFilter{Domain: "light", Area: "Kitchen", Compact: true}
	if got != want {
		t.Errorf("filter = %+v, want %+v", got, want)
	}

	var body []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body) != 1 || body[0]["entity_id"] != "light.kitchen" || body[0]["access"] != "control" {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestState_NotFound(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{
		stateFn: func(context.Context, *gateway.Identity, string) (*models.ExposedState, error) {
			return nil, models.ErrNotFound
		},
	}

	w := doRequest(newStateRouter(gw), http.MethodGet, "/api/states/lock.front", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	w = doRequest(newStateRouter(gw), http.MethodGet, "/api/states/not-an-entity", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", w.Code)
	}
}

func TestHistory_ParsesQuery(t *testing.T) {
	t.Parallel()

	var got gateway.HistoryRequest
	gw := &mockGateway{
		historyFn: func(_ context.Context, _ *gateway.Identity, req gateway.HistoryRequest) (json.RawMessage, error) {
			got = req
			return json.RawMessage(`[[{"entity_id":"sensor.temp","state":"21"}]]`), nil
		},
	}

	w := doRequest(newStateRouter(gw), http.MethodGet,
		"/api/history/period/2026-04-15T00:00:00Z?filter_entity_id=sensor.temp,%20light.kitchen&end_time=2026-04-15T12:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	want := gateway.HistoryRequest{
		Start:     "2026-04-15T00:00:00Z",
		End:       "2026-04-15T12:00:00Z",
		EntityIDs: []string{"sensor.temp", "light.kitchen"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("request = %+v, want %+v", got, want)
	}
}

func TestHistory_RejectsBadTimes(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{
		historyFn: func(context.Context, *gateway.Identity, gateway.HistoryRequest) (json.RawMessage, error) {
			t.Error("gateway should not be called")
			return nil, nil
		},
	}

	for _, path := range []string{
		"/api/history/period/yesterday?filter_entity_id=sensor.temp",
		"/api/history/period/2026-04-15T00:00:00Z?filter_entity_id=sensor.temp&end_time=soon",
	} {
		w := doRequest(newStateRouter(gw), http.MethodGet, path, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

func TestContext_ReturnsCapabilities(t *testing.T) {
	t.Parallel()

	gw := &mockGateway{
		contextFn: func(context.Context, *gateway.Identity) (*gateway.Capabilities, error) {
			return &gateway.Capabilities{
				AIName:             "Assistant",
				RateLimitPerMinute: 60,
				Entities:           []gateway.EntityCapability{{EntityID: "light.kitchen", Access: models.AccessControl}},
			}, nil
		},
	}

	w := doRequest(newStateRouter(gw), http.MethodGet, "/api/context", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body gateway.Capabilities
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.AIName != "Assistant" || len(body.Entities) != 1 {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}
