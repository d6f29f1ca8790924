package gateway_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/clawbridge/clawbridge/internal/confirm"
	"github.com/clawbridge/clawbridge/internal/models"
	"github.com/clawbridge/clawbridge/internal/policy"
)

// mockBackend serves canned states and records service calls.
type mockBackend struct {
	mu       sync.Mutex
	states   map[string]*models.State
	previous map[string]string
	areas    map[string]string
	calls    []call

	callService func(ctx context.Context, domain, service string, payload map[string]any) (json.RawMessage, error)
	services    func(ctx context.Context) ([]models.ServiceDomain, error)
	history     func(ctx context.Context, start, end string, ids []string) (json.RawMessage, error)
}

type call struct {
	Domain  string
	Service string
	Payload map[string]any
}

func (m *mockBackend) CallService(ctx context.Context, domain, service string, payload map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{Domain: domain, Service: service, Payload: payload})
	m.mu.Unlock()

	if m.callService != nil {
		return m.callService(ctx, domain, service, payload)
	}

	return json.RawMessage(`[]`), nil
}

func (m *mockBackend) Services(ctx context.Context) ([]models.ServiceDomain, error) {
	return m.services(ctx)
}

func (m *mockBackend) History(ctx context.Context, start, end string, ids []string) (json.RawMessage, error) {
	return m.history(ctx, start, end, ids)
}

func (m *mockBackend) State(id string) (*models.State, bool) {
	s, ok := m.states[id]
	if !ok {
		return nil, false
	}

	return s.Clone(), true
}

func (m *mockBackend) States() []*models.State {
	out := make([]*models.State, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })

	return out
}

func (m *mockBackend) PreviousState(id string) (string, bool) {
	v, ok := m.previous[id]
	return v, ok
}

func (m *mockBackend) Area(id string) string {
	return m.areas[id]
}

func (m *mockBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockBackend) lastCall() call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

// staticPolicy serves a fixed snapshot.
type staticPolicy struct {
	snap *policy.Snapshot
}

func (p *staticPolicy) Snapshot() *policy.Snapshot {
	return p.snap
}

// mockConfirmer stores created actions in memory.
type mockConfirmer struct {
	mu      sync.Mutex
	created []confirm.Request
	actions map[string]*models.PendingAction
}

func (m *mockConfirmer) Create(_ context.Context, req confirm.Request) (*models.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, err
	}

	a := &models.PendingAction{
		ID:       "act-1",
		Domain:   req.Domain,
		Service:  req.Service,
		EntityID: req.EntityID,
		Payload:  payload,
		SourceIP: req.SourceIP,
		KeyID:    req.KeyID,
		Status:   models.StatusPending,
	}
	m.created = append(m.created, req)
	if m.actions == nil {
		m.actions = map[string]*models.PendingAction{}
	}
	m.actions[a.ID] = a

	return a, nil
}

func (m *mockConfirmer) Get(_ context.Context, id string) (*models.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actions[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	out := *a

	return &out, nil
}

// recorder captures audit entries.
type recorder struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (r *recorder) Record(_ context.Context, e models.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) all() []models.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuditEntry(nil), r.entries...)
}

func (r *recorder) last() models.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}
