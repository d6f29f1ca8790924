package api_test

import (
	"context"
	"encoding/json"

	"github.com/clawbridge/clawbridge/internal/gateway"
	"github.com/clawbridge/clawbridge/internal/models"
	"github.com/clawbridge/clawbridge/internal/policy"
)

// mockGateway implements api.Gateway for testing.
type mockGateway struct {
	checkIPFn      func(addr string) error
	authFn         func(ctx context.Context, token, addr string) (*gateway.Identity, error)
	callFn         func(ctx context.Context, id *gateway.Identity, req gateway.CallRequest) (*gateway.CallResult, error)
	statesFn       func(ctx context.Context, id *gateway.Identity, f gateway.StateFilter) ([]models.ExposedState, error)
	stateFn        func(ctx context.Context, id *gateway.Identity, entityID string) (*models.ExposedState, error)
	servicesFn     func(ctx context.Context, id *gateway.Identity) ([]models.ServiceDomain, error)
	historyFn      func(ctx context.Context, id *gateway.Identity, req gateway.HistoryRequest) (json.RawMessage, error)
	contextFn      func(ctx context.Context, id *gateway.Identity) (*gateway.Capabilities, error)
	actionStatusFn func(ctx context.Context, id *gateway.Identity, actionID string) (*models.PendingAction, error)
}

func (m *mockGateway) CheckIP(addr string) error {
	if m.checkIPFn == nil {
		return nil
	}
	return m.checkIPFn(addr)
}

func (m *mockGateway) Authenticate(ctx context.Context, token, addr string) (*gateway.Identity, error) {
	if m.authFn == nil {
		return &gateway.Identity{Addr: addr}, nil
	}
	return m.authFn(ctx, token, addr)
}

func (m *mockGateway) Call(ctx context.Context, id *gateway.Identity, req gateway.CallRequest) (*gateway.CallResult, error) {
	return m.callFn(ctx, id, req)
}

func (m *mockGateway) VisibleStates(ctx context.Context, id *gateway.Identity, f gateway.StateFilter) ([]models.ExposedState, error) {
	return m.statesFn(ctx, id, f)
}

func (m *mockGateway) VisibleState(ctx context.Context, id *gateway.Identity, entityID string) (*models.ExposedState, error) {
	return m.stateFn(ctx, id, entityID)
}

func (m *mockGateway) VisibleServices(ctx context.Context, id *gateway.Identity) ([]models.ServiceDomain, error) {
	return m.servicesFn(ctx, id)
}

func (m *mockGateway) History(ctx context.Context, id *gateway.Identity, req gateway.HistoryRequest) (json.RawMessage, error) {
	return m.historyFn(ctx, id, req)
}

func (m *mockGateway) Context(ctx context.Context, id *gateway.Identity) (*gateway.Capabilities, error) {
	return m.contextFn(ctx, id)
}

func (m *mockGateway) ActionStatus(ctx context.Context, id *gateway.Identity, actionID string) (*models.PendingAction, error) {
	return m.actionStatusFn(ctx, id, actionID)
}

// mockPending implements api.PendingAdmin for testing.
type mockPending struct {
	listFn    func(ctx context.Context) []models.PendingAction
	approveFn func(ctx context.Context, id string) (*models.PendingAction, error)
	denyFn    func(ctx context.Context, id string) (*models.PendingAction, error)
}

func (m *mockPending) List(ctx context.Context) []models.PendingAction {
	return m.listFn(ctx)
}

func (m *mockPending) Approve(ctx context.Context, id string) (*models.PendingAction, error) {
	return m.approveFn(ctx, id)
}

func (m *mockPending) Deny(ctx context.Context, id string) (*models.PendingAction, error) {
	return m.denyFn(ctx, id)
}

// mockAuditRepo implements api.AuditRepository for testing.
type mockAuditRepo struct {
	queryFn  func(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error)
	statsFn  func(ctx context.Context, hours int) (*models.AuditStats, error)
	clearFn  func(ctx context.Context) error
	retainFn func(ctx context.Context, days int) (int, error)
}

func (m *mockAuditRepo) Query(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	return m.queryFn(ctx, filter)
}

func (m *mockAuditRepo) Stats(ctx context.Context, hours int) (*models.AuditStats, error) {
	return m.statsFn(ctx, hours)
}

func (m *mockAuditRepo) Clear(ctx context.Context) error {
	return m.clearFn(ctx)
}

func (m *mockAuditRepo) Retain(ctx context.Context, days int) (int, error) {
	return m.retainFn(ctx, days)
}

// mockBackendStatus implements api.BackendStatus for testing.
type mockBackendStatus struct {
	connected bool
}

func (m *mockBackendStatus) Connected() bool {
	return m.connected
}

// mockClients implements api.ClientCounter for testing.
type mockClients struct {
	n int
}

func (m *mockClients) ClientCount() int {
	return m.n
}

// mockPinger implements api.Pinger for testing.
type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error {
	return m.err
}

// newPolicyStore returns a loaded in-memory policy store.
func newPolicyStore() *policy.Store {
	s := policy.NewStore(policy.NewMemoryBackend(), testLogger())
	if err := s.Load(context.Background()); err != nil {
		panic(err)
	}

	return s
}
