package confirm_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/backend"
	"github.com/clawbridge/clawbridge/internal/confirm"
	"github.com/clawbridge/clawbridge/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

type mockExecutor struct {
	mu    sync.Mutex
	calls []map[string]any
	fn    func(domain, service string, payload map[string]any) (json.RawMessage, error)
}

func (m *mockExecutor) CallService(_ context.Context, domain, service string, payload map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, payload)
	m.mu.Unlock()

	if m.fn != nil {
		return m.fn(domain, service, payload)
	}

	return json.RawMessage(`[]`), nil
}

func (m *mockExecutor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockNotifier struct {
	mu      sync.Mutex
	service string
	actions []backend.NotifyAction
}

func (m *mockNotifier) Notify(_ context.Context, service, _, _ string, actions []backend.NotifyAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.service = service
	m.actions = actions
	return nil
}

type recorder struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (r *recorder) Record(_ context.Context, e models.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.EventType + ":" + string(e.Result)
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	m     *confirm.Manager
	exec  *mockExecutor
	notif *mockNotifier
	rec   *recorder
	clk   *clock
}

func newFixture(t *testing.T, notifyService string) *fixture {
	t.Helper()

	f := &fixture{
		exec:  &mockExecutor{},
		notif: &mockNotifier{},
		rec:   &recorder{},
		clk:   &clock{t: time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)},
	}

	settings := func() models.Settings {
		s := models.DefaultSettings()
		s.ConfirmTimeoutSeconds = 120
		s.ConfirmNotifyService = notifyService
		return s
	}

	f.m = confirm.NewManager(f.exec, f.notif, f.rec, settings, testLogger(), confirm.WithClock(f.clk.Now))

	return f
}

func (f *fixture) create(t *testing.T) *models.PendingAction {
	t.Helper()

	a, err := f.m.Create(context.Background(), confirm.Request{
		Domain:   "lock",
		Service:  "unlock",
		EntityID: "lock.front",
		Payload:  map[string]any{"entity_id": "lock.front", "code": "1234", "level": 42.5},
		SourceIP: "10.0.0.5",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	return a
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if confirm.IsExpired(created.Add(120*time.Second), created, 120*time.Second) {
		t.Error("exactly at timeout must not be expired")
	}
	if !confirm.IsExpired(created.Add(121*time.Second), created, 120*time.Second) {
		t.Error("past timeout must be expired")
	}
}

func TestTransition(t *testing.T) {
	t.Parallel()

	all := []models.PendingStatus{models.StatusPending, models.StatusApproved, models.StatusDenied, models.StatusExpired}

	for _, from := range all {
		for _, to := range all {
			err := confirm.Transition(from, to)
			allowed := from == models.StatusPending && to != models.StatusPending

			if allowed && err != nil {
				t.Errorf("%s -> %s should be allowed: %v", from, to, err)
			}
			if !allowed && !errors.Is(err, models.ErrInvalidTransition) {
				t.Errorf("%s -> %s should be rejected, got %v", from, to, err)
			}
		}
	}
}

func TestParseActionID(t *testing.T) {
	t.Parallel()

	if id, approve, ok := confirm.ParseActionID("CLAWBRIDGE_APPROVE_abc"); !ok || !approve || id != "abc" {
		t.Errorf("approve parse = %q %v %v", id, approve, ok)
	}
	if id, approve, ok := confirm.ParseActionID("CLAWBRIDGE_DENY_abc"); !ok || approve || id != "abc" {
		t.Errorf("deny parse = %q %v %v", id, approve, ok)
	}
	for _, s := range []string{"", "CLAWBRIDGE_APPROVE_", "OTHER_abc"} {
		if _, _, ok := confirm.ParseActionID(s); ok {
			t.Errorf("%q should not parse", s)
		}
	}
}

func TestCreate_RecordsAndNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "mobile_app_phone")
	a := f.create(t)

	if a.Status != models.StatusPending || a.ID == "" {
		t.Fatalf("unexpected action %+v", a)
	}
	if !a.ExpiresAt.Equal(a.CreatedAt.Add(120 * time.Second)) {
		t.Errorf("ExpiresAt = %v", a.ExpiresAt)
	}
	if f.exec.count() != 0 {
		t.Error("creating must not call the backend")
	}

	if got := f.rec.events(); len(got) != 1 || got[0] != "confirmation_requested:pending" {
		t.Errorf("audit = %v", got)
	}

	f.notif.mu.Lock()
	defer f.notif.mu.Unlock()

	if f.notif.service != "mobile_app_phone" || len(f.notif.actions) != 2 {
		t.Fatalf("notification = %q %v", f.notif.service, f.notif.actions)
	}
	if f.notif.actions[0].Action != "CLAWBRIDGE_APPROVE_"+a.ID || f.notif.actions[1].Action != "CLAWBRIDGE_DENY_"+a.ID {
		t.Errorf("unexpected action ids %v", f.notif.actions)
	}
}

func TestApprove_ExecutesIdenticalPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	a := f.create(t)

	got, err := f.m.Approve(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != models.StatusApproved || got.Outcome != "success" || got.ResolvedAt == nil {
		t.Errorf("unexpected action %+v", got)
	}

	f.exec.mu.Lock()
	sent, _ := json.Marshal(f.exec.calls[0])
	f.exec.mu.Unlock()

	var want, have map[string]any
	_ = json.Unmarshal(a.Payload, &want)
	_ = json.Unmarshal(sent, &have)
	if string(mustJSON(want)) != string(mustJSON(have)) {
		t.Errorf("payload changed: sent %s, stored %s", sent, a.Payload)
	}

	events := f.rec.events()
	if events[len(events)-1] != "confirmed_call:success" {
		t.Errorf("audit = %v", events)
	}

	if _, err := f.m.Approve(context.Background(), a.ID); !errors.Is(err, models.ErrActionResolved) {
		t.Errorf("second approve: %v", err)
	}
	if _, err := f.m.Deny(context.Background(), a.ID); !errors.Is(err, models.ErrActionResolved) {
		t.Errorf("deny after approve: %v", err)
	}
	if f.exec.count() != 1 {
		t.Errorf("backend called %d times", f.exec.count())
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func TestApprove_BackendErrorIsRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.exec.fn = func(string, string, map[string]any) (json.RawMessage, error) {
		return nil, &backend.UpstreamError{Status: 500, Body: "boom"}
	}
	a := f.create(t)

	got, err := f.m.Approve(context.Background(), a.ID)
	if !errors.Is(err, models.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if got.Status != models.StatusApproved || got.Outcome != "error" {
		t.Errorf("unexpected action %+v", got)
	}

	f.rec.mu.Lock()
	last := f.rec.entries[len(f.rec.entries)-1]
	f.rec.mu.Unlock()

	if last.EventType != models.EventConfirmedCall || last.Result != models.ResultError || last.Error == "" || last.ResponseTimeMS == nil {
		t.Errorf("unexpected audit entry %+v", last)
	}
}

func TestDeny_NeverCallsBackend(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	a := f.create(t)

	got, err := f.m.Deny(context.Background(), a.ID)
	if err != nil || got.Status != models.StatusDenied {
		t.Fatalf("Deny = %+v, %v", got, err)
	}
	if f.exec.count() != 0 {
		t.Error("deny called the backend")
	}

	events := f.rec.events()
	if events[len(events)-1] != "confirmation_denied:denied" {
		t.Errorf("audit = %v", events)
	}
}

func TestLazyExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	a := f.create(t)

	f.clk.Advance(121 * time.Second)

	got, err := f.m.Get(context.Background(), a.ID)
	if err != nil || got.Status != models.StatusExpired {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if _, err := f.m.Approve(context.Background(), a.ID); !errors.Is(err, models.ErrConfirmationExpired) {
		t.Errorf("approve after expiry: %v", err)
	}
	if f.exec.count() != 0 {
		t.Error("expired action reached the backend")
	}

	expired := 0
	for _, e := range f.rec.events() {
		if e == "confirmation_expired:denied" {
			expired++
		}
	}
	if expired != 1 {
		t.Errorf("expiry recorded %d times", expired)
	}
}

func TestGet_Unknown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	if _, err := f.m.Get(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	ctx := context.Background()

	resolved := f.create(t)
	stale := f.create(t)
	if _, err := f.m.Deny(ctx, resolved.ID); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(150 * time.Second)
	f.m.Sweep(ctx)
	if f.m.Len() != 2 {
		t.Fatalf("nothing should be swept yet, have %d", f.m.Len())
	}

	f.clk.Advance(40 * time.Second)
	f.m.Sweep(ctx)
	if _, err := f.m.Get(ctx, stale.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("pending action past grace should be gone: %v", err)
	}
	if f.m.Len() != 1 {
		t.Errorf("resolved action should remain, have %d", f.m.Len())
	}

	f.clk.Advance(10 * time.Minute)
	f.m.Sweep(ctx)
	if f.m.Len() != 0 {
		t.Errorf("resolved action should be gone, have %d", f.m.Len())
	}
}

func TestRun_ResolvesFromNotificationAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "mobile_app_phone")
	a := f.create(t)

	bus := backend.NewBus[backend.Action]("actions", 8, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.m.Run(ctx, bus)
	}()

	for bus.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	bus.Publish(backend.Action{ID: confirm.ApprovePrefix + a.ID})

	deadline := time.Now().Add(3 * time.Second)
	for f.exec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got, err := f.m.Get(context.Background(), a.ID)
	if err != nil || got.Status != models.StatusApproved {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	cancel()
	<-done
}
