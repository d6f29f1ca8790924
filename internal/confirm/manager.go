package confirm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/backend"
	"github.com/clawbridge/clawbridge/internal/metrics"
	"github.com/clawbridge/clawbridge/internal/models"
)

const (
	sweepInterval     = 30 * time.Second
	resolvedRetention = 10 * time.Minute
	expiredGrace      = 60 * time.Second
)

// Executor performs the buffered backend call on approval.
type Executor interface {
	CallService(ctx context.Context, domain, service string, payload map[string]any) (json.RawMessage, error)
}

// Notifier delivers the approve/deny prompt to a human.
type Notifier interface {
	Notify(ctx context.Context, service, title, message string, actions []backend.NotifyAction) error
}

// Recorder receives audit entries.
type Recorder interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

// Request describes a call to hold for confirmation.
type Request struct {
	Domain   string
	Service  string
	EntityID string
	Payload  map[string]any
	SourceIP string
	KeyID    string
}

// Manager owns the pending action table.
type Manager struct {
	mu      sync.Mutex
	actions map[string]*models.PendingAction

	exec     Executor
	notifier Notifier
	audit    Recorder
	settings func() models.Settings
	log      *logrus.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. settings is read on every creation so that
// timeout and notification changes apply immediately.
func NewManager(exec Executor, notifier Notifier, audit Recorder, settings func() models.Settings, log *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		actions:  make(map[string]*models.PendingAction),
		exec:     exec,
		notifier: notifier,
		audit:    audit,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}

	return m
}

// Create stores a new pending action, records it and sends the prompt.
func (m *Manager) Create(ctx context.Context, req Request) (*models.PendingAction, error) {
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	settings := m.settings()
	now := m.now().UTC()

	a := &models.PendingAction{
		ID:        uuid.NewString(),
		Domain:    req.Domain,
		Service:   req.Service,
		EntityID:  req.EntityID,
		Payload:   payload,
		SourceIP:  req.SourceIP,
		KeyID:     req.KeyID,
		Status:    models.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(settings.ConfirmTimeoutSeconds) * time.Second),
	}

	m.mu.Lock()
	m.actions[a.ID] = a
	out := *a
	m.updateGaugeLocked()
	m.mu.Unlock()

	m.audit.Record(ctx, m.entry(&out, models.EventConfirmationRequested, models.ResultPending))
	m.log.WithFields(logrus.Fields{
		"action_id": out.ID,
		"entity_id": out.EntityID,
		"service":   out.Domain + "." + out.Service,
	}).Info("confirmation requested")

	m.sendPrompt(ctx, &out, settings)

	return &out, nil
}

func (m *Manager) sendPrompt(ctx context.Context, a *models.PendingAction, settings models.Settings) {
	if settings.ConfirmNotifyService == "" {
		m.log.WithField("action_id", a.ID).Info("no notify service configured, awaiting manual approval")
		return
	}

	title := settings.AIName + " needs approval"
	message := fmt.Sprintf("%s wants to call %s.%s on %s. Expires in %ds.",
		settings.AIName, a.Domain, a.Service, a.EntityID, settings.ConfirmTimeoutSeconds)
	actions := []backend.NotifyAction{
		{Action: ApprovePrefix + a.ID, Title: "Approve"},
		{Action: DenyPrefix + a.ID, Title: "Deny"},
	}

	if err := m.notifier.Notify(ctx, settings.ConfirmNotifyService, title, message, actions); err != nil {
		m.log.WithError(err).WithField("action_id", a.ID).Warn("failed to send confirmation prompt")
	}
}

// Get returns an action, expiring it first if its timeout has passed.
func (m *Manager) Get(ctx context.Context, id string) (*models.PendingAction, error) {
	m.mu.Lock()
	a, ok := m.actions[id]
	if !ok {
		m.mu.Unlock()
		return nil, models.ErrNotFound
	}
	expired := m.expireLocked(a)
	out := *a
	m.mu.Unlock()

	if expired {
		m.recordExpired(ctx, &out)
	}

	return &out, nil
}

// List returns every tracked action, oldest first.
func (m *Manager) List(ctx context.Context) []models.PendingAction {
	var expired []models.PendingAction

	m.mu.Lock()
	out := make([]models.PendingAction, 0, len(m.actions))
	for _, a := range m.actions {
		if m.expireLocked(a) {
			expired = append(expired, *a)
		}
		out = append(out, *a)
	}
	m.mu.Unlock()

	for i := range expired {
		m.recordExpired(ctx, &expired[i])
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

// Approve executes the buffered call with the exact stored payload. The
// returned error is the backend's when the call itself failed.
func (m *Manager) Approve(ctx context.Context, id string) (*models.PendingAction, error) {
	a, err := m.resolve(ctx, id, models.StatusApproved)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(a.Payload))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding stored payload: %w", err)
	}

	start := m.now()
	result, callErr := m.exec.CallService(ctx, a.Domain, a.Service, payload)
	latency := float64(m.now().Sub(start).Microseconds()) / 1000

	outcome := string(models.ResultSuccess)
	if callErr != nil {
		outcome = string(models.ResultError)
	}

	m.mu.Lock()
	if stored, ok := m.actions[id]; ok {
		stored.Outcome = outcome
		stored.Result = result
		a = *stored
	}
	m.mu.Unlock()

	entry := m.entry(&a, models.EventConfirmedCall, models.AuditResult(outcome))
	entry.ResponseTimeMS = &latency
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	m.audit.Record(ctx, entry)

	m.log.WithFields(logrus.Fields{"action_id": id, "outcome": outcome}).Info("confirmation approved")

	if callErr != nil {
		return &a, callErr
	}

	return &a, nil
}

// Deny resolves an action without calling the backend.
func (m *Manager) Deny(ctx context.Context, id string) (*models.PendingAction, error) {
	a, err := m.resolve(ctx, id, models.StatusDenied)
	if err != nil {
		return nil, err
	}

	entry := m.entry(&a, models.EventConfirmationDenied, models.ResultDenied)
	entry.Error = "denied by user"
	m.audit.Record(ctx, entry)

	m.log.WithField("action_id", id).Info("confirmation denied")

	return &a, nil
}

// resolve moves a pending action to status under the lock and returns a copy.
func (m *Manager) resolve(ctx context.Context, id string, status models.PendingStatus) (models.PendingAction, error) {
	m.mu.Lock()

	a, ok := m.actions[id]
	if !ok {
		m.mu.Unlock()
		return models.PendingAction{}, models.ErrNotFound
	}

	if m.expireLocked(a) {
		out := *a
		m.mu.Unlock()
		m.recordExpired(ctx, &out)

		return models.PendingAction{}, models.ErrConfirmationExpired
	}

	if err := Transition(a.Status, status); err != nil {
		current := a.Status
		m.mu.Unlock()

		if current == models.StatusExpired {
			return models.PendingAction{}, models.ErrConfirmationExpired
		}

		return models.PendingAction{}, fmt.Errorf("%w: %s", models.ErrActionResolved, current)
	}

	now := m.now().UTC()
	a.Status = status
	a.ResolvedAt = &now
	out := *a
	m.mu.Unlock()

	return out, nil
}

// expireLocked moves a timed-out pending action to expired and reports
// whether it did so. Callers hold m.mu.
func (m *Manager) expireLocked(a *models.PendingAction) bool {
	if a.Status != models.StatusPending || !IsExpired(m.now(), a.CreatedAt, a.ExpiresAt.Sub(a.CreatedAt)) {
		return false
	}

	now := m.now().UTC()
	a.Status = models.StatusExpired
	a.ResolvedAt = &now

	return true
}

func (m *Manager) recordExpired(ctx context.Context, a *models.PendingAction) {
	entry := m.entry(a, models.EventConfirmationExpired, models.ResultDenied)
	entry.Error = "confirmation timed out"
	m.audit.Record(ctx, entry)

	m.log.WithField("action_id", a.ID).Info("confirmation expired")
}

// Sweep drops resolved actions past their retention and pending actions
// well past their timeout.
func (m *Manager) Sweep(ctx context.Context) {
	var expired []models.PendingAction
	now := m.now()

	m.mu.Lock()
	for id, a := range m.actions {
		switch {
		case a.Status == models.StatusPending:
			if now.After(a.ExpiresAt.Add(expiredGrace)) {
				m.expireLocked(a)
				expired = append(expired, *a)
				delete(m.actions, id)
			}
		case a.ResolvedAt != nil && now.After(a.ResolvedAt.Add(resolvedRetention)):
			delete(m.actions, id)
		}
	}
	m.updateGaugeLocked()
	m.mu.Unlock()

	for i := range expired {
		m.recordExpired(ctx, &expired[i])
	}
}

// Run sweeps periodically and resolves actions from notification button
// presses until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, actions *backend.Bus[backend.Action]) {
	sub := actions.Subscribe()
	defer actions.Unsubscribe(sub)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		case act, ok := <-sub.C:
			if !ok {
				return
			}
			m.handleAction(ctx, act)
		}
	}
}

func (m *Manager) handleAction(ctx context.Context, act backend.Action) {
	id, approve, ok := ParseActionID(act.ID)
	if !ok {
		return
	}

	var err error
	if approve {
		_, err = m.Approve(ctx, id)
	} else {
		_, err = m.Deny(ctx, id)
	}

	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrActionResolved):
		m.log.WithError(err).WithField("action_id", id).Debug("ignoring notification action")
	default:
		m.log.WithError(err).WithField("action_id", id).Warn("notification action failed")
	}
}

// Len returns the number of tracked actions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.actions)
}

func (m *Manager) updateGaugeLocked() {
	metrics.PendingActions.Set(float64(len(m.actions)))
}

func (m *Manager) entry(a *models.PendingAction, event string, result models.AuditResult) models.AuditEntry {
	var params map[string]any
	if len(a.Payload) > 0 {
		if err := json.Unmarshal(a.Payload, &params); err != nil {
			m.log.WithError(err).WithField("action_id", a.ID).Debug("pending payload not an object")
		}
	}

	return models.AuditEntry{
		EventType:  event,
		EntityID:   a.EntityID,
		Domain:     a.Domain,
		Service:    a.Service,
		Parameters: params,
		SourceIP:   a.SourceIP,
		KeyID:      a.KeyID,
		Result:     result,
	}
}
