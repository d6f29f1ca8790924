// Package gateway applies policy to data-plane requests before they reach the
// backend: source allowlist, API keys, rate limits, access tiers, schedules,
// parameter bounds and human confirmation.
package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/access"
	"github.com/clawbridge/clawbridge/internal/confirm"
	"github.com/clawbridge/clawbridge/internal/models"
	"github.com/clawbridge/clawbridge/internal/policy"
	"github.com/clawbridge/clawbridge/internal/ws"
)

// historyLimitPerMinute is the fixed budget for history queries.
const historyLimitPerMinute = 10

// Backend is the subset of the connector the dispatcher forwards to.
type Backend interface {
	CallService(ctx context.Context, domain, service string, payload map[string]any) (json.RawMessage, error)
	Services(ctx context.Context) ([]models.ServiceDomain, error)
	History(ctx context.Context, start, end string, entityIDs []string) (json.RawMessage, error)
	State(entityID string) (*models.State, bool)
	States() []*models.State
	PreviousState(entityID string) (string, bool)
	Area(entityID string) string
}

// PolicySource returns the current policy snapshot.
type PolicySource interface {
	Snapshot() *policy.Snapshot
}

// Confirmer buffers confirm-tier calls until a human decides.
type Confirmer interface {
	Create(ctx context.Context, req confirm.Request) (*models.PendingAction, error)
	Get(ctx context.Context, id string) (*models.PendingAction, error)
}

// Recorder appends to the audit trail.
type Recorder interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

// Limiter decides whether an identity may proceed at the given rate.
type Limiter interface {
	Allow(identity string, limitPerMinute int) bool
}

// Guard tracks credential failures per source address.
type Guard interface {
	IsBlocked(subject string) bool
	RecordFailure(subject string)
	Reset(subject string)
}

// Compile-time check: *Dispatcher authorizes realtime clients.
var _ ws.Authorizer = (*Dispatcher)(nil)

// Identity is an authenticated data-plane caller.
type Identity struct {
	Addr string
	Key  *models.APIKey
}

// KeyID returns the id of the authenticating key, or "" in open mode.
func (id *Identity) KeyID() string {
	if id.Key == nil {
		return ""
	}

	return id.Key.ID
}

// RateKey returns the rate-limit identity: the address, qualified by key id
// when a key authenticated the caller.
func (id *Identity) RateKey() string {
	if id.Key == nil {
		return id.Addr
	}

	return id.Addr + "#" + id.Key.ID
}

// Dispatcher applies policy to data-plane requests.
type Dispatcher struct {
	backend Backend
	policy  PolicySource
	confirm Confirmer
	audit   Recorder
	limiter Limiter
	guard   Guard
	log     *logrus.Logger
	now     func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source used for schedules and latency.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher.
func New(
	backend Backend, pol PolicySource, confirmer Confirmer, audit Recorder,
	limiter Limiter, guard Guard, log *logrus.Logger, opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		backend: backend,
		policy:  pol,
		confirm: confirmer,
		audit:   audit,
		limiter: limiter,
		guard:   guard,
		log:     log,
		now:     time.Now,
	}
	for _, o := range opts {
		o(d)
	}

	return d
}

// CheckIP reports ErrIPNotAllowed unless addr matches the allowlist. An empty
// allowlist permits every address.
func (d *Dispatcher) CheckIP(addr string) error {
	allowed := d.policy.Snapshot().Settings.AllowedIPs
	if len(allowed) == 0 {
		return nil
	}

	ip, err := netip.ParseAddr(hostOf(addr))
	if err != nil {
		return models.ErrIPNotAllowed
	}
	ip = ip.WithZone("").Unmap()

	for _, entry := range allowed {
		prefix, err := models.ParseAllowEntry(entry)
		if err != nil {
			continue
		}

		if prefix.Contains(ip) {
			return nil
		}
	}

	d.log.WithField("client", addr).Warn("request from address outside allowlist")

	return models.ErrIPNotAllowed
}

// Authenticate resolves the bearer token to an identity. With no keys
// configured every caller is admitted anonymously. Repeated failures from
// one address lock it out for a while.
func (d *Dispatcher) Authenticate(ctx context.Context, token, addr string) (*Identity, error) {
	host := hostOf(addr)

	if d.guard.IsBlocked(host) {
		return nil, models.ErrRateLimited
	}

	snap := d.policy.Snapshot()
	if snap.KeysOpen() {
		return &Identity{Addr: host}, nil
	}

	key, ok := snap.KeyByToken(token)
	if token == "" || !ok {
		d.guard.RecordFailure(host)
		d.audit.Record(ctx, models.AuditEntry{
			EventType: models.EventAuthFailed,
			SourceIP:  host,
			Result:    models.ResultDenied,
			Error:     models.ErrUnauthorized.Error(),
		})

		return nil, models.ErrUnauthorized
	}

	d.guard.Reset(host)

	return &Identity{Addr: host, Key: key}, nil
}

// Allow charges one request against the caller's budget: the key's override
// when set, otherwise the global setting.
func (d *Dispatcher) Allow(id *Identity) bool {
	limit := d.policy.Snapshot().Settings.RateLimitPerMinute
	if id.Key != nil && id.Key.RateLimit > 0 {
		limit = id.Key.RateLimit
	}

	return d.limiter.Allow(id.RateKey(), limit)
}

func (d *Dispatcher) allowHistory(id *Identity) bool {
	return d.limiter.Allow(id.RateKey()+":history", historyLimitPerMinute)
}

// effective returns the caller's access against the current snapshot. A key
// deleted since authentication sees nothing.
func (d *Dispatcher) effective(snap *policy.Snapshot, id *Identity) map[string]models.AccessLevel {
	if id.Key == nil {
		if !snap.KeysOpen() {
			return map[string]models.AccessLevel{}
		}

		return access.EffectiveAccess(snap.Entities, nil)
	}

	for i := range snap.APIKeys {
		if snap.APIKeys[i].ID == id.Key.ID {
			return access.EffectiveAccess(snap.Entities, &snap.APIKeys[i])
		}
	}

	return map[string]models.AccessLevel{}
}

// AuthorizeStream admits a realtime client and returns the entities it may
// follow.
func (d *Dispatcher) AuthorizeStream(ctx context.Context, token, remote string) (map[string]models.AccessLevel, error) {
	if err := d.CheckIP(remote); err != nil {
		return nil, err
	}

	id, err := d.Authenticate(ctx, token, remote)
	if err != nil {
		return nil, err
	}

	return d.effective(d.policy.Snapshot(), id), nil
}

// hostOf strips a port from addr when present.
func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}

	return addr
}
