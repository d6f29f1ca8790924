package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clawbridge/clawbridge/internal/models"
)

const (
	defaultReconnectDelay  = 5 * time.Second
	defaultRefreshInterval = 5 * time.Second
)

// areaTemplate renders a JSON object mapping entity ids to area names.
const areaTemplate = `{% set ns = namespace(m={}) %}` +
	`{% for s in states %}{% set a = area_name(s.entity_id) %}` +
	`{% if a %}{% set ns.m = dict(ns.m, **{s.entity_id: a}) %}{% endif %}{% endfor %}` +
	`{{ ns.m | tojson }}`

// NotifyAction is a button attached to a push notification.
type NotifyAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Connector keeps a cached view of backend state, fed by a periodic full
// refresh and by the push connection, and forwards calls to the REST client.
type Connector struct {
	client *Client
	wsURL  string
	token  string
	log    *logrus.Logger

	reconnectDelay  time.Duration
	refreshInterval func() time.Duration

	mu       sync.RWMutex
	states   map[string]*models.State
	previous map[string]string
	areas    map[string]string

	connected atomic.Bool
	msgID     atomic.Int64

	// StateChanges carries every pushed state change.
	StateChanges *Bus[models.StateChange]
	// Actions carries notification button presses.
	Actions *Bus[Action]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithReconnectDelay overrides the fixed wait between push reconnect attempts.
func WithReconnectDelay(d time.Duration) ConnectorOption {
	return func(c *Connector) { c.reconnectDelay = d }
}

// WithRefreshInterval supplies the full-refresh period. It is read before
// every refresh so setting changes apply on the next tick.
func WithRefreshInterval(fn func() time.Duration) ConnectorOption {
	return func(c *Connector) { c.refreshInterval = fn }
}

// NewConnector creates a connector that pushes over wsURL and calls REST
// through client.
func NewConnector(client *Client, wsURL, token string, log *logrus.Logger, opts ...ConnectorOption) *Connector {
	c := &Connector{
		client:          client,
		wsURL:           wsURL,
		token:           token,
		log:             log,
		reconnectDelay:  defaultReconnectDelay,
		refreshInterval: func() time.Duration { return defaultRefreshInterval },
		states:          make(map[string]*models.State),
		previous:        make(map[string]string),
		areas:           make(map[string]string),
		StateChanges:    NewBus[models.StateChange]("state_changes", defaultQueueSize, log),
		Actions:         NewBus[Action]("actions", defaultQueueSize, log),
	}
	for _, o := range opts {
		o(c)
	}

	return c
}

// Start loads areas and the initial state snapshot, then starts the push
// listener and the periodic refresh. Load failures are logged and never stop
// the loops; an empty cache fills on the next successful refresh.
func (c *Connector) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := c.loadAreas(gctx); err != nil {
			c.log.WithError(err).Warn("failed to load areas")
		}

		return nil
	})

	g.Go(func() error {
		if err := c.Refresh(gctx); err != nil {
			c.log.WithError(err).WithField("retry_in", c.refreshInterval()).
				Warn("initial state load failed")
		}

		return nil
	})

	_ = g.Wait()

	c.mu.RLock()
	n := len(c.states)
	c.mu.RUnlock()
	c.log.WithField("entities", n).Info("backend connector started")

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.listen(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.refreshLoop(runCtx)
	}()
}

// Stop ends the background loops and waits for them to exit.
func (c *Connector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Refresh replaces the cache with a full snapshot from the backend,
// remembering the old value of every entity whose state changed.
func (c *Connector) Refresh(ctx context.Context) error {
	states, err := c.client.States(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]*models.State, len(states))

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range states {
		s := &states[i]
		if old, ok := c.states[s.EntityID]; ok && old.State != s.State {
			c.previous[s.EntityID] = old.State
		}
		next[s.EntityID] = s
	}
	c.states = next

	return nil
}

func (c *Connector) refreshLoop(ctx context.Context) {
	for {
		timer := time.NewTimer(c.refreshInterval())

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.log.WithError(err).Warn("state refresh failed")
		}
	}
}

func (c *Connector) loadAreas(ctx context.Context) error {
	out, err := c.client.RenderTemplate(ctx, areaTemplate)
	if err != nil {
		return err
	}

	areas := map[string]string{}
	if err := json.Unmarshal([]byte(out), &areas); err != nil {
		return fmt.Errorf("decoding area map: %w", err)
	}

	c.mu.Lock()
	c.areas = areas
	c.mu.Unlock()

	c.log.WithField("entities", len(areas)).Debug("loaded entity areas")

	return nil
}

// applyChange records a pushed state in the cache.
func (c *Connector) applyChange(s *models.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.states[s.EntityID]; ok && old.State != s.State {
		c.previous[s.EntityID] = old.State
	}
	c.states[s.EntityID] = s
}

// State returns a copy of one cached state.
func (c *Connector) State(entityID string) (*models.State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.states[entityID]
	if !ok {
		return nil, false
	}

	return s.Clone(), true
}

// States returns copies of every cached state sorted by entity id.
func (c *Connector) States() []*models.State {
	c.mu.RLock()
	out := make([]*models.State, 0, len(c.states))
	for _, s := range c.states {
		out = append(out, s.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })

	return out
}

// PreviousState returns the value an entity held before its last change.
func (c *Connector) PreviousState(entityID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.previous[entityID]

	return v, ok
}

// Area returns the area name of an entity, or "".
func (c *Connector) Area(entityID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.areas[entityID]
}

// Connected reports whether the push connection is authenticated.
func (c *Connector) Connected() bool {
	return c.connected.Load()
}

// CallService invokes a backend service.
func (c *Connector) CallService(ctx context.Context, domain, service string, payload map[string]any) (json.RawMessage, error) {
	return c.client.CallService(ctx, domain, service, payload)
}

// Services returns the backend service catalog.
func (c *Connector) Services(ctx context.Context) ([]models.ServiceDomain, error) {
	return c.client.Services(ctx)
}

// History returns backend state history.
func (c *Connector) History(ctx context.Context, start, end string, entityIDs []string) (json.RawMessage, error) {
	return c.client.History(ctx, start, end, entityIDs)
}

// Notify sends a push notification through notify.<service>.
func (c *Connector) Notify(ctx context.Context, service, title, message string, actions []NotifyAction) error {
	payload := map[string]any{
		"title":   title,
		"message": message,
	}
	if len(actions) > 0 {
		payload["data"] = map[string]any{"actions": actions}
	}

	_, err := c.client.CallService(ctx, "notify", service, payload)

	return err
}
