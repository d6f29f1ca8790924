// Package ws implements the realtime hub that pushes entity state changes to
// authenticated WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/backend"
	"github.com/clawbridge/clawbridge/internal/metrics"
	"github.com/clawbridge/clawbridge/internal/models"
)

// Hub limits and channel buffer sizes.
const (
	MaxClients     = 50
	registerBuffer = 64
	controlBuffer  = 256
)

type registration struct {
	client *Client
	ok     chan bool
}

// narrowing replaces a client's entity set, bounded by its effective access.
type narrowing struct {
	client    *Client
	entityIDs []string
}

// accessUpdate replaces a client's effective access after re-authentication.
type accessUpdate struct {
	client    *Client
	effective map[string]models.AccessLevel
}

// Hub manages active WebSocket clients and fans out state changes.
// The client set and every client's entity set are touched only by the Run
// goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan registration
	unregister chan *Client
	narrow     chan narrowing
	access     chan accessUpdate
	shutdown   chan struct{} // signals Run to begin graceful drain
	done       chan struct{} // closed when Run has finished draining
	stopOnce   sync.Once
	count      atomic.Int64
	auth       Authorizer
	log        *logrus.Logger
}

// NewHub creates a new Hub that authenticates clients with auth.
func NewHub(auth Authorizer, log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan registration, registerBuffer),
		unregister: make(chan *Client, registerBuffer),
		narrow:     make(chan narrowing, controlBuffer),
		access:     make(chan accessUpdate, controlBuffer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		auth:       auth,
		log:        log,
	}
}

// drainTimeout is how long the hub waits for clients to flush after shutdown.
const drainTimeout = 3 * time.Second

// Run starts the hub event loop, consuming state changes from changes. It
// exits when Shutdown is called or the context is cancelled.
func (h *Hub) Run(ctx context.Context, changes *backend.Bus[models.StateChange]) {
	defer close(h.done)

	sub := changes.Subscribe()
	defer changes.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			h.drainClients()
			h.rejectPending()

			return
		case <-h.shutdown:
			h.drainClients()
			h.rejectPending()

			return

		case reg := <-h.register:
			if len(h.clients) >= MaxClients {
				h.log.WithField("max", MaxClients).Warn("connection limit reached, rejecting client")
				reg.ok <- false

				continue
			}
			h.clients[reg.client] = struct{}{}
			h.queue(reg.client, ServerMsg{Type: typeAuthOK})
			h.updateCount()
			h.log.WithField("total", len(h.clients)).Info("client registered")
			reg.ok <- true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.updateCount()
			h.log.WithField("total", len(h.clients)).Info("client unregistered")

		case n := <-h.narrow:
			if _, ok := h.clients[n.client]; !ok {
				continue
			}
			ids := n.client.setEntities(n.entityIDs)
			h.queue(n.client, ServerMsg{Type: typeSubscribed, EntityIDs: ids})

		case u := <-h.access:
			if _, ok := h.clients[u.client]; ok {
				u.client.setEffective(u.effective)
			}

		case change, ok := <-sub.C:
			if !ok {
				h.drainClients()
				return
			}
			h.fanOut(change)
		}
	}
}

// fanOut delivers one change to every client subscribed to its entity. A
// client whose send buffer is full is dropped.
func (h *Hub) fanOut(change models.StateChange) {
	var msg []byte

	for client := range h.clients {
		if !client.wants(change.EntityID) {
			continue
		}

		if msg == nil {
			var err error
			msg, err = json.Marshal(StateChangedMsg{
				Type:     typeStateChanged,
				EntityID: change.EntityID,
				NewState: change.NewState,
				OldState: change.OldState,
				Time:     change.Time,
			})
			if err != nil {
				h.log.WithError(err).Error("failed to marshal state change")
				return
			}
		}

		select {
		case client.send <- msg:
		default:
			h.log.WithField("remote", client.remote).Warn("client send buffer full, dropping client")
			client.closeSend()
			delete(h.clients, client)
		}
	}

	h.updateCount()
}

// queue sends a control frame to one client, dropping it if the buffer is full.
func (h *Hub) queue(c *Client, msg ServerMsg) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case c.send <- b:
	default:
	}
}

func (h *Hub) updateCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.WSConnections.Set(float64(len(h.clients)))
}

// Register adds a client and reports whether it was accepted.
func (h *Hub) Register(ctx context.Context, c *Client) bool {
	reg := registration{client: c, ok: make(chan bool, 1)}

	select {
	case h.register <- reg:
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}

	select {
	case ok := <-reg.ok:
		return ok
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		// Run loop already exited; client cleanup happened in Run shutdown.
	}
}

func (h *Hub) requestNarrow(c *Client, ids []string) {
	select {
	case h.narrow <- narrowing{client: c, entityIDs: ids}:
	default:
		h.log.Warn("control channel full, dropping subscribe request")
	}
}

func (h *Hub) updateAccess(c *Client, effective map[string]models.AccessLevel) {
	select {
	case h.access <- accessUpdate{client: c, effective: effective}:
	default:
		h.log.Warn("control channel full, dropping access update")
	}
}

// rejectPending answers registrations that arrived during shutdown.
func (h *Hub) rejectPending() {
	for {
		select {
		case reg := <-h.register:
			reg.ok <- false
		default:
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Shutdown initiates a graceful WebSocket drain: sends a shutdown frame to
// every connected client, waits for their write pumps to flush, then closes
// all connections. It blocks until drain is complete or the timeout expires.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.shutdown) })
	<-h.done
}

// drainClients sends a shutdown frame to every client and waits for buffers to flush.
func (h *Hub) drainClients() {
	if len(h.clients) == 0 {
		return
	}

	h.log.WithField("clients", len(h.clients)).Info("draining WebSocket clients")

	for client := range h.clients {
		h.queue(client, ServerMsg{Type: typeShutdown, Message: "server shutting down"})
	}

	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond) //nolint:mnd // poll interval
	defer ticker.Stop()

drain:
	for {
		allDrained := true

		for client := range h.clients {
			if len(client.send) > 0 {
				allDrained = false

				break
			}
		}

		if allDrained {
			break
		}

		select {
		case <-deadline:
			h.log.Warn("WebSocket drain timeout, closing remaining clients")

			break drain
		case <-ticker.C:
		}
	}

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}

	h.updateCount()
}

// sortedKeys returns the ids of set in order.
func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)

	return out
}
