package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/models"
)

const (
	authTimeout          = 10 * time.Second
	writeTimeout         = 10 * time.Second
	wsReadLimit          = 64 << 10
	clientSendBuffer     = 256
	tokenRefreshInterval = 15 * time.Minute // periodic re-validation of the access token
	tokenRefreshTimeout  = 10 * time.Second
	pingInterval         = 30 * time.Second
	pingTimeout          = 10 * time.Second
	maxMissedPongs       = int32(2)
)

var errBadHandshake = errors.New("expected auth message")

// Authorizer validates a client's access token and returns the entities it
// may follow.
type Authorizer interface {
	AuthorizeStream(ctx context.Context, token, remote string) (map[string]models.AccessLevel, error)
}

// Client wraps a single WebSocket connection managed by the Hub.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	log       *logrus.Logger
	remote    string
	token     string
	closeOnce sync.Once

	// Owned by the hub's Run goroutine once registered.
	effective map[string]models.AccessLevel
	entities  map[string]struct{}
}

// closeSend safely closes the send channel exactly once.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

func newClient(hub *Hub, conn *websocket.Conn, remote, token string, effective map[string]models.AccessLevel) *Client {
	c := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, clientSendBuffer),
		log:       hub.log,
		remote:    remote,
		token:     token,
		effective: effective,
		entities:  make(map[string]struct{}, len(effective)),
	}
	for id := range effective {
		c.entities[id] = struct{}{}
	}

	return c
}

// setEntities narrows the subscription to ids it already follows. It never
// adds entities; an empty list leaves the selection unchanged.
func (c *Client) setEntities(ids []string) []string {
	if len(ids) > 0 {
		next := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := c.entities[id]; ok {
				next[id] = struct{}{}
			}
		}
		c.entities = next
	}

	return sortedKeys(c.entities)
}

// setEffective replaces effective access and drops subscriptions it no
// longer covers.
func (c *Client) setEffective(effective map[string]models.AccessLevel) {
	c.effective = effective
	for id := range c.entities {
		if _, ok := effective[id]; !ok {
			delete(c.entities, id)
		}
	}
}

func (c *Client) wants(entityID string) bool {
	_, ok := c.entities[entityID]
	return ok
}

// Serve runs the client protocol on an accepted connection until it closes.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, remote string) {
	defer conn.CloseNow() //nolint:errcheck // best-effort close on teardown

	conn.SetReadLimit(wsReadLimit)

	token, effective, err := h.handshake(ctx, conn, remote)
	if err != nil {
		h.log.WithError(err).WithField("remote", remote).Debug("websocket handshake failed")
		return
	}

	c := newClient(h, conn, remote, token, effective)
	if !h.Register(ctx, c) {
		conn.Close(websocket.StatusTryAgainLater, "try again later") //nolint:errcheck // best-effort
		return
	}

	wsCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.WritePump(wsCtx)
	c.ReadPump(wsCtx)
}

func (h *Hub) handshake(ctx context.Context, conn *websocket.Conn, remote string) (string, map[string]models.AccessLevel, error) {
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	if err := wsjson.Write(authCtx, conn, ServerMsg{Type: typeAuthRequired}); err != nil {
		return "", nil, err
	}

	var msg ClientMsg
	if err := wsjson.Read(authCtx, conn, &msg); err != nil {
		if authCtx.Err() != nil && ctx.Err() == nil {
			conn.Close(websocket.StatusPolicyViolation, "authentication timeout") //nolint:errcheck // best-effort
		}

		return "", nil, err
	}

	if msg.Type != typeAuth {
		h.rejectAuth(authCtx, conn, errBadHandshake.Error())
		return "", nil, errBadHandshake
	}

	effective, err := h.auth.AuthorizeStream(authCtx, msg.AccessToken, remote)
	if err != nil {
		h.rejectAuth(authCtx, conn, err.Error())
		return "", nil, err
	}

	return msg.AccessToken, effective, nil
}

func (h *Hub) rejectAuth(ctx context.Context, conn *websocket.Conn, reason string) {
	_ = wsjson.Write(ctx, conn, ServerMsg{Type: typeAuthInvalid, Message: reason})
	conn.Close(websocket.StatusPolicyViolation, "authentication failed") //nolint:errcheck // best-effort
}

// ReadPump reads client frames until the connection closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown
	}()

	for {
		_, msgBytes, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.WithField("status", websocket.CloseStatus(err)).Debug("client disconnected")
			}

			return
		}

		c.handleMessage(msgBytes)
	}
}

// handleMessage processes an incoming client frame.
func (c *Client) handleMessage(msgBytes []byte) {
	var msg ClientMsg
	if err := json.Unmarshal(msgBytes, &msg); err != nil {
		return
	}

	if msg.Type != typeSubscribe {
		return
	}

	c.hub.requestNarrow(c, msg.EntityIDs)
}

// sendPing sends a WebSocket ping and tracks missed pongs.
// Returns true if the connection should be closed.
func (c *Client) sendPing(ctx context.Context, missedPongs *atomic.Int32) bool {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := c.conn.Ping(pingCtx)
	cancel()

	if err != nil {
		if missedPongs.Add(1) >= maxMissedPongs {
			c.log.Debug("closing: 2 consecutive missed pongs")

			return true
		}

		return false
	}

	missedPongs.Store(0)

	return false
}

// WritePump writes queued frames to the connection and periodically
// re-validates the access token.
func (c *Client) WritePump(ctx context.Context) {
	defer c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown

	refreshTicker := time.NewTicker(tokenRefreshInterval)
	defer refreshTicker.Stop()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var missedPongs atomic.Int32

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if c.sendPing(ctx, &missedPongs) {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck // best-effort
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()

			if err != nil {
				c.log.WithError(err).Debug("write failed")

				return
			}
		case <-refreshTicker.C:
			if !c.refreshToken(ctx) {
				return
			}
		}
	}
}

// refreshToken re-validates the access token. Returns false if the
// connection should close.
func (c *Client) refreshToken(ctx context.Context) bool {
	refreshCtx, cancel := context.WithTimeout(ctx, tokenRefreshTimeout)
	effective, err := c.hub.auth.AuthorizeStream(refreshCtx, c.token, c.remote)
	cancel()

	if err != nil {
		c.log.Info("closing WebSocket: token refresh failed")
		c.conn.Close(websocket.StatusPolicyViolation, "authentication expired") //nolint:errcheck // best-effort

		return false
	}

	c.hub.updateAccess(c, effective)

	return true
}
