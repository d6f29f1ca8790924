package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/metrics"
	"github.com/clawbridge/clawbridge/internal/models"
)

const (
	handshakeTimeout = 10 * time.Second
	maxPushMessage   = 4 << 20

	eventStateChanged = "state_changed"
	eventNotifyAction = "mobile_app_notification_action"
)

var errAuthRejected = errors.New("backend rejected push credentials")

type pushMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Event   *pushEvent      `json:"event,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

type pushEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
}

type stateChangedData struct {
	EntityID string        `json:"entity_id"`
	NewState *models.State `json:"new_state"`
	OldState *models.State `json:"old_state"`
}

type notifyActionData struct {
	Action string `json:"action"`
}

// listen keeps the push connection alive. Every loss is followed by a fixed
// wait and a new attempt, for as long as ctx lives.
func (c *Connector) listen(ctx context.Context) {
	for {
		err := c.session(ctx)
		c.setConnected(false)

		if ctx.Err() != nil {
			return
		}

		metrics.BackendReconnects.Inc()
		c.log.WithError(err).WithField("retry_in", c.reconnectDelay.String()).Warn("backend push connection lost")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// session runs one push connection from dial to loss.
func (c *Connector) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow() //nolint:errcheck // best-effort close on teardown

	conn.SetReadLimit(maxPushMessage)

	if err := c.authenticate(ctx, conn); err != nil {
		return err
	}

	for _, eventType := range []string{eventStateChanged, eventNotifyAction} {
		sub := map[string]any{
			"id":         c.msgID.Add(1),
			"type":       "subscribe_events",
			"event_type": eventType,
		}
		if err := wsjson.Write(ctx, conn, sub); err != nil {
			return fmt.Errorf("subscribe %s: %w", eventType, err)
		}
	}

	c.setConnected(true)
	c.log.Info("backend push connection established")

	for {
		var msg pushMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Type {
		case "event":
			c.handleEvent(msg.Event)
		case "result":
			if msg.Success != nil && !*msg.Success {
				return fmt.Errorf("subscription %d failed: %s", msg.ID, string(msg.Error))
			}
		}
	}
}

func (c *Connector) authenticate(ctx context.Context, conn *websocket.Conn) error {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var msg pushMessage
	if err := wsjson.Read(hsCtx, conn, &msg); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	if msg.Type == "auth_required" {
		auth := map[string]string{"type": "auth", "access_token": c.token}
		if err := wsjson.Write(hsCtx, conn, auth); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}

		if err := wsjson.Read(hsCtx, conn, &msg); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
	}

	if msg.Type != "auth_ok" {
		return fmt.Errorf("%w: %s %s", errAuthRejected, msg.Type, msg.Message)
	}

	return nil
}

func (c *Connector) handleEvent(ev *pushEvent) {
	if ev == nil {
		return
	}

	at := ev.TimeFired
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch ev.EventType {
	case eventStateChanged:
		var data stateChangedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			c.log.WithError(err).Debug("ignoring malformed state_changed event")
			return
		}
		if data.EntityID == "" || data.NewState == nil {
			return
		}

		c.applyChange(data.NewState)
		c.StateChanges.Publish(models.StateChange{
			EntityID: data.EntityID,
			NewState: data.NewState.Clone(),
			OldState: data.OldState,
			Time:     at,
		})

	case eventNotifyAction:
		var data notifyActionData
		if err := json.Unmarshal(ev.Data, &data); err != nil || data.Action == "" {
			return
		}

		c.log.WithFields(logrus.Fields{"action": data.Action}).Debug("notification action received")
		c.Actions.Publish(Action{ID: data.Action, Time: at})
	}
}

func (c *Connector) setConnected(v bool) {
	c.connected.Store(v)
	if v {
		metrics.BackendConnected.Set(1)
	} else {
		metrics.BackendConnected.Set(0)
	}
}
