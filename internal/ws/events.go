package ws

import (
	"time"

	"github.com/clawbridge/clawbridge/internal/models"
)

// Message types of the client protocol.
const (
	typeAuthRequired = "auth_required"
	typeAuth         = "auth"
	typeAuthOK       = "auth_ok"
	typeAuthInvalid  = "auth_invalid"
	typeSubscribe    = "subscribe"
	typeSubscribed   = "subscribed"
	typeStateChanged = "state_changed"
	typeShutdown     = "shutdown"
)

// ClientMsg is any frame a client may send.
type ClientMsg struct {
	Type        string   `json:"type"`
	AccessToken string   `json:"access_token,omitempty"`
	EntityIDs   []string `json:"entity_ids,omitempty"`
}

// ServerMsg is a control frame sent to clients.
type ServerMsg struct {
	Type      string   `json:"type"`
	Message   string   `json:"message,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// StateChangedMsg is pushed to every subscriber of the changed entity.
type StateChangedMsg struct {
	Type     string        `json:"type"`
	EntityID string        `json:"entity_id"`
	NewState *models.State `json:"new_state"`
	OldState *models.State `json:"old_state"`
	Time     time.Time     `json:"time"`
}
