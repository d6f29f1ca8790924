// Package models defines data types shared across the gateway.
package models

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// entityIDPattern matches backend entity identifiers of the form domain.object_id.
var entityIDPattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// State is a backend entity's current state as reported by the backend.
type State struct {
	EntityID    string          `json:"entity_id"`
	State       string          `json:"state"`
	Attributes  map[string]any  `json:"attributes"`
	LastChanged time.Time       `json:"last_changed"`
	LastUpdated time.Time       `json:"last_updated"`
	Context     json.RawMessage `json:"context,omitempty"`
}

// Domain returns the domain portion of the state's entity id.
func (s *State) Domain() string {
	return EntityDomain(s.EntityID)
}

// FriendlyName returns the friendly_name attribute, falling back to the entity id.
func (s *State) FriendlyName() string {
	if name, ok := s.Attributes["friendly_name"].(string); ok && name != "" {
		return name
	}

	return s.EntityID
}

// Unavailable reports whether the backend marks the entity as unreachable.
func (s *State) Unavailable() bool {
	return s.State == "unavailable" || s.State == "unknown"
}

// Clone returns a copy that shares no maps with the receiver.
func (s *State) Clone() *State {
	out := *s
	if s.Attributes != nil {
		out.Attributes = make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			out.Attributes[k] = v
		}
	}

	return &out
}

// ExposedState is a state as shown to gateway callers, decorated with policy.
type ExposedState struct {
	State
	Access     AccessLevel `json:"access"`
	Annotation string      `json:"annotation,omitempty"`
	LastState  string      `json:"last_state,omitempty"`
	Area       string      `json:"area,omitempty"`
}

// StateChange is a single push event from the backend.
type StateChange struct {
	EntityID string    `json:"entity_id"`
	NewState *State    `json:"new_state"`
	OldState *State    `json:"old_state"`
	Time     time.Time `json:"time"`
}

// ServiceDomain is one entry of the backend's service catalog.
type ServiceDomain struct {
	Domain   string                     `json:"domain"`
	Services map[string]json.RawMessage `json:"services"`
}

// EntityDomain returns the part of an entity id before the first dot.
func EntityDomain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}

// ValidEntityID reports whether id has the form domain.object_id.
func ValidEntityID(id string) bool {
	return entityIDPattern.MatchString(id)
}
