package models

import (
	"strings"
	"time"
)

const (
	maxKeyNameLen   = 100
	maxRateOverride = 600
)

// APIKey is a bearer credential with an optional entity scope and rate override.
type APIKey struct {
	ID        string                 `json:"id" yaml:"id"`
	Name      string                 `json:"name" yaml:"name"`
	Token     string                 `json:"token" yaml:"token"`
	Entities  map[string]AccessLevel `json:"entities" yaml:"entities"`
	RateLimit int                    `json:"rate_limit" yaml:"rate_limit"`
	CreatedAt time.Time              `json:"created_at" yaml:"created_at"`
}

// Scoped reports whether the key restricts access beyond the global map.
func (k *APIKey) Scoped() bool {
	return len(k.Entities) > 0
}

// Preview returns the masked token shown in listings.
func (k *APIKey) Preview() string {
	if len(k.Token) <= 7 {
		return k.Token + "..."
	}

	return k.Token[:7] + "..."
}

// View returns the listing representation without the full token.
func (k *APIKey) View() APIKeyView {
	return APIKeyView{
		ID:         k.ID,
		Name:       k.Name,
		KeyPreview: k.Preview(),
		Entities:   k.Entities,
		RateLimit:  k.RateLimit,
		CreatedAt:  k.CreatedAt,
	}
}

// APIKeyView is an APIKey with its token masked.
type APIKeyView struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	KeyPreview string                 `json:"key_preview"`
	Entities   map[string]AccessLevel `json:"entities"`
	RateLimit  int                    `json:"rate_limit"`
	CreatedAt  time.Time              `json:"created_at"`
}

// CreateAPIKeyRequest is the payload for issuing a new key.
type CreateAPIKeyRequest struct {
	Name      string                 `json:"name"`
	Entities  map[string]AccessLevel `json:"entities"`
	RateLimit int                    `json:"rate_limit"`
}

// Validate checks the request and normalizes the name.
func (r *CreateAPIKeyRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return ErrFieldRequired("name")
	}

	if len(r.Name) > maxKeyNameLen {
		return ErrFieldTooLong("name", maxKeyNameLen)
	}

	if r.RateLimit < 0 || r.RateLimit > maxRateOverride {
		return ErrInvalidField("rate_limit", "must be between 0 and 600")
	}

	for id, level := range r.Entities {
		if !ValidEntityID(id) {
			return ErrInvalidField("entities", "invalid entity id "+id)
		}

		if !level.Valid() {
			return ErrInvalidField("entities", "invalid access level for "+id)
		}
	}

	return nil
}
