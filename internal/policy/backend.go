// Package policy holds the gateway's access policy: exposed entities, API
// keys, schedules, constraints and settings. Documents are persisted through
// a Backend and served from an immutable in-memory snapshot.
package policy

import (
	"context"
	"errors"
)

// ErrDocumentNotFound is returned by a Backend when a named document has never been saved.
var ErrDocumentNotFound = errors.New("policy document not found")

// Document names.
const (
	DocEntities        = "entities"
	DocAnnotations     = "annotations"
	DocConstraints     = "constraints"
	DocAPIKeys         = "api_keys"
	DocSchedules       = "schedules"
	DocEntitySchedules = "entity_schedules"
	DocSettings        = "settings"
	DocGroups          = "groups"
	DocPresets         = "presets"

	// docLegacy is the single flat document written by earlier releases.
	docLegacy = "config"
)

// Documents lists every document the store reads, in load order.
var Documents = []string{
	DocEntities, DocAnnotations, DocConstraints, DocAPIKeys,
	DocSchedules, DocEntitySchedules, DocSettings, DocGroups, DocPresets,
}

// Backend persists raw named documents.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}
