package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/models"
)

// Store serves the current policy snapshot and applies mutations through its Backend.
type Store struct {
	backend Backend
	log     *logrus.Logger
	now     func() time.Time

	// writeMu serializes mutations so read-modify-persist never interleaves.
	writeMu sync.Mutex

	mu   sync.RWMutex
	snap *Snapshot
}

// NewStore creates a Store backed by backend. Call Load before use.
func NewStore(backend Backend, log *logrus.Logger) *Store {
	return &Store{
		backend: backend,
		log:     log,
		now:     time.Now,
		snap:    emptySnapshot(),
	}
}

// Snapshot returns the current immutable policy view.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snap
}

// Settings returns the current settings.
func (s *Store) Settings() models.Settings {
	return s.Snapshot().Settings
}

// Ping verifies the backend is readable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.backend.Load(ctx, DocSettings)
	if err != nil && !errors.Is(err, ErrDocumentNotFound) {
		return err
	}

	return nil
}

// Load reads every document, migrating older schema versions in place.
// A store that has only the legacy flat document is converted once.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, migrated, err := s.read(ctx)
	if err != nil {
		return err
	}

	for _, name := range migrated {
		if err := s.persist(ctx, name, snap); err != nil {
			return fmt.Errorf("rewriting migrated document %s: %w", name, err)
		}
	}

	if len(migrated) > 0 {
		s.log.WithField("documents", migrated).Info("policy documents migrated")
	}

	s.swap(snap)

	return nil
}

// Reload re-reads every document without rewriting migrated ones. It is used
// when another writer changed the backend.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, _, err := s.read(ctx)
	if err != nil {
		return err
	}

	s.swap(snap)

	return nil
}

func (s *Store) read(ctx context.Context) (*Snapshot, []string, error) {
	snap := emptySnapshot()

	if _, err := s.backend.Load(ctx, DocEntities); errors.Is(err, ErrDocumentNotFound) {
		legacy, lerr := s.backend.Load(ctx, docLegacy)
		switch {
		case lerr == nil:
			snap, err := fromLegacy(legacy)
			if err != nil {
				return nil, nil, fmt.Errorf("converting legacy config: %w", err)
			}

			return snap, Documents, nil
		case !errors.Is(lerr, ErrDocumentNotFound):
			return nil, nil, fmt.Errorf("loading legacy config: %w", lerr)
		}
	}

	var migrated []string
	for _, name := range Documents {
		raw, err := s.backend.Load(ctx, name)
		if errors.Is(err, ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("loading %s: %w", name, err)
		}

		version, data, err := unwrap(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("decoding %s: %w", name, err)
		}

		if err := decodeInto(snap, name, version, data); err != nil {
			return nil, nil, fmt.Errorf("decoding %s: %w", name, err)
		}

		if version < currentVersion {
			migrated = append(migrated, name)
		}
	}

	snap.Settings.Normalize()

	return snap, migrated, nil
}

func decodeInto(snap *Snapshot, name string, version int, data json.RawMessage) error {
	switch name {
	case DocEntities:
		if version == 0 {
			entities, err := migrateEntitiesV0(data)
			if err != nil {
				return err
			}
			snap.Entities = entities

			return nil
		}

		return json.Unmarshal(data, &snap.Entities)
	case DocAnnotations:
		return json.Unmarshal(data, &snap.Annotations)
	case DocConstraints:
		return json.Unmarshal(data, &snap.Constraints)
	case DocAPIKeys:
		return json.Unmarshal(data, &snap.APIKeys)
	case DocSchedules:
		return json.Unmarshal(data, &snap.Schedules)
	case DocEntitySchedules:
		return json.Unmarshal(data, &snap.EntitySchedules)
	case DocSettings:
		snap.Settings = models.DefaultSettings()
		return json.Unmarshal(data, &snap.Settings)
	case DocGroups:
		return json.Unmarshal(data, &snap.Groups)
	case DocPresets:
		return json.Unmarshal(data, &snap.Presets)
	default:
		return fmt.Errorf("unknown document %q", name)
	}
}

// documentValue returns the part of snap stored under name.
func documentValue(snap *Snapshot, name string) any {
	switch name {
	case DocEntities:
		return snap.Entities
	case DocAnnotations:
		return snap.Annotations
	case DocConstraints:
		return snap.Constraints
	case DocAPIKeys:
		return snap.APIKeys
	case DocSchedules:
		return snap.Schedules
	case DocEntitySchedules:
		return snap.EntitySchedules
	case DocSettings:
		return snap.Settings
	case DocGroups:
		return snap.Groups
	case DocPresets:
		return snap.Presets
	default:
		return nil
	}
}

func (s *Store) persist(ctx context.Context, name string, snap *Snapshot) error {
	data, err := encode(documentValue(snap, name))
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	if err := s.backend.Save(ctx, name, data); err != nil {
		return fmt.Errorf("saving %s: %w", name, err)
	}

	return nil
}

func (s *Store) swap(snap *Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// update applies fn to a private copy of the snapshot, persists the named
// documents, and publishes the copy. Nothing is published if fn or a save fails.
func (s *Store) update(ctx context.Context, fn func(next *Snapshot) error, docs ...string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot().clone()
	if err := fn(next); err != nil {
		return err
	}

	for _, name := range docs {
		if err := s.persist(ctx, name, next); err != nil {
			return err
		}
	}

	s.swap(next)

	return nil
}
