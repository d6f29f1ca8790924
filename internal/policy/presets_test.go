package policy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/clawbridge/clawbridge/internal/models"
	"github.com/clawbridge/clawbridge/internal/policy"
)

func TestPresets_PersistAndApply(t *testing.T) {
	t.Parallel()

	backend := policy.NewMemoryBackend()
	s := loadedStore(t, backend)
	ctx := context.Background()

	if err := s.SetEntityAccess(ctx, "light.a", models.AccessControl); err != nil {
		t.Fatal(err)
	}

	saved, err := s.SavePresetSelection(ctx, "current", []string{"light.a", "sensor.b", "not an id"})
	if err != nil {
		t.Fatalf("SavePresetSelection: %v", err)
	}
	if len(saved) != 2 || saved["light.a"] != models.AccessControl || saved["sensor.b"] != models.AccessRead {
		t.Errorf("unexpected selection %v", saved)
	}

	if err := s.SavePreset(ctx, "quiet", map[string]models.AccessLevel{"sensor.b": models.AccessRead}); err != nil {
		t.Fatalf("SavePreset: %v", err)
	}

	reloaded := loadedStore(t, backend)

	n, err := reloaded.ApplyPreset(ctx, "quiet")
	if err != nil || n != 1 {
		t.Fatalf("ApplyPreset = (%d, %v)", n, err)
	}

	if ents := reloaded.Snapshot().Entities; len(ents) != 1 || ents["sensor.b"] != models.AccessRead {
		t.Errorf("entities after apply: %v", ents)
	}

	if _, err := reloaded.Preset("current"); err != nil {
		t.Errorf("preset lost across reload: %v", err)
	}

	if err := reloaded.DeletePreset(ctx, "current"); err != nil {
		t.Fatalf("DeletePreset: %v", err)
	}
	if err := reloaded.DeletePreset(ctx, "current"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
	if _, err := reloaded.ApplyPreset(ctx, "current"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("apply deleted: expected ErrNotFound, got %v", err)
	}
}

func TestPresets_RejectInvalid(t *testing.T) {
	t.Parallel()

	s := loadedStore(t, policy.NewMemoryBackend())
	ctx := context.Background()

	tests := []struct {
		name     string
		preset   string
		entities map[string]models.AccessLevel
	}{
		{"empty name", "", nil},
		{"name with slash", "a/b", nil},
		{"bad entity", "ok", map[string]models.AccessLevel{"nope": models.AccessRead}},
		{"bad level", "ok", map[string]models.AccessLevel{"light.a": "admin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SavePreset(ctx, tt.preset, tt.entities); !errors.Is(err, models.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	if len(s.Snapshot().Presets) != 0 {
		t.Error("rejected presets were stored")
	}
}
