package api

import (
	"context"
	"encoding/json"

	"github.com/clawbridge/clawbridge/internal/audit"
	"github.com/clawbridge/clawbridge/internal/confirm"
	"github.com/clawbridge/clawbridge/internal/gateway"
	"github.com/clawbridge/clawbridge/internal/middleware"
	"github.com/clawbridge/clawbridge/internal/models"
	"github.com/clawbridge/clawbridge/internal/policy"
)

// Gateway defines the data-plane operations used by the public handlers.
type Gateway interface {
	middleware.Gatekeeper
	Call(ctx context.Context, id *gateway.Identity, req gateway.CallRequest) (*gateway.CallResult, error)
	VisibleStates(ctx context.Context, id *gateway.Identity, f gateway.StateFilter) ([]models.ExposedState, error)
	VisibleState(ctx context.Context, id *gateway.Identity, entityID string) (*models.ExposedState, error)
	VisibleServices(ctx context.Context, id *gateway.Identity) ([]models.ServiceDomain, error)
	History(ctx context.Context, id *gateway.Identity, req gateway.HistoryRequest) (json.RawMessage, error)
	Context(ctx context.Context, id *gateway.Identity) (*gateway.Capabilities, error)
	ActionStatus(ctx context.Context, id *gateway.Identity, actionID string) (*models.PendingAction, error)
}

// PolicyAdmin defines the policy mutations used by the management handlers.
type PolicyAdmin interface {
	Snapshot() *policy.Snapshot
	SetEntities(ctx context.Context, entities map[string]models.AccessLevel) error
	SetEntityAccess(ctx context.Context, entityID string, level models.AccessLevel) error
	RemoveEntity(ctx context.Context, entityID string) error
	SetAnnotation(ctx context.Context, entityID, text string) error
	SetConstraints(ctx context.Context, entityID string, c models.Constraints) error
	CreateAPIKey(ctx context.Context, req models.CreateAPIKeyRequest) (*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, keyID string) error
	CreateSchedule(ctx context.Context, req models.ScheduleRequest) (*models.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, req models.ScheduleRequest) (*models.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	SetEntitySchedule(ctx context.Context, entityID, scheduleID string) error
	UpdateSettings(ctx context.Context, settings models.Settings) (models.Settings, error)
	CreateGroup(ctx context.Context, req models.GroupRequest) (*models.Group, error)
	UpdateGroup(ctx context.Context, id string, req models.GroupRequest) (*models.Group, error)
	DeleteGroup(ctx context.Context, id string) error
	SetGroupAccess(ctx context.Context, id string, level models.AccessLevel) (int, error)
	SavePreset(ctx context.Context, name string, entities map[string]models.AccessLevel) error
	SavePresetSelection(ctx context.Context, name string, ids []string) (map[string]models.AccessLevel, error)
	Preset(name string) (map[string]models.AccessLevel, error)
	ApplyPreset(ctx context.Context, name string) (int, error)
	DeletePreset(ctx context.Context, name string) error
	Export() *policy.ExportFormat
	Import(ctx context.Context, data *policy.ExportFormat) error
	Ping(ctx context.Context) error
}

// PendingAdmin defines confirmation queue operations used by PendingHandler.
type PendingAdmin interface {
	List(ctx context.Context) []models.PendingAction
	Approve(ctx context.Context, id string) (*models.PendingAction, error)
	Deny(ctx context.Context, id string) (*models.PendingAction, error)
}

// AuditRepository defines audit log operations used by AuditHandler.
type AuditRepository interface {
	Query(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error)
	Stats(ctx context.Context, hours int) (*models.AuditStats, error)
	Clear(ctx context.Context) error
	Retain(ctx context.Context, days int) (int, error)
}

// BackendStatus reports the push connection state for health checks.
type BackendStatus interface {
	Connected() bool
}

// ClientCounter reports connected realtime clients.
type ClientCounter interface {
	ClientCount() int
}

var (
	_ Gateway         = (*gateway.Dispatcher)(nil)
	_ PolicyAdmin     = (*policy.Store)(nil)
	_ PendingAdmin    = (*confirm.Manager)(nil)
	_ AuditRepository = (*audit.Log)(nil)
)
