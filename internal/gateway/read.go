package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/clawbridge/clawbridge/internal/access"
	"github.com/clawbridge/clawbridge/internal/models"
)

// StateFilter narrows a state listing.
type StateFilter struct {
	Domain  string
	Area    string
	Compact bool
}

// compactAttributes are the attributes kept in compact listings.
var compactAttributes = []string{"friendly_name", "unit_of_measurement", "device_class"}

// VisibleStates lists the entities the caller may see, decorated with policy.
func (d *Dispatcher) VisibleStates(_ context.Context, id *Identity, f StateFilter) ([]models.ExposedState, error) {
	if !d.Allow(id) {
		return nil, models.ErrRateLimited
	}

	snap := d.policy.Snapshot()
	effective := d.effective(snap, id)

	out := make([]models.ExposedState, 0, len(effective))

	for _, s := range d.backend.States() {
		level, ok := effective[s.EntityID]
		if !ok {
			continue
		}

		if f.Domain != "" && s.Domain() != f.Domain {
			continue
		}

		if snap.Settings.FilterUnavailable && s.Unavailable() {
			continue
		}

		exposed := d.expose(s, level, snap.Annotations[s.EntityID])
		if f.Area != "" && exposed.Area != f.Area {
			continue
		}

		if f.Compact {
			compact(&exposed.State)
		}

		out = append(out, exposed)
	}

	return out, nil
}

// VisibleState returns one entity. Entities outside effective access are
// reported as not found.
func (d *Dispatcher) VisibleState(_ context.Context, id *Identity, entityID string) (*models.ExposedState, error) {
	if !d.Allow(id) {
		return nil, models.ErrRateLimited
	}

	snap := d.policy.Snapshot()

	level, ok := d.effective(snap, id)[entityID]
	if !ok {
		return nil, models.ErrNotFound
	}

	s, ok := d.backend.State(entityID)
	if !ok {
		return nil, models.ErrNotFound
	}

	exposed := d.expose(s, level, snap.Annotations[entityID])

	return &exposed, nil
}

func (d *Dispatcher) expose(s *models.State, level models.AccessLevel, annotation string) models.ExposedState {
	last, _ := d.backend.PreviousState(s.EntityID)

	return models.ExposedState{
		State:      *s,
		Access:     level,
		Annotation: annotation,
		LastState:  last,
		Area:       d.backend.Area(s.EntityID),
	}
}

func compact(s *models.State) {
	attrs := make(map[string]any, len(compactAttributes))
	for _, k := range compactAttributes {
		if v, ok := s.Attributes[k]; ok {
			attrs[k] = v
		}
	}

	s.Attributes = attrs
	s.Context = nil
}

// VisibleServices filters the backend catalog to what the caller could
// invoke: every service of a domain holding confirm or control entities,
// plus read-safe services whose targets the caller can see.
func (d *Dispatcher) VisibleServices(ctx context.Context, id *Identity) ([]models.ServiceDomain, error) {
	if !d.Allow(id) {
		return nil, models.ErrRateLimited
	}

	effective := d.effective(d.policy.Snapshot(), id)

	catalog, err := d.backend.Services(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching services: %w", err)
	}

	actionable := make(map[string]bool)
	visible := make(map[string]bool)
	for entityID, level := range effective {
		domain := models.EntityDomain(entityID)
		visible[domain] = true
		if level.AtLeast(models.AccessConfirm) {
			actionable[domain] = true
		}
	}

	out := make([]models.ServiceDomain, 0)

	for _, sd := range catalog {
		if actionable[sd.Domain] {
			out = append(out, sd)
			continue
		}

		services := make(map[string]json.RawMessage)
		for name, def := range sd.Services {
			rs, ok := access.LookupReadSafe(sd.Domain, name)
			if ok && (visible[sd.Domain] || (rs.CrossDomain && len(effective) > 0)) {
				services[name] = def
			}
		}

		if len(services) > 0 {
			out = append(out, models.ServiceDomain{Domain: sd.Domain, Services: services})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })

	return out, nil
}

// HistoryRequest selects a history window.
type HistoryRequest struct {
	Start     string
	End       string
	EntityIDs []string
}

// History fetches backend history for the requested entities the caller may
// see. Unexposed ids are dropped silently.
func (d *Dispatcher) History(ctx context.Context, id *Identity, req HistoryRequest) (json.RawMessage, error) {
	if !d.allowHistory(id) {
		d.audit.Record(ctx, models.AuditEntry{
			EventType: models.EventHistoryQuery,
			SourceIP:  id.Addr,
			KeyID:     id.KeyID(),
			Result:    models.ResultRateLimited,
			Error:     models.ErrRateLimited.Error(),
		})

		return nil, models.ErrRateLimited
	}

	if len(req.EntityIDs) == 0 {
		return nil, models.ErrFieldRequired("filter_entity_id")
	}

	effective := d.effective(d.policy.Snapshot(), id)

	var allowed []string
	for _, entityID := range req.EntityIDs {
		if _, ok := effective[entityID]; ok {
			allowed = append(allowed, entityID)
		}
	}

	if len(allowed) == 0 {
		return json.RawMessage("[]"), nil
	}

	entry := models.AuditEntry{
		EventType:  models.EventHistoryQuery,
		Parameters: map[string]any{"start": req.Start, "end": req.End, "entity_ids": allowed},
		SourceIP:   id.Addr,
		KeyID:      id.KeyID(),
	}

	data, err := d.backend.History(ctx, req.Start, req.End, allowed)
	if err != nil {
		entry.Result = models.ResultError
		entry.Error = err.Error()
		d.audit.Record(ctx, entry)

		return nil, fmt.Errorf("fetching history: %w", err)
	}

	entry.Result = models.ResultSuccess
	d.audit.Record(ctx, entry)

	return data, nil
}

// ActionStatus returns a pending action created by the same caller. Expired
// actions are returned together with ErrConfirmationExpired.
func (d *Dispatcher) ActionStatus(ctx context.Context, id *Identity, actionID string) (*models.PendingAction, error) {
	if !d.Allow(id) {
		return nil, models.ErrRateLimited
	}

	action, err := d.confirm.Get(ctx, actionID)
	if err != nil {
		return nil, err
	}

	if action.KeyID != id.KeyID() {
		return nil, models.ErrNotFound
	}

	if action.Status == models.StatusExpired {
		return action, models.ErrConfirmationExpired
	}

	return action, nil
}
