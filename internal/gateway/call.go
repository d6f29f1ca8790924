package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/access"
	"github.com/clawbridge/clawbridge/internal/confirm"
	"github.com/clawbridge/clawbridge/internal/metrics"
	"github.com/clawbridge/clawbridge/internal/models"
)

// CallRequest is a service invocation from a data-plane caller.
type CallRequest struct {
	Domain  string
	Service string
	Payload map[string]any
}

// CallResult is the outcome of an admitted call. Exactly one of Result or
// Action is set.
type CallResult struct {
	EntityIDs  []string
	Result     json.RawMessage
	Action     *models.PendingAction
	Violations []models.Violation
}

// Pending reports whether the call is waiting for confirmation.
func (r *CallResult) Pending() bool {
	return r.Action != nil
}

// Call runs a service invocation through policy and either forwards it to the
// backend or diverts it for confirmation. Every outcome is audited.
func (d *Dispatcher) Call(ctx context.Context, id *Identity, req CallRequest) (*CallResult, error) {
	base := models.AuditEntry{
		EventType:  models.EventServiceCall,
		Domain:     req.Domain,
		Service:    req.Service,
		Parameters: req.Payload,
		SourceIP:   id.Addr,
		KeyID:      id.KeyID(),
	}

	if !d.Allow(id) {
		d.deny(ctx, base, models.ResultRateLimited, models.ErrRateLimited)
		d.log.WithField("identity", id.RateKey()).Info("service call rate limited")

		return nil, models.ErrRateLimited
	}

	if req.Domain == "" || req.Service == "" {
		err := models.ErrFieldRequired("domain and service")
		d.deny(ctx, base, models.ResultDenied, err)

		return nil, err
	}

	ids, err := targetIDs(req.Payload)
	if err != nil {
		d.deny(ctx, base, models.ResultDenied, err)
		return nil, err
	}

	snap := d.policy.Snapshot()
	effective := d.effective(snap, id)
	readSafe := access.IsReadSafe(req.Domain, req.Service)
	required := access.RequiredTier(req.Domain, req.Service)
	params := maps.Clone(req.Payload)
	if params == nil {
		params = map[string]any{}
	}

	if len(ids) == 0 {
		ids = access.EntitiesInDomain(effective, req.Domain, required)
		if len(ids) == 0 {
			d.deny(ctx, base, models.ResultDenied, models.ErrNoTargets)
			return nil, models.ErrNoTargets
		}

		params["entity_id"] = ids
	}

	base.EntityID = strings.Join(ids, ",")

	for _, entityID := range ids {
		if err := checkTarget(effective, entityID, required, req.Domain, req.Service); err != nil {
			entry := base
			entry.EntityID = entityID
			d.deny(ctx, entry, models.ResultDenied, err)

			return nil, err
		}
	}

	var violations []models.Violation

	if !readSafe {
		now := d.now()
		for _, entityID := range ids {
			if !access.WithinSchedule(snap, entityID, now) {
				entry := base
				entry.EntityID = entityID
				d.deny(ctx, entry, models.ResultDenied, models.ErrOutsideSchedule)

				return nil, models.ErrOutsideSchedule
			}
		}

		for _, entityID := range ids {
			var v []models.Violation
			params, v = access.Clamp(snap.Constraints[entityID], params)
			if len(v) == 0 {
				continue
			}

			violations = append(violations, v...)
			d.audit.Record(ctx, models.AuditEntry{
				EventType:  models.EventConstraintClamped,
				EntityID:   entityID,
				Domain:     req.Domain,
				Service:    req.Service,
				Parameters: map[string]any{"violations": v},
				SourceIP:   id.Addr,
				KeyID:      id.KeyID(),
				Result:     models.ResultClamped,
			})
		}

		if primary, ok := firstAtTier(effective, ids, models.AccessConfirm); ok {
			return d.divert(ctx, id, req, primary, ids, params, violations)
		}
	}

	return d.forward(ctx, base, req, ids, params, violations)
}

// divert hands a confirm-tier call to the confirmation manager.
func (d *Dispatcher) divert(
	ctx context.Context, id *Identity, req CallRequest, primary string,
	ids []string, params map[string]any, violations []models.Violation,
) (*CallResult, error) {
	action, err := d.confirm.Create(ctx, confirm.Request{
		Domain:   req.Domain,
		Service:  req.Service,
		EntityID: primary,
		Payload:  params,
		SourceIP: id.Addr,
		KeyID:    id.KeyID(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating confirmation: %w", err)
	}

	metrics.Decisions.WithLabelValues(string(models.ResultPending)).Inc()

	return &CallResult{EntityIDs: ids, Action: action, Violations: violations}, nil
}

// forward executes the call on the backend and records the outcome.
func (d *Dispatcher) forward(
	ctx context.Context, base models.AuditEntry, req CallRequest,
	ids []string, params map[string]any, violations []models.Violation,
) (*CallResult, error) {
	start := d.now()
	result, err := d.backend.CallService(ctx, req.Domain, req.Service, params)
	latency := float64(d.now().Sub(start)) / float64(time.Millisecond)

	entry := base
	entry.Parameters = params
	entry.ResponseTimeMS = &latency

	if err != nil {
		entry.Result = models.ResultError
		entry.Error = err.Error()
		d.audit.Record(ctx, entry)
		metrics.Decisions.WithLabelValues(string(models.ResultError)).Inc()
		d.log.WithError(err).WithFields(logrus.Fields{
			"domain":  req.Domain,
			"service": req.Service,
		}).Warn("backend service call failed")

		return nil, err
	}

	entry.Result = models.ResultSuccess
	d.audit.Record(ctx, entry)
	metrics.Decisions.WithLabelValues(string(models.ResultSuccess)).Inc()

	return &CallResult{EntityIDs: ids, Result: result, Violations: violations}, nil
}

func (d *Dispatcher) deny(ctx context.Context, entry models.AuditEntry, result models.AuditResult, err error) {
	entry.Result = result
	entry.Error = err.Error()
	d.audit.Record(ctx, entry)
	metrics.Decisions.WithLabelValues(string(result)).Inc()
}

// checkTarget verifies one entity against the caller's effective access.
func checkTarget(effective map[string]models.AccessLevel, entityID string, required models.AccessLevel, domain, service string) error {
	level, ok := effective[entityID]
	if !ok {
		return models.ErrEntityNotExposed
	}

	if !level.AtLeast(required) {
		return models.ErrReadOnly
	}

	if !access.DomainMatches(models.EntityDomain(entityID), domain, service) {
		return models.ErrDomainMismatch
	}

	return nil
}

func firstAtTier(effective map[string]models.AccessLevel, ids []string, tier models.AccessLevel) (string, bool) {
	for _, id := range ids {
		if effective[id] == tier {
			return id, true
		}
	}

	return "", false
}

var errEntityIDType = errors.New("entity_id must be a string or a list of strings")

// targetIDs extracts entity_id from a payload as a string, a comma-separated
// string or a list of strings.
func targetIDs(payload map[string]any) ([]string, error) {
	raw, ok := payload["entity_id"]
	if !ok || raw == nil {
		return nil, nil
	}

	var ids []string

	switch v := raw.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
	case []string:
		ids = append(ids, v...)
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %w", models.ErrInvalidRequest, errEntityIDType)
			}
			ids = append(ids, s)
		}
	default:
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidRequest, errEntityIDType)
	}

	return ids, nil
}
