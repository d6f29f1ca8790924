package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/dbpool"
)

const (
	policyChannel     = "policy_changes"
	initialBackoff    = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 2
)

// Reloader re-reads policy after a change notification.
type Reloader interface {
	Reload(ctx context.Context) error
}

// PolicyWatcher LISTENs on the policy_changes channel and reloads the policy
// store whenever another writer updates a document.
type PolicyWatcher struct {
	log    *logrus.Logger
	pool   *dbpool.Pool
	target Reloader
}

// NewPolicyWatcher creates a watcher wired to the given pool and store.
func NewPolicyWatcher(log *logrus.Logger, pool *dbpool.Pool, target Reloader) *PolicyWatcher {
	return &PolicyWatcher{
		log:    log,
		pool:   pool,
		target: target,
	}
}

// Run blocks until ctx is cancelled, reconnecting with jittered backoff
// whenever the LISTEN connection is lost.
func (w *PolicyWatcher) Run(ctx context.Context) {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		err := w.listen(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		w.log.WithError(err).WithField("retry_in", backoff).
			Warn("policy watcher connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff)
	}
}

func (w *PolicyWatcher) listen(ctx context.Context) error {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	channel := pgx.Identifier{policyChannel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("executing LISTEN: %w", err)
	}

	w.log.WithField("channel", policyChannel).Info("policy watcher listening")

	// Changes made while disconnected were never delivered.
	if err := w.target.Reload(ctx); err != nil {
		w.log.WithError(err).Warn("policy reload after reconnect failed")
	}

	for {
		if err := conn.Conn().PgConn().Conn().SetReadDeadline(time.Now().Add(2 * time.Minute)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			return fmt.Errorf("waiting for notification: %w", err)
		}

		w.handle(ctx, n)
	}
}

func (w *PolicyWatcher) handle(ctx context.Context, n *pgconn.Notification) {
	var payload struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal([]byte(n.Payload), &payload)

	w.log.WithField("document", payload.Name).Debug("policy change notification")

	if err := w.target.Reload(ctx); err != nil {
		w.log.WithError(err).WithField("document", payload.Name).Warn("policy reload failed")
	}
}

// nextBackoff doubles the current backoff with ±25% jitter, capped at maxBackoff.
func nextBackoff(current time.Duration) time.Duration {
	next := current * backoffMultiplier
	if next > maxBackoff {
		next = maxBackoff
	}

	jitter := float64(next) * (0.75 + rand.Float64()*0.5) //nolint:gosec // jitter doesn't need crypto rand.

	return time.Duration(jitter)
}
