// Package store provides the Postgres-backed policy document backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/dbpool"
	"github.com/clawbridge/clawbridge/internal/policy"
)

const defaultQueryTimeout = 30 * time.Second

// PolicyStore implements policy.Backend on the policy_documents table.
type PolicyStore struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

// NewPolicyStore creates a PolicyStore.
func NewPolicyStore(pool *dbpool.Pool, log *logrus.Logger) *PolicyStore {
	return &PolicyStore{pool: pool, log: log}
}

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// Load implements policy.Backend.
func (s *PolicyStore) Load(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM policy_documents WHERE name = $1`, name,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, policy.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading policy document %s: %w", name, err)
	}

	return body, nil
}

// Save implements policy.Backend.
func (s *PolicyStore) Save(ctx context.Context, name string, data []byte) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO policy_documents (name, body, updated_at)
		 VALUES ($1, $2::jsonb, now())
		 ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
		name, string(data),
	)
	if err != nil {
		return fmt.Errorf("saving policy document %s: %w", name, err)
	}

	s.log.WithField("document", name).Debug("policy document saved")

	return nil
}
