package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/db"
	"github.com/clawbridge/clawbridge/internal/dbpool"
	"github.com/clawbridge/clawbridge/internal/models"
	"github.com/clawbridge/clawbridge/internal/policy"
	"github.com/clawbridge/clawbridge/internal/store"
)

// testEnv holds shared test infrastructure (single pool across all tests).
type testEnv struct {
	pool *dbpool.Pool
	log  *logrus.Logger
}

var sharedEnv *testEnv

func getTestEnv(t *testing.T) *testEnv {
	t.Helper()

	if sharedEnv != nil {
		return sharedEnv
	}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()

	pool, err := dbpool.NewPool(ctx, dbURL)
	if err != nil {
		t.Fatalf("connecting to test DB: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	if err := db.RunMigrations(ctx, pool, log); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	sharedEnv = &testEnv{pool: pool, log: log}

	return sharedEnv
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestPolicyStore_MissingDocument(t *testing.T) {
	env := getTestEnv(t)
	s := store.NewPolicyStore(env.pool, env.log)

	_, err := s.Load(context.Background(), uniqueName("missing"))
	if !errors.Is(err, policy.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestPolicyStore_SaveOverwrites(t *testing.T) {
	env := getTestEnv(t)
	s := store.NewPolicyStore(env.pool, env.log)
	ctx := context.Background()
	name := uniqueName("doc")

	t.Cleanup(func() {
		env.pool.Exec(context.Background(), `DELETE FROM policy_documents WHERE name = $1`, name)
	})

	if err := s.Save(ctx, name, []byte(`{"version":1,"data":{"a":1}}`)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.Save(ctx, name, []byte(`{"version":1,"data":{"a":2}}`)); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.Load(ctx, name)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if string(got) != `{"data": {"a": 2}, "version": 1}` {
		t.Errorf("unexpected body %s", got)
	}
}

func TestPolicyStore_BacksPolicyStore(t *testing.T) {
	env := getTestEnv(t)
	ctx := context.Background()

	_, err := env.pool.Exec(ctx, `DELETE FROM policy_documents`)
	if err != nil {
		t.Fatalf("resetting table: %v", err)
	}

	ps := policy.NewStore(store.NewPolicyStore(env.pool, env.log), env.log)
	if err := ps.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := ps.SetEntityAccess(ctx, "light.kitchen", models.AccessConfirm); err != nil {
		t.Fatalf("SetEntityAccess: %v", err)
	}

	reloaded := policy.NewStore(store.NewPolicyStore(env.pool, env.log), env.log)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if reloaded.Snapshot().Entities["light.kitchen"] != models.AccessConfirm {
		t.Errorf("entity access not persisted through postgres: %v", reloaded.Snapshot().Entities)
	}
}
