package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clawbridge/clawbridge/internal/api"
	"github.com/clawbridge/clawbridge/internal/audit"
	"github.com/clawbridge/clawbridge/internal/backend"
	"github.com/clawbridge/clawbridge/internal/config"
	"github.com/clawbridge/clawbridge/internal/confirm"
	"github.com/clawbridge/clawbridge/internal/db"
	"github.com/clawbridge/clawbridge/internal/dbpool"
	"github.com/clawbridge/clawbridge/internal/gateway"
	"github.com/clawbridge/clawbridge/internal/policy"
	"github.com/clawbridge/clawbridge/internal/ratelimit"
	"github.com/clawbridge/clawbridge/internal/security"
	"github.com/clawbridge/clawbridge/internal/store"
	"github.com/clawbridge/clawbridge/internal/ws"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"version":      config.Version,
		"policy_store": cfg.PolicyStore,
		"backend":      cfg.BackendURL,
	}).Info("starting clawbridge")

	g, gctx := errgroup.WithContext(ctx)

	policyBackend, pool, err := openPolicyBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	policies := policy.NewStore(policyBackend, log)
	if err := policies.Load(ctx); err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}

	if pool != nil {
		watcher := db.NewPolicyWatcher(log, pool, policies)
		g.Go(func() error {
			watcher.Run(gctx)
			return nil
		})
	}

	auditLog, err := audit.New(cfg.AuditFile, log, audit.WithEnabled(func() bool {
		return policies.Settings().AuditEnabled
	}))
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	g.Go(func() error {
		auditLog.RunRetention(gctx, func() int { return policies.Settings().AuditRetentionDays })
		return nil
	})

	limiter := ratelimit.New(gctx)
	guard := security.NewBruteForceGuard(gctx, log)

	client := backend.NewClient(cfg.BackendURL, cfg.BackendToken.Value())
	connector := backend.NewConnector(client, cfg.BackendWSURL, cfg.BackendToken.Value(), log,
		backend.WithRefreshInterval(func() time.Duration {
			return time.Duration(policies.Settings().RefreshInterval) * time.Second
		}),
	)

	confirmations := confirm.NewManager(connector, connector, auditLog, policies.Settings, log)
	dispatcher := gateway.New(connector, policies, confirmations, auditLog, limiter, guard, log)
	hub := ws.NewHub(dispatcher, log)

	// Subscribers start before the connector so no early event is missed.
	g.Go(func() error {
		confirmations.Run(gctx, connector.Actions)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx, connector.StateChanges)
		return nil
	})

	connector.Start(gctx)

	router := api.NewRouter(gctx, &api.RouterDeps{
		Log:             log,
		Gateway:         dispatcher,
		Policy:          policies,
		Pending:         confirmations,
		Audit:           auditLog,
		Backend:         connector,
		Hub:             hub,
		Limiter:         limiter,
		Guard:           guard,
		ManagementToken: cfg.ManagementToken.Value(),
		CORSOrigins:     cfg.CORSOrigins,
		Version:         config.Version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hub.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http server shutdown incomplete")
		}
		connector.Stop()

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("stopped")

	return nil
}

// openPolicyBackend returns the configured policy document store. The pool is
// nil unless the store is Postgres.
func openPolicyBackend(ctx context.Context, cfg *config.Config, log *logrus.Logger) (policy.Backend, *dbpool.Pool, error) {
	if cfg.PolicyStore != config.PolicyStorePostgres {
		fb, err := policy.NewFileBackend(cfg.PolicyDir, policy.Format(cfg.PolicyFormat))
		if err != nil {
			return nil, nil, err
		}

		return fb, nil, nil
	}

	pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value())
	if err != nil {
		return nil, nil, err
	}

	if err := db.RunMigrations(ctx, pool, log); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return store.NewPolicyStore(pool, log), pool, nil
}
