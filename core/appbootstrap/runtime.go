// Package appbootstrap composes the hub from configuration: local store,
// remote clients, auth router, reconciler, scheduler and HTTP server.
package appbootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"roadworks-hub/api"
	"roadworks-hub/config"
	"roadworks-hub/core/audit"
	"roadworks-hub/core/auth"
	"roadworks-hub/core/connectivity"
	"roadworks-hub/core/metrics"
	"roadworks-hub/core/rbac"
	"roadworks-hub/core/remote"
	"roadworks-hub/core/store"
	"roadworks-hub/core/syncer"
	"roadworks-hub/core/utils"
)

type Runtime struct {
	Config     *config.AppConfig
	DB         *sql.DB
	Identities store.IdentitiesStore
	Reports    store.ReportsStore
	Audit      *audit.Dispatcher
	Probe      *connectivity.Probe
	Metrics    *metrics.Recorder
	Router     *auth.Router
	Reconciler *syncer.Reconciler
	Scheduler  *syncer.Scheduler
	Server     *api.Server

	logger   *utils.Logger
	mu       sync.Mutex
	bgCancel context.CancelFunc
}

// InitRuntime opens and migrates the local store and wires every component.
// A missing or broken local store is fatal; a missing remote only disables
// the remote backend.
func InitRuntime(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*Runtime, error) {
	if err := ensureStorageDirs(cfg, logger); err != nil {
		return nil, fmt.Errorf("storage dirs: %w", err)
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("db init: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	rt, err := compose(ctx, cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return rt, nil
}

func compose(ctx context.Context, cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*Runtime, error) {
	recorder := metrics.NewRecorder()
	identities := store.NewIdentitiesStore(db)
	reports := store.NewReportsStore(db)
	dispatcher := audit.NewDispatcher(store.NewAuditStore(db), 0, logger)
	probe := connectivity.NewProbeFromConfig(cfg.Connectivity, recorder, logger)

	var gateway remote.IdentityGateway
	var database remote.Database
	clients, err := remote.Connect(ctx, cfg.Remote, logger)
	switch {
	case err == nil:
		gateway, database = clients.Gateway, clients.Database
	case errors.Is(err, remote.ErrNotConfigured):
		logger.Printf("remote not configured; local backend only")
	default:
		if cfg.Auth.Mode == config.AuthModeRemote {
			dispatcher.Close()
			return nil, fmt.Errorf("remote init: %w", err)
		}
		logger.Warnf("remote init failed, continuing local only: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(cfg.Token)
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("token issuer: %w", err)
	}
	tracker := auth.NewLockoutTracker(auth.LockoutPolicy{
		MaxAttempts:   cfg.Auth.MaxAttempts,
		BlockDuration: cfg.Auth.BlockDuration(),
		ExemptRole:    cfg.Auth.ExemptRole,
	}, nil)
	escalator := auth.NewEscalator(auth.EscalatorDeps{
		Identities:    identities,
		Gateway:       gateway,
		Database:      database,
		Online:        probe,
		Duration:      cfg.Auth.EscalationDuration(),
		MaxAttempts:   cfg.Auth.MaxAttempts,
		RemoteTimeout: cfg.Remote.Timeout,
		Audit:         dispatcher,
		Logger:        logger,
	})
	var remoteBackend auth.Backend
	if gateway != nil && database != nil {
		remoteBackend = auth.NewRemoteBackend(gateway, database, identities, cfg.Pepper, cfg.Auth.DefaultRole, logger)
	}
	router := auth.NewRouter(auth.RouterDeps{
		Config:        cfg.Auth,
		Identities:    identities,
		Local:         auth.NewLocalBackend(identities, cfg.Pepper, logger),
		Remote:        remoteBackend,
		Probe:         probe,
		Tracker:       tracker,
		Tokens:        tokens,
		Escalator:     escalator,
		Gateway:       gateway,
		Database:      database,
		Audit:         dispatcher,
		Observer:      recorder,
		RemoteTimeout: cfg.Remote.Timeout,
		Logger:        logger,
	})

	reconciler := syncer.NewReconciler(syncer.Deps{
		Config:        cfg.Sync,
		Identities:    identities,
		Reports:       reports,
		Gateway:       gateway,
		Database:      database,
		Probe:         probe,
		RemoteTimeout: cfg.Remote.Timeout,
		Pepper:        cfg.Pepper,
		DefaultRole:   cfg.Auth.DefaultRole,
		MaxAttempts:   cfg.Auth.MaxAttempts,
		Audit:         dispatcher,
		Observer:      recorder,
		Logger:        logger,
	})
	scheduler := syncer.NewScheduler(cfg.Sync, reconciler, logger)

	recorder.MustRegister(
		metrics.NewSchedulerCollector(scheduler),
		metrics.NewLockoutCollector(router),
		metrics.NewAuditCollector(dispatcher),
	)

	srv := api.NewServer(api.ServerDeps{
		Config:    cfg,
		DB:        db,
		Auth:      router,
		Sync:      reconciler,
		Scheduler: scheduler,
		Probe:     probe,
		Policy:    rbac.NewPolicy(rbac.DefaultRoles()),
		Metrics:   recorder,
		Logger:    logger,
	})
	return &Runtime{
		Config:     cfg,
		DB:         db,
		Identities: identities,
		Reports:    reports,
		Audit:      dispatcher,
		Probe:      probe,
		Metrics:    recorder,
		Router:     router,
		Reconciler: reconciler,
		Scheduler:  scheduler,
		Server:     srv,
		logger:     logger,
	}, nil
}

// StartBackground imports remote identities once when configured, then
// starts the periodic reconciler.
func (r *Runtime) StartBackground(ctx context.Context) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.bgCancel != nil {
		r.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.bgCancel = cancel
	r.mu.Unlock()

	if r.Config.Sync.ImportOnStart {
		go r.importOnStart(runCtx)
	}
	r.Scheduler.StartWithContext(runCtx)
}

func (r *Runtime) importOnStart(ctx context.Context) {
	if !r.Probe.IsOnline(ctx) {
		r.logger.Printf("startup import skipped: remote offline")
		return
	}
	counts, err := r.Reconciler.ImportIdentities(ctx)
	if err != nil {
		if !errors.Is(err, remote.ErrNotConfigured) {
			r.logger.Warnf("startup import: %v", err)
		}
		return
	}
	r.logger.Printf("startup import: created=%d updated=%d skipped=%d failed=%d", counts.Created, counts.Updated, counts.Skipped, counts.Failed)
}

func (r *Runtime) StopBackground(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	cancel := r.bgCancel
	r.bgCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.Scheduler.StopWithContext(ctx)
}

// Close flushes the audit queue and closes the database.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.Audit.Close()
	return r.DB.Close()
}
