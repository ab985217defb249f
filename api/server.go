package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"roadworks-hub/config"
	"roadworks-hub/core/auth"
	"roadworks-hub/core/connectivity"
	"roadworks-hub/core/metrics"
	"roadworks-hub/core/rbac"
	"roadworks-hub/core/syncer"
	"roadworks-hub/core/utils"
)

// AuthService is the surface of auth.Router used by the handlers.
type AuthService interface {
	Login(ctx context.Context, req auth.LoginRequest) auth.AuthResult
	Register(ctx context.Context, req auth.RegisterRequest) auth.AuthResult
	UpdateProfile(ctx context.Context, subjectID string, upd auth.ProfileUpdate) auth.AuthResult
	Block(ctx context.Context, subjectID, actor string) bool
	Unblock(ctx context.Context, subjectID, actor string) bool
	Status(ctx context.Context) auth.Status
	Lockouts() []auth.LockoutInfo
	VerifyToken(raw string) (*auth.Claims, error)
}

// SyncService is the surface of syncer.Reconciler used by the handlers.
type SyncService interface {
	ForceSync(ctx context.Context, actor string) (syncer.Result, error)
	Status(ctx context.Context) (syncer.StatusReport, error)
	ImportIdentities(ctx context.Context) (syncer.Counts, error)
}

type SchedulerStats interface {
	StatsSnapshot() syncer.SchedulerStats
	Running() bool
}

type ConnectivityChecker interface {
	ForceCheck(ctx context.Context) bool
	State() connectivity.State
}

type ServerDeps struct {
	Config    *config.AppConfig
	DB        *sql.DB
	Auth      AuthService
	Sync      SyncService
	Scheduler SchedulerStats
	Probe     ConnectivityChecker
	Policy    *rbac.Policy
	Metrics   *metrics.Recorder
	Logger    *utils.Logger
}

type Server struct {
	cfg          *config.AppConfig
	router       chi.Router
	httpServer   *http.Server
	logger       *utils.Logger
	db           *sql.DB
	auth         AuthService
	sync         SyncService
	scheduler    SchedulerStats
	probe        ConnectivityChecker
	policy       *rbac.Policy
	metrics      *metrics.Recorder
	loginLimiter *requestLimiter
}

func NewServer(deps ServerDeps) *Server {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	policy := deps.Policy
	if policy == nil {
		policy = rbac.NewPolicy(rbac.DefaultRoles())
	}
	s := &Server{
		cfg:          cfg,
		router:       chi.NewRouter(),
		logger:       deps.Logger,
		db:           deps.DB,
		auth:         deps.Auth,
		sync:         deps.Sync,
		scheduler:    deps.Scheduler,
		probe:        deps.Probe,
		policy:       policy,
		metrics:      deps.Metrics,
		loginLimiter: newLimiter(loginLimiterCapacity, loginLimiterRefill),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	if s.cfg.TLSEnabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
