package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"roadworks-hub/config"
	"roadworks-hub/core/utils"
)

// Runner is the unit of work the scheduler drives.
type Runner interface {
	RunOnce(ctx context.Context) (Result, error)
}

type Scheduler struct {
	cfg    config.SyncConfig
	runner Runner
	logger *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	obs     schedulerObs
}

type SchedulerStats struct {
	TicksTotal      uint64     `json:"ticks_total"`
	TickErrorsTotal uint64     `json:"tick_errors_total"`
	OfflineSkips    uint64     `json:"offline_skips_total"`
	LastTickAtUTC   *time.Time `json:"last_tick_at_utc,omitempty"`
}

type schedulerObs struct {
	ticks      atomic.Uint64
	tickErrors atomic.Uint64
	offline    atomic.Uint64
	lastTickNs atomic.Int64
}

func NewScheduler(cfg config.SyncConfig, runner Runner, logger *utils.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, runner: runner, logger: logger}
}

func (s *Scheduler) Start() {
	s.StartWithContext(context.Background())
}

func (s *Scheduler) StartWithContext(ctx context.Context) {
	if s == nil || s.runner == nil || !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	runCtx, cancel := context.WithCancel(ctx)
	cronLogger := cron.PrintfLogger(s.logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.tick(runCtx) }); err != nil {
		cancel()
		s.logger.Errorf("sync scheduler: %v", err)
		return
	}
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
	s.logger.Printf("sync scheduler started interval=%s", interval)
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.runner.RunOnce(ctx)
	s.obs.ticks.Add(1)
	s.obs.lastTickNs.Store(time.Now().UTC().UnixNano())
	if err != nil {
		s.obs.tickErrors.Add(1)
	}
	if !res.Online {
		s.obs.offline.Add(1)
	}
}

func (s *Scheduler) Stop() {
	_ = s.StopWithContext(context.Background())
}

// StopWithContext stops scheduling and waits for a running tick, or for
// ctx to end.
func (s *Scheduler) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.running || s.cron == nil {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.running = false
	s.mu.Unlock()
	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) StatsSnapshot() SchedulerStats {
	if s == nil {
		return SchedulerStats{}
	}
	ns := s.obs.lastTickNs.Load()
	var last *time.Time
	if ns > 0 {
		t := time.Unix(0, ns).UTC()
		last = &t
	}
	return SchedulerStats{
		TicksTotal:      s.obs.ticks.Load(),
		TickErrorsTotal: s.obs.tickErrors.Load(),
		OfflineSkips:    s.obs.offline.Load(),
		LastTickAtUTC:   last,
	}
}
