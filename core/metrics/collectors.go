package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"roadworks-hub/core/auth"
	"roadworks-hub/core/syncer"
)

type SchedulerSource interface {
	StatsSnapshot() syncer.SchedulerStats
}

type schedulerCollector struct {
	src SchedulerSource

	ticksTotalDesc      *prometheus.Desc
	tickErrorsTotalDesc *prometheus.Desc
	offlineSkipsDesc    *prometheus.Desc
	lastTickDesc        *prometheus.Desc
}

func NewSchedulerCollector(src SchedulerSource) prometheus.Collector {
	return &schedulerCollector{
		src: src,
		ticksTotalDesc: prometheus.NewDesc(
			namespace+"_sync_scheduler_ticks_total",
			"Total number of sync scheduler ticks.",
			nil, nil,
		),
		tickErrorsTotalDesc: prometheus.NewDesc(
			namespace+"_sync_scheduler_tick_errors_total",
			"Total number of sync scheduler ticks that returned an error.",
			nil, nil,
		),
		offlineSkipsDesc: prometheus.NewDesc(
			namespace+"_sync_scheduler_offline_skips_total",
			"Ticks skipped because the remote was unreachable.",
			nil, nil,
		),
		lastTickDesc: prometheus.NewDesc(
			namespace+"_sync_scheduler_last_tick_timestamp",
			"Unix timestamp of the last sync scheduler tick.",
			nil, nil,
		),
	}
}

func (c *schedulerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ticksTotalDesc
	ch <- c.tickErrorsTotalDesc
	ch <- c.offlineSkipsDesc
	ch <- c.lastTickDesc
}

func (c *schedulerCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.src == nil {
		return
	}
	s := c.src.StatsSnapshot()
	ch <- prometheus.MustNewConstMetric(c.ticksTotalDesc, prometheus.CounterValue, float64(s.TicksTotal))
	ch <- prometheus.MustNewConstMetric(c.tickErrorsTotalDesc, prometheus.CounterValue, float64(s.TickErrorsTotal))
	ch <- prometheus.MustNewConstMetric(c.offlineSkipsDesc, prometheus.CounterValue, float64(s.OfflineSkips))
	if s.LastTickAtUTC != nil {
		ch <- prometheus.MustNewConstMetric(c.lastTickDesc, prometheus.GaugeValue, float64(s.LastTickAtUTC.UTC().Unix()))
	}
}

type LockoutSource interface {
	Lockouts() []auth.LockoutInfo
}

type lockoutCollector struct {
	src LockoutSource
	now func() time.Time

	trackedDesc *prometheus.Desc
	blockedDesc *prometheus.Desc
}

// NewLockoutCollector reports how many identifiers the in-memory tracker
// holds and how many of them are currently blocked.
func NewLockoutCollector(src LockoutSource) prometheus.Collector {
	return &lockoutCollector{
		src: src,
		now: time.Now,
		trackedDesc: prometheus.NewDesc(
			namespace+"_auth_lockout_tracked",
			"Identifiers with a live failure counter.",
			nil, nil,
		),
		blockedDesc: prometheus.NewDesc(
			namespace+"_auth_lockout_blocked",
			"Identifiers currently blocked.",
			nil, nil,
		),
	}
}

func (c *lockoutCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.trackedDesc
	ch <- c.blockedDesc
}

func (c *lockoutCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.src == nil {
		return
	}
	items := c.src.Lockouts()
	now := c.now()
	blocked := 0
	for _, it := range items {
		if it.BlockedUntil != nil && it.BlockedUntil.After(now) {
			blocked++
		}
	}
	ch <- prometheus.MustNewConstMetric(c.trackedDesc, prometheus.GaugeValue, float64(len(items)))
	ch <- prometheus.MustNewConstMetric(c.blockedDesc, prometheus.GaugeValue, float64(blocked))
}

type AuditSource interface {
	Dropped() uint64
	Failed() uint64
}

type auditCollector struct {
	src AuditSource

	droppedDesc *prometheus.Desc
	failedDesc  *prometheus.Desc
}

func NewAuditCollector(src AuditSource) prometheus.Collector {
	return &auditCollector{
		src: src,
		droppedDesc: prometheus.NewDesc(
			namespace+"_audit_dropped_total",
			"Audit records dropped because the buffer was full.",
			nil, nil,
		),
		failedDesc: prometheus.NewDesc(
			namespace+"_audit_write_failures_total",
			"Audit records that could not be persisted.",
			nil, nil,
		),
	}
}

func (c *auditCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.droppedDesc
	ch <- c.failedDesc
}

func (c *auditCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.src == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(c.src.Dropped()))
	ch <- prometheus.MustNewConstMetric(c.failedDesc, prometheus.CounterValue, float64(c.src.Failed()))
}
