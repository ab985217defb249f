// Package metrics exposes the hub's Prometheus instrumentation. The
// Recorder implements the observer hooks of the probe, the auth router and
// the reconciler; every method is safe on a nil receiver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"roadworks-hub/core/auth"
	"roadworks-hub/core/syncer"
)

const namespace = "roadhub"

var processStartedAt = time.Now().UTC()

type Recorder struct {
	registry *prometheus.Registry

	logins        *prometheus.CounterVec
	loginDuration *prometheus.HistogramVec
	online        prometheus.Gauge
	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	syncItems     *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
}

// NewRecorder builds a registry carrying the Go and process collectors,
// an uptime gauge and the hub's own series.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	_ = reg.Register(collectors.NewGoCollector())
	_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds.",
	}, func() float64 {
		return time.Since(processStartedAt).Seconds()
	}))

	r := &Recorder{
		registry: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_logins_total",
			Help:      "Login attempts by backend and result code.",
		}, []string{"backend", "code"}),
		loginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_login_duration_seconds",
			Help:      "Login latency by backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_online",
			Help:      "1 when the remote identity service was reachable at the last check.",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_checks_total",
			Help:      "Reachability checks by outcome.",
		}, []string{"result"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connectivity_check_duration_seconds",
			Help:      "Reachability check latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
		syncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Reconciled items by entity, phase and outcome.",
		}, []string{"entity", "phase", "outcome"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_phase_duration_seconds",
			Help:      "Duration of each reconciliation phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity", "phase"}),
	}
	reg.MustRegister(r.logins, r.loginDuration, r.online, r.probes, r.probeDuration, r.syncItems, r.syncDuration)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// MustRegister adds extra collectors, typically the state collectors below.
func (r *Recorder) MustRegister(cs ...prometheus.Collector) {
	if r == nil {
		return
	}
	r.registry.MustRegister(cs...)
}

func (r *Recorder) ObserveLogin(backend string, code auth.ResultCode, took time.Duration) {
	if r == nil {
		return
	}
	if backend == "" {
		backend = "none"
	}
	r.logins.WithLabelValues(backend, string(code)).Inc()
	r.loginDuration.WithLabelValues(backend).Observe(took.Seconds())
}

func (r *Recorder) ObserveConnectivity(online bool, took time.Duration) {
	if r == nil {
		return
	}
	result := "offline"
	if online {
		result = "online"
		r.online.Set(1)
	} else {
		r.online.Set(0)
	}
	r.probes.WithLabelValues(result).Inc()
	r.probeDuration.Observe(took.Seconds())
}

func (r *Recorder) ObserveSync(entity, phase string, c syncer.Counts, took time.Duration) {
	if r == nil {
		return
	}
	add := func(outcome string, n int) {
		if n > 0 {
			r.syncItems.WithLabelValues(entity, phase, outcome).Add(float64(n))
		}
	}
	add("created", c.Created)
	add("updated", c.Updated)
	add("skipped", c.Skipped)
	add("failed", c.Failed)
	r.syncDuration.WithLabelValues(entity, phase).Observe(took.Seconds())
}
