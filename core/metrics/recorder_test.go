package metrics

import (
	"testing"
	"time"

	"roadworks-hub/core/auth"
	"roadworks-hub/core/syncer"
)

func gatherValue(t *testing.T, r *Recorder, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if !match {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestRecorderCountsLogins(t *testing.T) {
	r := NewRecorder()
	r.ObserveLogin(auth.BackendLocal, auth.CodeOK, 10*time.Millisecond)
	r.ObserveLogin(auth.BackendLocal, auth.CodeOK, 10*time.Millisecond)
	r.ObserveLogin(auth.BackendRemote, auth.CodeLocked, time.Millisecond)

	if v := gatherValue(t, r, "roadhub_auth_logins_total", map[string]string{"backend": "local", "code": "ok"}); v != 2 {
		t.Fatalf("expected 2 local ok logins, got %v", v)
	}
	if v := gatherValue(t, r, "roadhub_auth_logins_total", map[string]string{"backend": "remote", "code": "locked"}); v != 1 {
		t.Fatalf("expected 1 locked remote login, got %v", v)
	}
}

func TestRecorderTracksConnectivity(t *testing.T) {
	r := NewRecorder()
	r.ObserveConnectivity(true, time.Millisecond)
	if v := gatherValue(t, r, "roadhub_remote_online", nil); v != 1 {
		t.Fatalf("expected online gauge 1, got %v", v)
	}
	r.ObserveConnectivity(false, time.Millisecond)
	if v := gatherValue(t, r, "roadhub_remote_online", nil); v != 0 {
		t.Fatalf("expected online gauge 0, got %v", v)
	}
	if v := gatherValue(t, r, "roadhub_connectivity_checks_total", map[string]string{"result": "offline"}); v != 1 {
		t.Fatalf("expected 1 offline check, got %v", v)
	}
}

func TestRecorderSyncOutcomes(t *testing.T) {
	r := NewRecorder()
	r.ObserveSync(syncer.EntityReports, syncer.PhasePull, syncer.Counts{Created: 3, Skipped: 1}, time.Second)
	labels := map[string]string{"entity": syncer.EntityReports, "phase": syncer.PhasePull, "outcome": "created"}
	if v := gatherValue(t, r, "roadhub_sync_items_total", labels); v != 3 {
		t.Fatalf("expected 3 created, got %v", v)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveLogin("local", auth.CodeOK, 0)
	r.ObserveConnectivity(true, 0)
	r.ObserveSync("x", "y", syncer.Counts{}, 0)
	r.MustRegister()
	if r.Registry() != nil {
		t.Fatalf("nil recorder must have no registry")
	}
}

type fakeSchedulerSource struct{ stats syncer.SchedulerStats }

func (f fakeSchedulerSource) StatsSnapshot() syncer.SchedulerStats { return f.stats }

type fakeLockouts []auth.LockoutInfo

func (f fakeLockouts) Lockouts() []auth.LockoutInfo { return f }

func TestStateCollectors(t *testing.T) {
	r := NewRecorder()
	last := time.Now().UTC()
	r.MustRegister(NewSchedulerCollector(fakeSchedulerSource{stats: syncer.SchedulerStats{TicksTotal: 4, TickErrorsTotal: 1, LastTickAtUTC: &last}}))
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)
	r.MustRegister(NewLockoutCollector(fakeLockouts{
		{ID: "a@x.io", Attempts: 3, BlockedUntil: &future},
		{ID: "b@x.io", Attempts: 1},
		{ID: "c@x.io", Attempts: 3, BlockedUntil: &past},
	}))

	if v := gatherValue(t, r, "roadhub_sync_scheduler_ticks_total", nil); v != 4 {
		t.Fatalf("expected 4 ticks, got %v", v)
	}
	if v := gatherValue(t, r, "roadhub_auth_lockout_tracked", nil); v != 3 {
		t.Fatalf("expected 3 tracked, got %v", v)
	}
	if v := gatherValue(t, r, "roadhub_auth_lockout_blocked", nil); v != 1 {
		t.Fatalf("expected 1 blocked, got %v", v)
	}
}
