package auth

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type LockoutPolicy struct {
	MaxAttempts   int
	BlockDuration time.Duration
	ExemptRole    string
}

type FailureOutcome struct {
	Attempts     int
	Blocked      bool
	Crossed      bool // this failure reached the threshold
	BlockedUntil time.Time
	Exempt       bool
}

type LockoutInfo struct {
	ID           string     `json:"id"`
	Attempts     int        `json:"attempts"`
	BlockedUntil *time.Time `json:"blockedUntil,omitempty"`
}

type lockoutEntry struct {
	mu           sync.Mutex
	attempts     int
	blockedUntil time.Time
	dead         bool
}

// LockoutTracker keeps per-identifier failure counters in memory. Each
// identifier has its own lock; unrelated logins never contend.
// State is lost on restart unless re-seeded from the durable record.
type LockoutTracker struct {
	policy  LockoutPolicy
	now     func() time.Time
	entries sync.Map // string -> *lockoutEntry
}

func NewLockoutTracker(policy LockoutPolicy, now func() time.Time) *LockoutTracker {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.BlockDuration <= 0 {
		policy.BlockDuration = 5 * time.Minute
	}
	policy.ExemptRole = strings.ToUpper(strings.TrimSpace(policy.ExemptRole))
	if now == nil {
		now = time.Now
	}
	return &LockoutTracker{policy: policy, now: now}
}

func (t *LockoutTracker) Policy() LockoutPolicy { return t.policy }

func (t *LockoutTracker) IsExempt(role string) bool {
	return t.policy.ExemptRole != "" && strings.EqualFold(strings.TrimSpace(role), t.policy.ExemptRole)
}

// RecordFailure counts one failed attempt for id. The exempt role is
// checked before the counter is touched.
func (t *LockoutTracker) RecordFailure(id, role string) FailureOutcome {
	if t.IsExempt(role) {
		return FailureOutcome{Exempt: true}
	}
	var out FailureOutcome
	t.update(normalizeID(id), func(e *lockoutEntry, now time.Time) {
		if !e.blockedUntil.IsZero() && !now.Before(e.blockedUntil) {
			e.attempts = 0
			e.blockedUntil = time.Time{}
		}
		if !e.blockedUntil.IsZero() {
			out = FailureOutcome{Attempts: e.attempts, Blocked: true, BlockedUntil: e.blockedUntil}
			return
		}
		e.attempts++
		if e.attempts >= t.policy.MaxAttempts {
			e.blockedUntil = now.Add(t.policy.BlockDuration)
			out = FailureOutcome{Attempts: e.attempts, Blocked: true, Crossed: true, BlockedUntil: e.blockedUntil}
			return
		}
		out = FailureOutcome{Attempts: e.attempts}
	})
	return out
}

// RecordSuccess clears the counter and any transient block.
func (t *LockoutTracker) RecordSuccess(id string) {
	t.Reset(id)
}

// IsBlocked reports an active block. An expired block is cleared here.
func (t *LockoutTracker) IsBlocked(id string) bool {
	v, ok := t.entries.Load(normalizeID(id))
	if !ok {
		return false
	}
	e := v.(*lockoutEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || e.blockedUntil.IsZero() {
		return false
	}
	if t.now().Before(e.blockedUntil) {
		return true
	}
	e.attempts = 0
	e.blockedUntil = time.Time{}
	t.retire(normalizeID(id), e)
	return false
}

func (t *LockoutTracker) Attempts(id string) int {
	v, ok := t.entries.Load(normalizeID(id))
	if !ok {
		return 0
	}
	e := v.(*lockoutEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return 0
	}
	return e.attempts
}

func (t *LockoutTracker) Reset(id string) {
	key := normalizeID(id)
	v, ok := t.entries.Load(key)
	if !ok {
		return
	}
	e := v.(*lockoutEntry)
	e.mu.Lock()
	e.attempts = 0
	e.blockedUntil = time.Time{}
	t.retire(key, e)
	e.mu.Unlock()
}

// Known reports whether the tracker holds state for id.
func (t *LockoutTracker) Known(id string) bool {
	_, ok := t.entries.Load(normalizeID(id))
	return ok
}

// Seed rebuilds state for id from durable fields when none is held yet.
func (t *LockoutTracker) Seed(id string, attempts int, blockedUntil *time.Time) {
	if attempts <= 0 && blockedUntil == nil {
		return
	}
	t.update(normalizeID(id), func(e *lockoutEntry, now time.Time) {
		if e.attempts > 0 || !e.blockedUntil.IsZero() {
			return
		}
		e.attempts = attempts
		if blockedUntil != nil && blockedUntil.After(now) {
			e.blockedUntil = *blockedUntil
		}
	})
}

func (t *LockoutTracker) Snapshot() []LockoutInfo {
	var out []LockoutInfo
	t.entries.Range(func(k, v any) bool {
		e := v.(*lockoutEntry)
		e.mu.Lock()
		if !e.dead {
			info := LockoutInfo{ID: k.(string), Attempts: e.attempts}
			if !e.blockedUntil.IsZero() {
				until := e.blockedUntil
				info.BlockedUntil = &until
			}
			out = append(out, info)
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *LockoutTracker) update(key string, fn func(e *lockoutEntry, now time.Time)) {
	for {
		v, _ := t.entries.LoadOrStore(key, &lockoutEntry{})
		e := v.(*lockoutEntry)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		fn(e, t.now())
		if e.attempts == 0 && e.blockedUntil.IsZero() {
			t.retire(key, e)
		}
		e.mu.Unlock()
		return
	}
}

// retire must be called with e.mu held.
func (t *LockoutTracker) retire(key string, e *lockoutEntry) {
	e.dead = true
	t.entries.CompareAndDelete(key, e)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
