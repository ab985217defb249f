package auth

import (
	"context"
	"time"

	"roadworks-hub/core/audit"
	"roadworks-hub/core/remote"
	"roadworks-hub/core/store"
	"roadworks-hub/core/utils"
)

// Escalator turns a crossed lockout threshold into a durable block on the
// identity record, mirrored to the remote account when it is linked.
type Escalator struct {
	identities  store.IdentitiesStore
	mirror      remoteMirror
	duration    time.Duration
	maxAttempts int
	now         func() time.Time
	audit       audit.Sink
	logger      *utils.Logger
}

type EscalatorDeps struct {
	Identities    store.IdentitiesStore
	Gateway       remote.IdentityGateway
	Database      remote.Database
	Online        OnlineChecker
	Duration      time.Duration
	MaxAttempts   int
	RemoteTimeout time.Duration
	Now           func() time.Time
	Audit         audit.Sink
	Logger        *utils.Logger
}

func NewEscalator(deps EscalatorDeps) *Escalator {
	if deps.Duration <= 0 {
		deps.Duration = 365 * 24 * time.Hour
	}
	if deps.RemoteTimeout <= 0 {
		deps.RemoteTimeout = 5 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	return &Escalator{
		identities:  deps.Identities,
		duration:    deps.Duration,
		maxAttempts: deps.MaxAttempts,
		now:         deps.Now,
		audit:       deps.Audit,
		logger:      deps.Logger,
		mirror: remoteMirror{
			identities: deps.Identities,
			gateway:    deps.Gateway,
			database:   deps.Database,
			online:     deps.Online,
			timeout:    deps.RemoteTimeout,
			logger:     deps.Logger,
		},
	}
}

// Escalate applies the long block to ident. It is a no-op when an
// escalated or administrative block is already active. The returned bool
// reports whether a new block was written.
func (e *Escalator) Escalate(ctx context.Context, ident *store.Identity, attempts int) (bool, error) {
	if e == nil || ident == nil {
		return false, nil
	}
	now := e.now()
	if ident.IsBlocked(now) && (ident.BlockSource == store.BlockEscalated || ident.BlockSource == store.BlockAdmin) {
		return false, nil
	}
	if attempts < e.maxAttempts {
		attempts = e.maxAttempts
	}
	until := now.Add(e.duration).UTC()
	if err := e.identities.SetLockout(ctx, ident.ID, attempts, &until, store.BlockEscalated); err != nil {
		return false, err
	}
	ident.FailedAttempts = attempts
	ident.BlockedUntil = &until
	ident.BlockSource = store.BlockEscalated
	e.logger.Warnf("auth: escalated lockout for %s until %s", ident.Email, until.Format(time.RFC3339))
	e.audit.Record("auth.lockout.escalated", "identity", ident.UID, ident.Email, "until="+until.Format(time.RFC3339))
	e.mirror.disabled(ctx, ident, true, &until)
	return true, nil
}

// remoteMirror pushes block changes to the linked remote account and its
// users/<uid> projection. Failures leave the identity unsynced so the next
// push retries it; the local write is never rolled back.
type remoteMirror struct {
	identities store.IdentitiesStore
	gateway    remote.IdentityGateway
	database   remote.Database
	online     OnlineChecker
	timeout    time.Duration
	logger     *utils.Logger
}

func (m remoteMirror) disabled(ctx context.Context, ident *store.Identity, disabled bool, blockedUntil *time.Time) bool {
	if m.gateway == nil || ident.RemoteID == "" {
		return false
	}
	if m.online != nil && !m.online.IsOnline(ctx) {
		m.markUnsynced(ctx, ident)
		return false
	}
	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.gateway.Update(rctx, ident.RemoteID, remote.AccountUpdate{Disabled: remote.BoolPtr(disabled)}); err != nil {
		m.logger.Warnf("auth: remote mirror disabled=%t for %s failed: %v", disabled, ident.Email, err)
		m.markUnsynced(ctx, ident)
		return false
	}
	if m.database == nil {
		m.markUnsynced(ctx, ident)
		return true
	}
	var until any
	if blockedUntil != nil {
		until = blockedUntil.UTC().Format(time.RFC3339)
	}
	path := remote.JoinPath(remote.UsersPath, ident.RemoteID)
	if err := m.database.Update(rctx, path, map[string]any{"blockedUntil": until}); err != nil {
		m.logger.Warnf("auth: remote projection blockedUntil for %s failed: %v", ident.Email, err)
		m.markUnsynced(ctx, ident)
		return false
	}
	return true
}

func (m remoteMirror) markUnsynced(ctx context.Context, ident *store.Identity) {
	if err := m.identities.MarkUnsynced(ctx, ident.ID); err != nil {
		m.logger.Errorf("auth: mark unsynced %s: %v", ident.Email, err)
	}
	ident.SyncedToRemote = false
}
