// Package syncer reconciles identities and reports between the local store
// and the remote service. Reconciliation is best-effort and keyed by the
// remote key recorded on each local row.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"roadworks-hub/config"
	"roadworks-hub/core/audit"
	"roadworks-hub/core/auth"
	"roadworks-hub/core/remote"
	"roadworks-hub/core/store"
	"roadworks-hub/core/utils"
)

// ErrOffline is returned by ForceSync when the remote service is unreachable.
var ErrOffline = errors.New("remote service unreachable")

// remoteBlockHorizon is the local block applied while the remote account
// stays disabled.
const remoteBlockHorizon = 100 * 365 * 24 * time.Hour

type Deps struct {
	Config        config.SyncConfig
	Identities    store.IdentitiesStore
	Reports       store.ReportsStore
	Gateway       remote.IdentityGateway
	Database      remote.Database
	Probe         OnlineChecker
	RemoteTimeout time.Duration
	Pepper        string
	DefaultRole   string
	MaxAttempts   int
	Audit         audit.Sink
	Observer      Observer
	Now           func() time.Time
	Logger        *utils.Logger
}

type Reconciler struct {
	cfg         config.SyncConfig
	identities  store.IdentitiesStore
	reports     store.ReportsStore
	gateway     remote.IdentityGateway
	database    remote.Database
	probe       OnlineChecker
	timeout     time.Duration
	pepper      string
	defaultRole string
	maxAttempts int
	audit       audit.Sink
	observer    Observer
	now         func() time.Time
	logger      *utils.Logger

	// mu serializes runs so a forced sync never overlaps a scheduled tick.
	mu sync.Mutex
}

func NewReconciler(deps Deps) *Reconciler {
	if deps.RemoteTimeout <= 0 {
		deps.RemoteTimeout = 5 * time.Second
	}
	if deps.Config.PullTimeout <= 0 {
		deps.Config.PullTimeout = 10 * time.Second
	}
	if deps.Config.UploadsDir == "" {
		deps.Config.UploadsDir = "uploads/signalements"
	}
	if deps.DefaultRole == "" {
		deps.DefaultRole = "UTILISATEUR"
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 3
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Reconciler{
		cfg:         deps.Config,
		identities:  deps.Identities,
		reports:     deps.Reports,
		gateway:     deps.Gateway,
		database:    deps.Database,
		probe:       deps.Probe,
		timeout:     deps.RemoteTimeout,
		pepper:      deps.Pepper,
		defaultRole: deps.DefaultRole,
		maxAttempts: deps.MaxAttempts,
		audit:       deps.Audit,
		observer:    deps.Observer,
		now:         deps.Now,
		logger:      deps.Logger,
	}
}

// RunOnce is the scheduled entry point. It does nothing while offline.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	online := r.probe != nil && r.probe.IsOnline(ctx)
	return r.run(ctx, online)
}

// ForceSync re-checks connectivity, then runs the same phases as RunOnce
// and returns their counts.
func (r *Reconciler) ForceSync(ctx context.Context, actor string) (Result, error) {
	online := r.probe != nil && r.probe.ForceCheck(ctx)
	if !online {
		return Result{StartedAt: r.now().UTC()}, ErrOffline
	}
	res, err := r.run(ctx, online)
	r.audit.Record("sync.force", "sync", "", actor, fmt.Sprintf("identities=%+v reports=%+v", res.Identities, res.Reports))
	return res, err
}

func (r *Reconciler) run(ctx context.Context, online bool) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := Result{Online: online, StartedAt: r.now().UTC()}
	if !online || r.gateway == nil || r.database == nil {
		return res, nil
	}
	start := time.Now()
	var errs []error
	// push before pull: a stale remote copy must not overwrite local edits
	// made since the previous tick
	phases := []struct {
		entity, phase string
		into          *Counts
		fn            func(context.Context) (Counts, error)
	}{
		{EntityIdentities, PhasePush, &res.Identities.Push, r.pushIdentities},
		{EntityReports, PhasePush, &res.Reports.Push, r.pushReports},
		{EntityReports, PhasePull, &res.Reports.Pull, r.pullReports},
		{EntityIdentities, PhasePull, &res.Identities.Pull, r.mirrorDisabled},
	}
	for _, p := range phases {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		t0 := time.Now()
		c, err := p.fn(ctx)
		p.into.add(c)
		if r.observer != nil {
			r.observer.ObserveSync(p.entity, p.phase, c, time.Since(t0))
		}
		if err != nil {
			r.logger.Errorf("sync %s %s: %v", p.entity, p.phase, err)
			errs = append(errs, fmt.Errorf("%s %s: %w", p.entity, p.phase, err))
		}
	}
	res.Took = time.Since(start)
	if n := res.Identities.Push.Total() + res.Reports.Push.Total() + res.Reports.Pull.Created + res.Reports.Pull.Updated + res.Identities.Pull.Updated; n > 0 {
		r.logger.Printf("sync: identities push=%+v mirror=%+v reports push=%+v pull=%+v in %s",
			res.Identities.Push, res.Identities.Pull, res.Reports.Push, res.Reports.Pull, res.Took)
	}
	return res, errors.Join(errs...)
}

func (r *Reconciler) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Reconciler) pushIdentities(ctx context.Context) (Counts, error) {
	var c Counts
	pending, err := r.identities.ListUnsynced(ctx)
	if err != nil {
		return c, err
	}
	for i := range pending {
		created, err := r.pushIdentity(ctx, &pending[i])
		switch {
		case err != nil:
			c.Failed++
			r.logger.Warnf("sync: push identity %s: %v", pending[i].Email, err)
		case created:
			c.Created++
		default:
			c.Updated++
		}
	}
	return c, nil
}

// pushIdentity links ident to a remote account (existing by email, or new
// without a password), then overwrites the remote profile and claims.
func (r *Reconciler) pushIdentity(ctx context.Context, ident *store.Identity) (bool, error) {
	rctx, cancel := r.remoteCtx(ctx)
	defer cancel()
	created := false
	remoteID := ident.RemoteID
	if remoteID != "" {
		if _, err := r.gateway.GetByUID(rctx, remoteID); errors.Is(err, remote.ErrNotFound) {
			remoteID = ""
		} else if err != nil {
			return false, err
		}
	}
	if remoteID == "" {
		acc, err := r.gateway.GetByEmail(rctx, ident.Email)
		switch {
		case errors.Is(err, remote.ErrNotFound):
			acc, err = r.gateway.CreateAccount(rctx, ident.Email, "", ident.DisplayName())
			if err != nil {
				return false, err
			}
			created = true
		case err != nil:
			return false, err
		}
		remoteID = acc.UID
	}
	name := ident.DisplayName()
	upd := remote.AccountUpdate{DisplayName: &name, Disabled: remote.BoolPtr(mirroredDisabled(ident, r.now()))}
	if err := r.gateway.Update(rctx, remoteID, upd); err != nil {
		return created, err
	}
	claims := map[string]any{"role": ident.Role, "numEtu": ident.NumEtu, "localUid": ident.UID}
	if err := r.gateway.SetCustomClaims(rctx, remoteID, claims); err != nil {
		return created, err
	}
	projection := auth.UserProjection(ident.Email, ident.FirstName, ident.LastName, ident.NumEtu, ident.Role, remoteID, ident.UID, ident.CreatedAt, activeBlock(ident, r.now()))
	if err := r.database.Write(rctx, remote.JoinPath(remote.UsersPath, remoteID), projection); err != nil {
		return created, err
	}
	if err := r.identities.MarkSynced(ctx, ident.ID, remoteID); err != nil {
		return created, err
	}
	ident.RemoteID = remoteID
	ident.SyncedToRemote = true
	return created, nil
}

// mirroredDisabled is the remote disabled flag implied by the local record.
// Transient lockouts are not mirrored.
func mirroredDisabled(ident *store.Identity, now time.Time) bool {
	if !ident.IsBlocked(now) {
		return false
	}
	switch ident.BlockSource {
	case store.BlockEscalated, store.BlockAdmin, store.BlockRemote:
		return true
	default:
		return false
	}
}

func activeBlock(ident *store.Identity, now time.Time) *time.Time {
	if ident.IsBlocked(now) {
		return ident.BlockedUntil
	}
	return nil
}

func (r *Reconciler) pushReports(ctx context.Context) (Counts, error) {
	var c Counts
	pending, err := r.reports.ListUnsynced(ctx)
	if err != nil {
		return c, err
	}
	for i := range pending {
		rep := &pending[i]
		key := rep.RemoteID
		isNew := key == ""
		if isNew {
			key = strconv.FormatInt(rep.ID, 10)
		}
		rctx, cancel := r.remoteCtx(ctx)
		err := r.database.Write(rctx, remote.JoinPath(remote.ReportsPath, key), toRemoteReport(rep, key))
		cancel()
		if err == nil {
			err = r.reports.MarkSynced(ctx, rep.ID, key)
		}
		switch {
		case err != nil:
			c.Failed++
			r.logger.Warnf("sync: push report %d: %v", rep.ID, err)
		case isNew:
			c.Created++
		default:
			c.Updated++
		}
	}
	return c, nil
}

func (r *Reconciler) pullReports(ctx context.Context) (Counts, error) {
	var c Counts
	pctx, cancel := context.WithTimeout(ctx, r.cfg.PullTimeout)
	nodes, err := r.database.ReadSubtree(pctx, remote.ReportsPath)
	cancel()
	if err != nil {
		return c, err
	}
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		outcome, err := r.pullReport(ctx, key, nodes[key])
		if err != nil {
			c.Failed++
			r.logger.Warnf("sync: pull report %s: %v", key, err)
			continue
		}
		switch outcome {
		case outcomeCreated:
			c.Created++
		case outcomeUpdated:
			c.Updated++
		default:
			c.Skipped++
		}
	}
	return c, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpdated
)

func (r *Reconciler) pullReport(ctx context.Context, key string, raw json.RawMessage) (outcome, error) {
	var rr remoteReport
	if err := json.Unmarshal(raw, &rr); err != nil {
		return outcomeSkipped, fmt.Errorf("decode: %w", err)
	}
	if rr.FirebaseKey != "" {
		key = rr.FirebaseKey
	}
	local, err := r.matchReport(ctx, key, rr)
	if err != nil {
		return outcomeSkipped, err
	}
	if local != nil {
		if local.SyncedToRemote && local.RemoteID == key {
			if local.PhotoURL == "" && r.attachPhoto(ctx, local, rr.Photos) {
				return outcomeUpdated, nil
			}
			return outcomeSkipped, nil
		}
		if err := r.reports.MarkSynced(ctx, local.ID, key); err != nil {
			return outcomeSkipped, err
		}
		return outcomeUpdated, nil
	}
	rep := rr.toLocal(key, r.now().UTC())
	if _, err := r.reports.Create(ctx, rep); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}
	r.attachPhoto(ctx, rep, rr.Photos)
	r.audit.Record("sync.report.pulled", "report", strconv.FormatInt(rep.ID, 10), "sync", "remote="+key)
	return outcomeCreated, nil
}

// attachPhoto stores the first inlined photo of a pulled report. A failure
// leaves photo_url empty and the next pull tries again.
func (r *Reconciler) attachPhoto(ctx context.Context, rep *store.Report, photos []remotePhoto) bool {
	if len(photos) == 0 {
		return false
	}
	url, err := savePhoto(r.cfg.UploadsDir, rep.ID, photos[0])
	if err != nil {
		r.logger.Warnf("sync: photo for report %d: %v", rep.ID, err)
		return false
	}
	rep.PhotoURL = url
	if err := r.reports.Update(ctx, rep); err != nil {
		r.logger.Warnf("sync: store photo url for report %d: %v", rep.ID, err)
		rep.PhotoURL = ""
		return false
	}
	return true
}

// matchReport finds the local row for a remote record: by remote key first,
// then by the numeric id the record was pushed with.
func (r *Reconciler) matchReport(ctx context.Context, key string, rr remoteReport) (*store.Report, error) {
	local, err := r.reports.FindByRemoteID(ctx, key)
	if err != nil || local != nil {
		return local, err
	}
	id, ok := rr.localID()
	if !ok {
		return nil, nil
	}
	local, err = r.reports.Get(ctx, id)
	if err != nil || local == nil {
		return nil, err
	}
	if local.RemoteID != "" && local.RemoteID != key {
		// same numeric id, different record
		return nil, nil
	}
	return local, nil
}

// mirrorDisabled applies the remote disabled flag to synced local
// identities. Disabling installs a remote-sourced block unless an admin or
// escalated block is already in place; enabling clears remote-sourced
// blocks only.
func (r *Reconciler) mirrorDisabled(ctx context.Context) (Counts, error) {
	var c Counts
	rctx, cancel := context.WithTimeout(ctx, r.cfg.PullTimeout)
	accounts, err := r.gateway.ListAll(rctx)
	cancel()
	if err != nil {
		return c, err
	}
	byUID := make(map[string]remote.Account, len(accounts))
	for _, acc := range accounts {
		byUID[acc.UID] = acc
	}
	locals, err := r.identities.List(ctx)
	if err != nil {
		return c, err
	}
	now := r.now()
	for i := range locals {
		ident := &locals[i]
		if ident.RemoteID == "" || !ident.SyncedToRemote {
			continue
		}
		acc, ok := byUID[ident.RemoteID]
		if !ok {
			c.Skipped++
			continue
		}
		changed, err := r.applyRemoteDisabled(ctx, ident, acc.Disabled, now)
		switch {
		case err != nil:
			c.Failed++
			r.logger.Warnf("sync: mirror disabled for %s: %v", ident.Email, err)
		case changed:
			c.Updated++
		default:
			c.Skipped++
		}
	}
	return c, nil
}

func (r *Reconciler) applyRemoteDisabled(ctx context.Context, ident *store.Identity, disabled bool, now time.Time) (bool, error) {
	blocked := ident.IsBlocked(now)
	if disabled {
		if blocked && ident.BlockSource != store.BlockLockout {
			return false, nil
		}
		attempts := ident.FailedAttempts
		if attempts < r.maxAttempts {
			attempts = r.maxAttempts
		}
		until := now.Add(remoteBlockHorizon).UTC()
		if err := r.identities.SetLockout(ctx, ident.ID, attempts, &until, store.BlockRemote); err != nil {
			return false, err
		}
		r.audit.Record("sync.identity.disabled", "identity", ident.UID, "sync", "source=remote")
		return true, nil
	}
	if ident.BlockSource != store.BlockRemote || ident.BlockedUntil == nil {
		return false, nil
	}
	if err := r.identities.SetLockout(ctx, ident.ID, 0, nil, store.BlockNone); err != nil {
		return false, err
	}
	r.audit.Record("sync.identity.enabled", "identity", ident.UID, "sync", "source=remote")
	return true, nil
}

// ImportIdentities creates local shadows for every remote account not yet
// known locally and links unlinked local rows that share an email.
func (r *Reconciler) ImportIdentities(ctx context.Context) (Counts, error) {
	var c Counts
	if r.gateway == nil {
		return c, remote.ErrNotConfigured
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rctx, cancel := context.WithTimeout(ctx, r.cfg.PullTimeout)
	accounts, err := r.gateway.ListAll(rctx)
	cancel()
	if err != nil {
		return c, err
	}
	for _, acc := range accounts {
		out, err := r.importAccount(ctx, acc)
		switch {
		case err != nil:
			c.Failed++
			r.logger.Warnf("sync: import %s: %v", acc.Email, err)
		case out == outcomeCreated:
			c.Created++
		case out == outcomeUpdated:
			c.Updated++
		default:
			c.Skipped++
		}
	}
	if r.observer != nil {
		r.observer.ObserveSync(EntityIdentities, "import", c, 0)
	}
	if c.Created+c.Updated > 0 {
		r.logger.Printf("sync: imported identities %+v", c)
	}
	return c, nil
}

func (r *Reconciler) importAccount(ctx context.Context, acc remote.Account) (outcome, error) {
	if acc.Email == "" {
		return outcomeSkipped, nil
	}
	if existing, err := r.identities.FindByRemoteID(ctx, acc.UID); err != nil || existing != nil {
		return outcomeSkipped, err
	}
	existing, err := r.identities.FindByEmail(ctx, acc.Email)
	if err != nil {
		return outcomeSkipped, err
	}
	if existing != nil {
		if existing.RemoteID != "" {
			return outcomeSkipped, nil
		}
		// local edits stay pending; only the link is recorded
		existing.RemoteID = acc.UID
		if err := r.identities.Update(ctx, existing); err != nil {
			return outcomeSkipped, err
		}
		return outcomeUpdated, nil
	}
	ph, err := auth.PlaceholderCredential(r.pepper)
	if err != nil {
		return outcomeSkipped, err
	}
	first, last := auth.SplitDisplayName(acc.DisplayName)
	role := acc.ClaimString("role")
	if role == "" {
		role = r.defaultRole
	}
	ident := &store.Identity{
		UID:            utils.NewUID(),
		Email:          acc.Email,
		PasswordHash:   ph.Hash,
		PasswordSalt:   ph.Salt,
		FirstName:      first,
		LastName:       last,
		NumEtu:         acc.ClaimString("numEtu"),
		Role:           role,
		RemoteID:       acc.UID,
		SyncedToRemote: true,
	}
	if acc.Disabled {
		until := r.now().Add(remoteBlockHorizon).UTC()
		ident.FailedAttempts = r.maxAttempts
		ident.BlockedUntil = &until
		ident.BlockSource = store.BlockRemote
	}
	if _, err := r.identities.Create(ctx, ident); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}
	r.audit.Record("sync.identity.imported", "identity", ident.UID, "sync", "remote="+acc.UID)
	return outcomeCreated, nil
}

func (r *Reconciler) Status(ctx context.Context) (StatusReport, error) {
	online := r.probe != nil && r.probe.IsOnline(ctx)
	var out StatusReport
	total, unsynced, err := r.identities.Counts(ctx)
	if err != nil {
		return out, err
	}
	out.Identities = SyncStatus{TotalLocal: total, UnsyncedCount: unsynced, SyncedCount: total - unsynced, Online: online}
	total, unsynced, err = r.reports.Counts(ctx)
	if err != nil {
		return out, err
	}
	out.Reports = SyncStatus{TotalLocal: total, UnsyncedCount: unsynced, SyncedCount: total - unsynced, Online: online}
	return out, nil
}
