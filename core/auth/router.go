package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"roadworks-hub/config"
	"roadworks-hub/core/audit"
	"roadworks-hub/core/remote"
	"roadworks-hub/core/store"
	"roadworks-hub/core/utils"
)

// adminBlockHorizon stands in for "until an administrator unblocks".
const adminBlockHorizon = 100 * 365 * 24 * time.Hour

type Observer interface {
	ObserveLogin(backend string, code ResultCode, took time.Duration)
}

type RouterDeps struct {
	Config        config.AuthConfig
	Identities    store.IdentitiesStore
	Local         Backend
	Remote        Backend // nil when the remote service is not configured
	Probe         OnlineChecker
	Tracker       *LockoutTracker
	Tokens        *TokenIssuer
	Escalator     *Escalator
	Gateway       remote.IdentityGateway
	Database      remote.Database
	Audit         audit.Sink
	Observer      Observer
	Now           func() time.Time
	RemoteTimeout time.Duration
	Logger        *utils.Logger
}

// Router picks a backend per call and folds both backends' outcomes into
// AuthResult. Lockout state is tracked by email whichever backend served.
type Router struct {
	cfg        config.AuthConfig
	identities store.IdentitiesStore
	local      Backend
	remote     Backend
	probe      OnlineChecker
	tracker    *LockoutTracker
	tokens     *TokenIssuer
	escalator  *Escalator
	mirror     remoteMirror
	audit      audit.Sink
	observer   Observer
	now        func() time.Time
	logger     *utils.Logger
}

func NewRouter(deps RouterDeps) *Router {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.RemoteTimeout <= 0 {
		deps.RemoteTimeout = 5 * time.Second
	}
	if deps.Tracker == nil {
		deps.Tracker = NewLockoutTracker(LockoutPolicy{
			MaxAttempts:   deps.Config.MaxAttempts,
			BlockDuration: deps.Config.BlockDuration(),
			ExemptRole:    deps.Config.ExemptRole,
		}, deps.Now)
	}
	if deps.Config.DefaultRole == "" {
		deps.Config.DefaultRole = "UTILISATEUR"
	}
	return &Router{
		cfg:        deps.Config,
		identities: deps.Identities,
		local:      deps.Local,
		remote:     deps.Remote,
		probe:      deps.Probe,
		tracker:    deps.Tracker,
		tokens:     deps.Tokens,
		escalator:  deps.Escalator,
		audit:      deps.Audit,
		observer:   deps.Observer,
		now:        deps.Now,
		logger:     deps.Logger,
		mirror: remoteMirror{
			identities: deps.Identities,
			gateway:    deps.Gateway,
			database:   deps.Database,
			online:     deps.Probe,
			timeout:    deps.RemoteTimeout,
			logger:     deps.Logger,
		},
	}
}

func (r *Router) Tracker() *LockoutTracker { return r.tracker }

func (r *Router) online(ctx context.Context) bool {
	return r.probe != nil && r.probe.IsOnline(ctx)
}

// backendFor is evaluated on every call.
func (r *Router) backendFor(ctx context.Context) Backend {
	switch r.cfg.Mode {
	case config.AuthModeLocal:
		return r.local
	case config.AuthModeRemote:
		if r.remote != nil {
			return r.remote
		}
		return r.local
	default:
		if r.remote != nil && r.online(ctx) {
			return r.remote
		}
		return r.local
	}
}

// fallback returns the local backend when an auto-mode remote call failed
// on connectivity. The probe cache is refreshed so the next call routes
// without paying the remote timeout again.
func (r *Router) fallback(ctx context.Context, used Backend, err error) (Backend, bool) {
	if r.cfg.Mode != config.AuthModeAuto || used != r.remote || !errors.Is(err, ErrUnavailable) {
		return nil, false
	}
	if r.probe != nil {
		r.probe.ForceCheck(ctx)
	}
	return r.local, true
}

func (r *Router) Login(ctx context.Context, req LoginRequest) AuthResult {
	start := time.Now()
	res := r.login(ctx, req)
	if r.observer != nil {
		r.observer.ObserveLogin(res.Backend, res.Code, time.Since(start))
	}
	return res
}

func (r *Router) login(ctx context.Context, req LoginRequest) AuthResult {
	email := utils.NormalizeEmail(req.Email)
	if err := utils.ValidateEmail(email); err != nil || req.Password == "" {
		return failure(CodeInvalidRequest, "", "email and password are required")
	}
	ident, err := r.identities.FindByEmail(ctx, email)
	if err != nil {
		r.logger.Errorf("auth: login lookup %s: %v", email, err)
		ident = nil
	}
	now := r.now()
	if ident != nil {
		r.syncDurableLockout(ctx, ident, now)
	}
	if r.tracker.IsBlocked(email) || ident.IsBlocked(now) {
		r.audit.Record("auth.login.locked", "identity", email, email, "")
		return failure(CodeLocked, "", "account is temporarily or administratively blocked")
	}

	backend := r.backendFor(ctx)
	p, err := backend.Authenticate(ctx, email, req.Password)
	if err != nil {
		if fb, ok := r.fallback(ctx, backend, err); ok {
			r.logger.Warnf("auth: remote login unavailable for %s, using local: %v", email, err)
			backend = fb
			p, err = backend.Authenticate(ctx, email, req.Password)
		}
	}
	if err != nil {
		return r.loginFailed(ctx, backend, email, ident, err)
	}

	r.tracker.RecordSuccess(email)
	if ident != nil && (ident.FailedAttempts > 0 || ident.BlockSource == store.BlockLockout) {
		if err := r.identities.SetLockout(ctx, ident.ID, 0, nil, store.BlockNone); err != nil {
			r.logger.Warnf("auth: reset lockout for %s: %v", email, err)
		}
	}
	if p.Role == "" {
		p.Role = r.cfg.DefaultRole
	}
	res := r.issue(p, backend.Name(), CodeOK)
	if res.Success {
		r.audit.Record("auth.login", "identity", p.SubjectID, email, "backend="+backend.Name())
	}
	return res
}

// syncDurableLockout reconciles the tracker with the stored record. An
// expired durable block is cleared in the store first.
func (r *Router) syncDurableLockout(ctx context.Context, ident *store.Identity, now time.Time) {
	if ident.BlockedUntil != nil && !ident.IsBlocked(now) {
		if err := r.identities.SetLockout(ctx, ident.ID, 0, nil, store.BlockNone); err != nil {
			r.logger.Warnf("auth: clear expired block for %s: %v", ident.Email, err)
		}
		ident.FailedAttempts = 0
		ident.BlockedUntil = nil
		ident.BlockSource = store.BlockNone
		return
	}
	if r.tracker.Known(ident.Email) {
		return
	}
	// Only transient lockout state lives in the tracker. Admin, escalated
	// and remote blocks are read from the record on every login.
	switch ident.BlockSource {
	case store.BlockNone:
		r.tracker.Seed(ident.Email, ident.FailedAttempts, nil)
	case store.BlockLockout:
		r.tracker.Seed(ident.Email, ident.FailedAttempts, ident.BlockedUntil)
	}
}

func (r *Router) loginFailed(ctx context.Context, backend Backend, email string, ident *store.Identity, err error) AuthResult {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		role := r.roleFor(ctx, backend, email, ident)
		out := r.tracker.RecordFailure(email, role)
		r.audit.Record("auth.login.failed", "identity", email, email, "backend="+backend.Name())
		if out.Exempt {
			return failure(CodeInvalidCredentials, backend.Name(), "invalid credentials")
		}
		if ident != nil {
			var until *time.Time
			source := store.BlockNone
			if out.Blocked {
				u := out.BlockedUntil.UTC()
				until, source = &u, store.BlockLockout
			}
			if err := r.identities.SetLockout(ctx, ident.ID, out.Attempts, until, source); err != nil {
				r.logger.Warnf("auth: persist lockout for %s: %v", email, err)
			}
			if out.Crossed && r.cfg.Escalate && r.escalator != nil {
				if _, err := r.escalator.Escalate(ctx, ident, out.Attempts); err != nil {
					r.logger.Errorf("auth: escalate %s: %v", email, err)
				}
			}
		}
		return failure(CodeInvalidCredentials, backend.Name(), "invalid credentials")
	case errors.Is(err, ErrAccountLocked):
		return failure(CodeLocked, backend.Name(), "account is temporarily or administratively blocked")
	default:
		r.logger.Warnf("auth: login via %s for %s: %v", backend.Name(), email, err)
		return failure(CodeUnavailable, backend.Name(), "authentication backend unavailable")
	}
}

func (r *Router) roleFor(ctx context.Context, backend Backend, email string, ident *store.Identity) string {
	if ident != nil {
		return ident.Role
	}
	p, err := backend.Lookup(ctx, email)
	if err != nil || p == nil {
		return ""
	}
	return p.Role
}

func (r *Router) Register(ctx context.Context, req RegisterRequest) AuthResult {
	req.Email = utils.NormalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.NumEtu = strings.TrimSpace(req.NumEtu)
	req.Role = strings.ToUpper(strings.TrimSpace(req.Role))
	if req.Role == "" {
		req.Role = r.cfg.DefaultRole
	}
	if err := utils.ValidateEmail(req.Email); err != nil {
		return failure(CodeInvalidRequest, "", err.Error())
	}
	if err := utils.ValidatePassword(req.Password); err != nil {
		return failure(CodeInvalidRequest, "", err.Error())
	}
	if existing, err := r.identities.FindByEmail(ctx, req.Email); err == nil && existing != nil {
		return failure(CodeDuplicate, "", "email already registered")
	}

	backend := r.backendFor(ctx)
	p, err := backend.Register(ctx, req)
	if err != nil {
		if fb, ok := r.fallback(ctx, backend, err); ok {
			r.logger.Warnf("auth: remote register unavailable for %s, using local: %v", req.Email, err)
			backend = fb
			p, err = backend.Register(ctx, req)
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			return failure(CodeDuplicate, backend.Name(), "email already registered")
		case errors.Is(err, ErrUnavailable):
			r.logger.Warnf("auth: register via %s for %s: %v", backend.Name(), req.Email, err)
			return failure(CodeUnavailable, backend.Name(), "registration backend unavailable")
		default:
			r.logger.Errorf("auth: register via %s for %s: %v", backend.Name(), req.Email, err)
			return failure(CodeUnavailable, backend.Name(), "registration failed")
		}
	}
	r.audit.Record("auth.register", "identity", p.SubjectID, req.Email, "backend="+backend.Name())
	return r.issue(p, backend.Name(), CodeOK)
}

// UpdateProfile prefers the local record when one exists for subjectID
// (local uid or linked remote id).
func (r *Router) UpdateProfile(ctx context.Context, subjectID string, upd ProfileUpdate) AuthResult {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" || upd.Empty() {
		return failure(CodeInvalidRequest, "", "nothing to update")
	}
	ident, err := r.resolve(ctx, subjectID)
	if err != nil {
		r.logger.Errorf("auth: update lookup %s: %v", subjectID, err)
		return failure(CodeUnavailable, "", "profile update failed")
	}
	var backend Backend
	target := subjectID
	switch {
	case ident != nil:
		backend, target = r.local, ident.UID
	case r.remote != nil && r.cfg.Mode != config.AuthModeLocal && r.online(ctx):
		backend = r.remote
	case r.remote != nil && r.cfg.Mode != config.AuthModeLocal:
		return failure(CodeUnavailable, BackendRemote, "remote service unreachable")
	default:
		return failure(CodeNotFound, "", "identity not found")
	}
	p, err := backend.UpdateProfile(ctx, target, upd)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return failure(CodeNotFound, backend.Name(), "identity not found")
		default:
			r.logger.Warnf("auth: update via %s for %s: %v", backend.Name(), subjectID, err)
			return failure(CodeUnavailable, backend.Name(), "profile update failed")
		}
	}
	r.audit.Record("auth.profile.update", "identity", p.SubjectID, p.Email, "backend="+backend.Name())
	return AuthResult{Success: true, Code: CodeOK, SubjectID: p.SubjectID, Email: p.Email, Role: p.Role, Backend: backend.Name()}
}

// Block applies an administrative block locally and mirrors it to the
// remote account. It fails only when no local record can be updated.
func (r *Router) Block(ctx context.Context, subjectID, actor string) bool {
	ident, err := r.resolve(ctx, subjectID)
	if err != nil || ident == nil {
		r.logger.Warnf("auth: block %s: not found (%v)", subjectID, err)
		return false
	}
	attempts := ident.FailedAttempts
	if attempts < r.tracker.Policy().MaxAttempts {
		attempts = r.tracker.Policy().MaxAttempts
	}
	until := r.now().Add(adminBlockHorizon).UTC()
	if err := r.identities.SetLockout(ctx, ident.ID, attempts, &until, store.BlockAdmin); err != nil {
		r.logger.Errorf("auth: block %s: %v", ident.Email, err)
		return false
	}
	r.tracker.Reset(ident.Email)
	if !r.mirror.disabled(ctx, ident, true, &until) && ident.RemoteID != "" {
		r.logger.Warnf("auth: block %s applied locally only", ident.Email)
	}
	r.audit.Record("auth.block", "identity", ident.UID, actor, "")
	return true
}

func (r *Router) Unblock(ctx context.Context, subjectID, actor string) bool {
	ident, err := r.resolve(ctx, subjectID)
	if err != nil || ident == nil {
		r.logger.Warnf("auth: unblock %s: not found (%v)", subjectID, err)
		return false
	}
	if err := r.identities.SetLockout(ctx, ident.ID, 0, nil, store.BlockNone); err != nil {
		r.logger.Errorf("auth: unblock %s: %v", ident.Email, err)
		return false
	}
	r.tracker.Reset(ident.Email)
	if !r.mirror.disabled(ctx, ident, false, nil) && ident.RemoteID != "" {
		r.logger.Warnf("auth: unblock %s applied locally only", ident.Email)
	}
	r.audit.Record("auth.unblock", "identity", ident.UID, actor, "")
	return true
}

func (r *Router) resolve(ctx context.Context, subjectID string) (*store.Identity, error) {
	ident, err := r.identities.FindByUID(ctx, subjectID)
	if err != nil || ident != nil {
		return ident, err
	}
	return r.identities.FindByRemoteID(ctx, subjectID)
}

func (r *Router) Status(ctx context.Context) Status {
	backend := r.backendFor(ctx)
	return Status{
		Mode:             r.cfg.Mode,
		Online:           r.online(ctx),
		Backend:          backend.Name(),
		RemoteConfigured: r.remote != nil,
	}
}

func (r *Router) Lockouts() []LockoutInfo {
	return r.tracker.Snapshot()
}

// VerifyToken returns the claims of a valid token.
func (r *Router) VerifyToken(raw string) (*Claims, error) {
	claims, err := r.tokens.Verify(raw)
	if err != nil {
		r.logger.Debugf("auth: token rejected: %v", err)
		return nil, err
	}
	return claims, nil
}

func (r *Router) issue(p *Principal, backend string, code ResultCode) AuthResult {
	token, expires, err := r.tokens.Issue(p.SubjectID, p.Email, p.Role)
	if err != nil {
		r.logger.Errorf("auth: issue token for %s: %v", p.Email, err)
		return failure(CodeUnavailable, backend, "token issuance failed")
	}
	return AuthResult{
		Success:   true,
		Code:      code,
		SubjectID: p.SubjectID,
		Email:     p.Email,
		Role:      p.Role,
		Token:     token,
		ExpiresAt: &expires,
		Backend:   backend,
	}
}

func failure(code ResultCode, backend, msg string) AuthResult {
	return AuthResult{Success: false, Code: code, Backend: backend, Error: msg}
}
