package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"roadworks-hub/config"
	"roadworks-hub/core/auth"
	"roadworks-hub/core/connectivity"
	"roadworks-hub/core/metrics"
	"roadworks-hub/core/rbac"
	"roadworks-hub/core/store"
	"roadworks-hub/core/syncer"
	"roadworks-hub/core/utils"
)

type fakeAuth struct {
	tokens      map[string]*auth.Claims
	loginResult auth.AuthResult
	lastReg     auth.RegisterRequest
	lastUpdate  string
	blocked     map[string]string
	known       map[string]bool
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		tokens: map[string]*auth.Claims{
			"manager-token": {UID: "m-1", Email: "boss@example.com", Role: rbac.RoleManager},
			"user-token":    {UID: "u-1", Email: "user@example.com", Role: rbac.RoleUser},
		},
		loginResult: auth.AuthResult{Success: true, Code: auth.CodeOK, Token: "t"},
		blocked:     map[string]string{},
		known:       map[string]bool{"u-1": true},
	}
}

func (f *fakeAuth) Login(ctx context.Context, req auth.LoginRequest) auth.AuthResult {
	return f.loginResult
}

func (f *fakeAuth) Register(ctx context.Context, req auth.RegisterRequest) auth.AuthResult {
	f.lastReg = req
	return auth.AuthResult{Success: true, Code: auth.CodeOK, Email: req.Email}
}

func (f *fakeAuth) UpdateProfile(ctx context.Context, subjectID string, upd auth.ProfileUpdate) auth.AuthResult {
	f.lastUpdate = subjectID
	return auth.AuthResult{Success: true, Code: auth.CodeOK, SubjectID: subjectID}
}

func (f *fakeAuth) Block(ctx context.Context, subjectID, actor string) bool {
	if !f.known[subjectID] {
		return false
	}
	f.blocked[subjectID] = actor
	return true
}

func (f *fakeAuth) Unblock(ctx context.Context, subjectID, actor string) bool {
	if !f.known[subjectID] {
		return false
	}
	delete(f.blocked, subjectID)
	return true
}

func (f *fakeAuth) Status(ctx context.Context) auth.Status {
	return auth.Status{Mode: config.AuthModeAuto, Backend: auth.BackendLocal}
}

func (f *fakeAuth) Lockouts() []auth.LockoutInfo {
	return []auth.LockoutInfo{{ID: "user@example.com", Attempts: 2}}
}

func (f *fakeAuth) VerifyToken(raw string) (*auth.Claims, error) {
	if c, ok := f.tokens[raw]; ok {
		return c, nil
	}
	return nil, auth.ErrTokenSignature
}

type fakeSync struct {
	forceErr error
	actor    string
}

func (f *fakeSync) ForceSync(ctx context.Context, actor string) (syncer.Result, error) {
	f.actor = actor
	return syncer.Result{Online: f.forceErr == nil}, f.forceErr
}

func (f *fakeSync) Status(ctx context.Context) (syncer.StatusReport, error) {
	return syncer.StatusReport{Identities: syncer.SyncStatus{TotalLocal: 2, UnsyncedCount: 1, SyncedCount: 1}}, nil
}

func (f *fakeSync) ImportIdentities(ctx context.Context) (syncer.Counts, error) {
	return syncer.Counts{Created: 1}, nil
}

type fakeProbe struct{ online bool }

func (p *fakeProbe) ForceCheck(ctx context.Context) bool { return p.online }
func (p *fakeProbe) State() connectivity.State {
	return connectivity.State{Online: p.online, LastChecked: time.Now()}
}

type testServer struct {
	srv  *Server
	auth *fakeAuth
	sync *fakeSync
}

func newTestServer(t *testing.T, cfg *config.AppConfig) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = &config.AppConfig{AppEnv: "dev"}
	}
	fa := newFakeAuth()
	fs := &fakeSync{}
	srv := NewServer(ServerDeps{
		Config:  cfg,
		Auth:    fa,
		Sync:    fs,
		Probe:   &fakeProbe{online: true},
		Metrics: metrics.NewRecorder(),
		Logger:  utils.NewLogger(),
	})
	return &testServer{srv: srv, auth: fa, sync: fs}
}

func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestAdminRouteRequiresToken(t *testing.T) {
	ts := newTestServer(t, nil)
	if rr := ts.do(http.MethodPost, "/api/admin/sync", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodPost, "/api/admin/sync", "forged", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rr.Code)
	}
}

func TestAdminRouteDeniesUserRole(t *testing.T) {
	ts := newTestServer(t, nil)
	if rr := ts.do(http.MethodPost, "/api/admin/users/u-1/block", "user-token", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user role, got %d", rr.Code)
	}
	if len(ts.auth.blocked) != 0 {
		t.Fatalf("block must not run for a forbidden caller")
	}
}

func TestAdminBlockAndUnblock(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(http.MethodPost, "/api/admin/users/u-1/block", "manager-token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ts.auth.blocked["u-1"] != "boss@example.com" {
		t.Fatalf("expected block recorded with actor, got %v", ts.auth.blocked)
	}
	if rr := ts.do(http.MethodPost, "/api/admin/users/u-1/unblock", "manager-token", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on unblock, got %d", rr.Code)
	}
	if _, ok := ts.auth.blocked["u-1"]; ok {
		t.Fatalf("expected unblock to clear the block")
	}
	if rr := ts.do(http.MethodPost, "/api/admin/users/ghost/block", "manager-token", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown identity, got %d", rr.Code)
	}
}

func TestLoginStatusCodes(t *testing.T) {
	ts := newTestServer(t, nil)
	cases := []struct {
		result auth.AuthResult
		want   int
	}{
		{auth.AuthResult{Success: true, Code: auth.CodeOK}, http.StatusOK},
		{auth.AuthResult{Code: auth.CodeInvalidCredentials}, http.StatusUnauthorized},
		{auth.AuthResult{Code: auth.CodeLocked}, http.StatusLocked},
		{auth.AuthResult{Code: auth.CodeUnavailable}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		ts.auth.loginResult = tc.result
		ts.srv.loginLimiter = newLimiter(loginLimiterCapacity, loginLimiterRefill)
		rr := ts.do(http.MethodPost, "/api/auth/login", "", `{"email":"a@b.io","password":"x"}`)
		if rr.Code != tc.want {
			t.Fatalf("code %s: expected %d, got %d", tc.result.Code, tc.want, rr.Code)
		}
		var got auth.AuthResult
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Code != tc.result.Code {
			t.Fatalf("expected body code %s, got %s", tc.result.Code, got.Code)
		}
	}
}

func TestLoginRejectsBadJSON(t *testing.T) {
	ts := newTestServer(t, nil)
	if rr := ts.do(http.MethodPost, "/api/auth/login", "", "{"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	ts := newTestServer(t, nil)
	var last int
	for i := 0; i < loginLimiterCapacity+1; i++ {
		last = ts.do(http.MethodPost, "/api/auth/login", "", `{"email":"a@b.io","password":"x"}`).Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d attempts, got %d", loginLimiterCapacity, last)
	}
}

func TestRegisterIgnoresRequestedRole(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(http.MethodPost, "/api/auth/register", "", `{"email":"new@b.io","password":"secret12","role":"MANAGER"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if ts.auth.lastReg.Role != "" {
		t.Fatalf("expected role stripped, got %q", ts.auth.lastReg.Role)
	}
}

func TestUpdateProfileOwnership(t *testing.T) {
	ts := newTestServer(t, nil)
	if rr := ts.do(http.MethodPatch, "/api/auth/users/m-1", "user-token", `{"prenom":"X"}`); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 editing another identity, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodPatch, "/api/auth/users/u-1", "user-token", `{"role":"MANAGER"}`); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for self role change, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodPatch, "/api/auth/users/u-1", "user-token", `{"prenom":"X"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for self edit, got %d", rr.Code)
	}
	if rr := ts.do(http.MethodPatch, "/api/auth/users/u-1", "manager-token", `{"role":"MANAGER"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for manager role change, got %d", rr.Code)
	}
	if ts.auth.lastUpdate != "u-1" {
		t.Fatalf("unexpected update target %q", ts.auth.lastUpdate)
	}
}

func TestForceSyncOffline(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.sync.forceErr = syncer.ErrOffline
	if rr := ts.do(http.MethodPost, "/api/admin/sync", "manager-token", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 offline, got %d", rr.Code)
	}
	ts.sync.forceErr = nil
	if rr := ts.do(http.MethodPost, "/api/admin/sync", "manager-token", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ts.sync.actor != "boss@example.com" {
		t.Fatalf("expected actor forwarded, got %q", ts.sync.actor)
	}
}

func TestSyncStatusForUsers(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(http.MethodGet, "/api/auth/sync/status", "user-token", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got syncer.StatusReport
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Identities.UnsyncedCount != 1 {
		t.Fatalf("unexpected status: %+v", got)
	}
}

func TestLockoutsRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(http.MethodGet, "/api/admin/lockouts", "manager-token", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "user@example.com") {
		t.Fatalf("unexpected lockouts response %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMetricsRequiresToken(t *testing.T) {
	cfg := &config.AppConfig{Observability: config.ObservabilityConfig{MetricsEnabled: true, MetricsToken: "scrape"}}
	ts := newTestServer(t, cfg)
	if rr := ts.do(http.MethodGet, "/metrics", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr := ts.do(http.MethodGet, "/metrics", "scrape", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "roadhub_uptime_seconds") {
		t.Fatalf("expected metrics body, got %d", rr.Code)
	}
}

func TestReadyzChecksLocalStore(t *testing.T) {
	ts := newTestServer(t, nil)
	if rr := ts.do(http.MethodGet, "/readyz", "", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without db, got %d", rr.Code)
	}

	db, err := store.NewDB(&config.AppConfig{DBPath: filepath.Join(t.TempDir(), "ready.db")}, utils.NewLogger())
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ts.srv.db = db
	if rr := ts.do(http.MethodGet, "/readyz", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with db, got %d", rr.Code)
	}
}

func TestLimiterRefills(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	if !l.allow("k") || !l.allow("k") {
		t.Fatalf("expected two allowed requests")
	}
	if l.allow("k") {
		t.Fatalf("expected third request denied")
	}
	now = now.Add(time.Minute)
	if !l.allow("k") {
		t.Fatalf("expected refill after window")
	}
}
