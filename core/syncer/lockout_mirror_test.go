package syncer

import (
	"context"
	"testing"
	"time"

	"roadworks-hub/config"
	"roadworks-hub/core/auth"
	"roadworks-hub/core/remote"
	"roadworks-hub/core/utils"
)

func TestRemoteReenableUnlocksLogin(t *testing.T) {
	f := newSyncFixture(t, true)
	ctx := context.Background()
	logger := utils.NewLogger()
	local := auth.NewLocalBackend(f.identities, "pepper", logger)
	p, err := local.Register(ctx, auth.RegisterRequest{Email: "re@example.com", Password: "secret1", Role: "UTILISATEUR"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	acc := f.gateway.Seed(remote.Account{Email: "re@example.com", Disabled: true}, "")
	ident, _ := f.identities.FindByUID(ctx, p.SubjectID)
	if err := f.identities.MarkSynced(ctx, ident.ID, acc.UID); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(config.TokenConfig{Secret: "test-secret-0123456789-0123456789-abcd", TTL: time.Hour, Issuer: "roadworks-hub"})
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	router := auth.NewRouter(auth.RouterDeps{
		Config:     config.AuthConfig{Mode: config.AuthModeLocal, MaxAttempts: 3, BlockSeconds: 300, DefaultRole: "UTILISATEUR"},
		Identities: f.identities,
		Local:      local,
		Tokens:     tokens,
		Logger:     logger,
	})
	login := func() auth.AuthResult {
		return router.Login(ctx, auth.LoginRequest{Email: "re@example.com", Password: "secret1"})
	}

	if _, err := f.rec.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if res := login(); res.Code != auth.CodeLocked {
		t.Fatalf("expected locked while remote disabled, got %+v", res)
	}

	_ = f.gateway.Update(ctx, acc.UID, remote.AccountUpdate{Disabled: remote.BoolPtr(false)})
	if _, err := f.rec.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if res := login(); !res.Success {
		t.Fatalf("expected login after remote re-enable, got %+v (tracker=%+v)", res, router.Lockouts())
	}
}
