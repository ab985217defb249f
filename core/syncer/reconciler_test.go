package syncer

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"roadworks-hub/config"
	"roadworks-hub/core/remote"
	"roadworks-hub/core/remote/remotetest"
	"roadworks-hub/core/store"
	"roadworks-hub/core/utils"
)

type fakeProbe struct {
	mu     sync.Mutex
	online bool
}

func (p *fakeProbe) IsOnline(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *fakeProbe) ForceCheck(ctx context.Context) bool { return p.IsOnline(ctx) }

type syncFixture struct {
	rec        *Reconciler
	identities store.IdentitiesStore
	reports    store.ReportsStore
	gateway    *remotetest.Gateway
	database   *remotetest.Database
	probe      *fakeProbe
	uploads    string
}

func newSyncFixture(t *testing.T, online bool) *syncFixture {
	t.Helper()
	dir := t.TempDir()
	logger := utils.NewLogger()
	db, err := store.NewDB(&config.AppConfig{DBPath: filepath.Join(dir, "sync.db")}, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	f := &syncFixture{
		identities: store.NewIdentitiesStore(db),
		reports:    store.NewReportsStore(db),
		gateway:    remotetest.NewGateway(),
		database:   remotetest.NewDatabase(),
		probe:      &fakeProbe{online: online},
		uploads:    filepath.Join(dir, "uploads"),
	}
	f.rec = NewReconciler(Deps{
		Config:      config.SyncConfig{Enabled: true, PullTimeout: time.Second, UploadsDir: f.uploads},
		Identities:  f.identities,
		Reports:     f.reports,
		Gateway:     f.gateway,
		Database:    f.database,
		Probe:       f.probe,
		Pepper:      "pepper",
		DefaultRole: "UTILISATEUR",
		MaxAttempts: 3,
		Logger:      logger,
	})
	return f
}

func (f *syncFixture) addReport(t *testing.T, title string) *store.Report {
	t.Helper()
	rep := &store.Report{Title: title, Latitude: -18.91, Longitude: 47.52, UserEmail: "owner@example.com"}
	if _, err := f.reports.Create(context.Background(), rep); err != nil {
		t.Fatalf("create report: %v", err)
	}
	return rep
}

func (f *syncFixture) addIdentity(t *testing.T, email string) *store.Identity {
	t.Helper()
	ident := &store.Identity{UID: utils.NewUID(), Email: email, FirstName: "Soa", LastName: "Rabe", Role: "UTILISATEUR"}
	if _, err := f.identities.Create(context.Background(), ident); err != nil {
		t.Fatalf("create identity: %v", err)
	}
	return ident
}

// addLinked creates a synced local identity linked to a seeded remote account.
func (f *syncFixture) addLinked(t *testing.T, email string, disabled bool) (*store.Identity, *remote.Account) {
	t.Helper()
	acc := f.gateway.Seed(remote.Account{Email: email, Disabled: disabled}, "")
	ident := f.addIdentity(t, email)
	if err := f.identities.MarkSynced(context.Background(), ident.ID, acc.UID); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	ident.RemoteID = acc.UID
	return ident, acc
}

func TestPushReportsIsIdempotent(t *testing.T) {
	f := newSyncFixture(t, true)
	rep := f.addReport(t, "Nid de poule")
	ctx := context.Background()

	res, err := f.rec.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Reports.Push.Created != 1 {
		t.Fatalf("expected one pushed report, got %+v", res.Reports.Push)
	}
	writes := f.database.Calls("Write")
	if f.database.Node("signalements/"+strconv.FormatInt(rep.ID, 10)) == nil {
		t.Fatalf("expected remote node for report")
	}

	res, err = f.rec.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Reports.Push.Total() != 0 || f.database.Calls("Write") != writes {
		t.Fatalf("second push must not write, got %+v writes=%d", res.Reports.Push, f.database.Calls("Write"))
	}
}

func TestPushThenPullIsRecognized(t *testing.T) {
	f := newSyncFixture(t, true)
	f.addReport(t, "Route coupée")
	ctx := context.Background()
	res, err := f.rec.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Reports.Pull.Created != 0 || res.Reports.Pull.Skipped != 1 {
		t.Fatalf("pushed record must be matched on pull, got %+v", res.Reports.Pull)
	}
	all, _ := f.reports.List(ctx)
	if len(all) != 1 {
		t.Fatalf("expected a single local report, got %d", len(all))
	}
}

func TestPullIsIdempotentAndSavesPhoto(t *testing.T) {
	f := newSyncFixture(t, true)
	pixels := base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))
	_ = f.database.Put("signalements/-Nx01", map[string]any{
		"title":     "Affaissement",
		"latitude":  -18.9,
		"longitude": 47.5,
		"status":    "en_cours",
		"userEmail": "Mobile@Example.com",
		"createdAt": "2026-01-02T03:04:05Z",
		"photos":    []map[string]any{{"pixelData": pixels, "mimeType": "image/png"}},
	})
	ctx := context.Background()

	res, err := f.rec.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Reports.Pull.Created != 1 {
		t.Fatalf("expected one created, got %+v", res.Reports.Pull)
	}
	res, _ = f.rec.RunOnce(ctx)
	if res.Reports.Pull.Created != 0 || res.Reports.Pull.Skipped != 1 {
		t.Fatalf("second pull must skip, got %+v", res.Reports.Pull)
	}
	got, err := f.reports.FindByRemoteID(ctx, "-Nx01")
	if err != nil || got == nil {
		t.Fatalf("expected pulled report: %v", err)
	}
	if !got.SyncedToRemote || got.Status != "EN_COURS" || got.UserEmail != "mobile@example.com" {
		t.Fatalf("unexpected pulled report: %+v", got)
	}
	if got.CreatedAt.Year() != 2026 || got.CreatedAt.Month() != time.January {
		t.Fatalf("expected remote creation time, got %s", got.CreatedAt)
	}
	if !strings.HasPrefix(got.PhotoURL, photoURLPrefix) || !strings.HasSuffix(got.PhotoURL, ".png") {
		t.Fatalf("unexpected photo url: %q", got.PhotoURL)
	}
	if _, err := os.Stat(filepath.Join(f.uploads, strings.TrimPrefix(got.PhotoURL, photoURLPrefix))); err != nil {
		t.Fatalf("photo file missing: %v", err)
	}
	all, _ := f.reports.List(ctx)
	if len(all) != 1 {
		t.Fatalf("expected one local report, got %d", len(all))
	}
}

func TestPullRetriesFailedPhoto(t *testing.T) {
	f := newSyncFixture(t, true)
	pixels := base64.StdEncoding.EncodeToString([]byte("\xff\xd8 fake"))
	_ = f.database.Put("signalements/-Nx02", map[string]any{
		"title":     "Fissure",
		"latitude":  -18.9,
		"longitude": 47.5,
		"photos":    []map[string]any{{"pixelData": pixels, "mimeType": "image/jpeg"}},
	})
	// a plain file where the uploads dir should be makes the first save fail
	if err := os.WriteFile(f.uploads, []byte("x"), 0o644); err != nil {
		t.Fatalf("block uploads dir: %v", err)
	}
	ctx := context.Background()
	res, err := f.rec.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Reports.Pull.Created != 1 {
		t.Fatalf("expected report created without photo, got %+v", res.Reports.Pull)
	}
	got, _ := f.reports.FindByRemoteID(ctx, "-Nx02")
	if got == nil || got.PhotoURL != "" {
		t.Fatalf("expected report without photo, got %+v", got)
	}

	if err := os.Remove(f.uploads); err != nil {
		t.Fatalf("unblock uploads dir: %v", err)
	}
	res, err = f.rec.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Reports.Pull.Updated != 1 {
		t.Fatalf("expected photo attached on retry, got %+v", res.Reports.Pull)
	}
	got, _ = f.reports.FindByRemoteID(ctx, "-Nx02")
	if !strings.HasSuffix(got.PhotoURL, ".jpg") || !got.SyncedToRemote {
		t.Fatalf("unexpected report after retry: %+v", got)
	}
	if res, _ := f.rec.RunOnce(ctx); res.Reports.Pull.Skipped != 1 {
		t.Fatalf("third pull must skip, got %+v", res.Reports.Pull)
	}
}

func TestPullMatchesByNumericID(t *testing.T) {
	f := newSyncFixture(t, true)
	rep := f.addReport(t, "Pont fragile")
	f.database.FailOn("Write", errors.New("write refused"))
	_ = f.database.Put("signalements/-Kmobile", map[string]any{"id": rep.ID, "title": "Pont fragile"})

	res, err := f.rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Reports.Push.Failed != 1 || res.Reports.Pull.Updated != 1 || res.Reports.Pull.Created != 0 {
		t.Fatalf("unexpected counts: %+v", res.Reports)
	}
	got, _ := f.reports.Get(context.Background(), rep.ID)
	if got.RemoteID != "-Kmobile" || !got.SyncedToRemote {
		t.Fatalf("expected numeric match to link the remote key, got %+v", got)
	}
}

func TestOfflinePushLeavesRecordPending(t *testing.T) {
	f := newSyncFixture(t, false)
	f.addReport(t, "Inondation")
	ctx := context.Background()

	res, err := f.rec.RunOnce(ctx)
	if err != nil || res.Online {
		t.Fatalf("offline run: res=%+v err=%v", res, err)
	}
	if f.database.Calls("Write") != 0 {
		t.Fatalf("offline run must not touch the remote")
	}
	st, err := f.rec.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Reports.UnsyncedCount != 1 || st.Reports.SyncedCount != 0 || st.Reports.TotalLocal != 1 || st.Reports.Online {
		t.Fatalf("unexpected status: %+v", st.Reports)
	}
	if _, err := f.rec.ForceSync(ctx, "admin@example.com"); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected offline error, got %v", err)
	}
}

func TestRemoteUnreachableMidRunIsCounted(t *testing.T) {
	f := newSyncFixture(t, true)
	f.addReport(t, "Glissement")
	f.addIdentity(t, "a@example.com")
	f.database.FailOn("*", remote.ErrUnavailable)
	f.gateway.FailOn("*", remote.ErrUnavailable)

	res, err := f.rec.ForceSync(context.Background(), "admin@example.com")
	if err == nil {
		t.Fatalf("expected phase errors for unreadable remote collections")
	}
	if res.Reports.Push.Failed != 1 || res.Identities.Push.Failed != 1 {
		t.Fatalf("expected per-record failures, got %+v", res)
	}
	st, _ := f.rec.Status(context.Background())
	if st.Reports.UnsyncedCount != 1 || st.Identities.UnsyncedCount != 1 {
		t.Fatalf("failed records must stay pending: %+v", st)
	}
}

func TestPushIdentityCreatesOrLinks(t *testing.T) {
	f := newSyncFixture(t, true)
	existing := f.gateway.Seed(remote.Account{Email: "linked@example.com"}, "pw")
	a := f.addIdentity(t, "linked@example.com")
	b := f.addIdentity(t, "fresh@example.com")
	ctx := context.Background()

	res, err := f.rec.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Identities.Push.Created != 1 || res.Identities.Push.Updated != 1 {
		t.Fatalf("unexpected identity push: %+v", res.Identities.Push)
	}
	gotA, _ := f.identities.Get(ctx, a.ID)
	if gotA.RemoteID != existing.UID || !gotA.SyncedToRemote {
		t.Fatalf("expected link to existing account, got %+v", gotA)
	}
	gotB, _ := f.identities.Get(ctx, b.ID)
	acc := f.gateway.Account(gotB.RemoteID)
	if acc == nil || acc.ClaimString("localUid") != b.UID || acc.DisplayName != "Soa Rabe" {
		t.Fatalf("unexpected created account: %+v", acc)
	}
	if f.database.Node("users/"+gotB.RemoteID) == nil {
		t.Fatalf("expected user projection")
	}
	if f.gateway.Len() != 2 {
		t.Fatalf("expected no duplicate remote accounts, got %d", f.gateway.Len())
	}

	creates := f.gateway.Calls("CreateAccount")
	if res, _ := f.rec.RunOnce(ctx); res.Identities.Push.Total() != 0 || f.gateway.Calls("CreateAccount") != creates {
		t.Fatalf("second push must be a no-op: %+v", res.Identities.Push)
	}
}

func TestPushIdentityMirrorsAdminBlock(t *testing.T) {
	f := newSyncFixture(t, true)
	ident := f.addIdentity(t, "blocked@example.com")
	until := time.Now().Add(time.Hour).UTC()
	if err := f.identities.SetLockout(context.Background(), ident.ID, 3, &until, store.BlockAdmin); err != nil {
		t.Fatalf("set lockout: %v", err)
	}
	if _, err := f.rec.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := f.identities.Get(context.Background(), ident.ID)
	if acc := f.gateway.Account(got.RemoteID); acc == nil || !acc.Disabled {
		t.Fatalf("expected remote account disabled, got %+v", acc)
	}
}

func TestMirrorRemoteDisabledFlag(t *testing.T) {
	f := newSyncFixture(t, true)
	ctx := context.Background()
	ident, acc := f.addLinked(t, "mirror@example.com", true)

	res, err := f.rec.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Identities.Pull.Updated != 1 {
		t.Fatalf("expected mirror update, got %+v", res.Identities.Pull)
	}
	got, _ := f.identities.Get(ctx, ident.ID)
	if got.BlockSource != store.BlockRemote || !got.IsBlocked(time.Now()) || got.FailedAttempts < 3 {
		t.Fatalf("expected remote-sourced block, got %+v", got)
	}
	if res, _ := f.rec.RunOnce(ctx); res.Identities.Pull.Updated != 0 {
		t.Fatalf("repeat mirror must not change anything: %+v", res.Identities.Pull)
	}

	_ = f.gateway.Update(ctx, acc.UID, remote.AccountUpdate{Disabled: remote.BoolPtr(false)})
	if _, err := f.rec.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ = f.identities.Get(ctx, ident.ID)
	if got.BlockedUntil != nil || got.BlockSource != store.BlockNone || got.FailedAttempts != 0 {
		t.Fatalf("expected remote block cleared, got %+v", got)
	}
}

func TestMirrorNeverClearsLocalBlocks(t *testing.T) {
	f := newSyncFixture(t, true)
	ctx := context.Background()
	until := time.Now().Add(24 * time.Hour).UTC()

	admin, _ := f.addLinked(t, "admin-blocked@example.com", false)
	_ = f.identities.SetLockout(ctx, admin.ID, 3, &until, store.BlockAdmin)
	escalated, _ := f.addLinked(t, "escalated@example.com", true)
	_ = f.identities.SetLockout(ctx, escalated.ID, 3, &until, store.BlockEscalated)

	if _, err := f.rec.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := f.identities.Get(ctx, admin.ID)
	if got.BlockSource != store.BlockAdmin || !got.IsBlocked(time.Now()) {
		t.Fatalf("remote enabled flag must not clear an admin block: %+v", got)
	}
	got, _ = f.identities.Get(ctx, escalated.ID)
	if got.BlockSource != store.BlockEscalated {
		t.Fatalf("remote disabled flag must not replace an escalated block: %+v", got)
	}
}

func TestMirrorSkipsPendingIdentities(t *testing.T) {
	f := newSyncFixture(t, true)
	ctx := context.Background()
	ident, _ := f.addLinked(t, "pending@example.com", true)
	if err := f.identities.MarkUnsynced(ctx, ident.ID); err != nil {
		t.Fatalf("mark unsynced: %v", err)
	}
	if _, err := f.rec.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := f.identities.Get(ctx, ident.ID)
	if got.BlockedUntil != nil {
		t.Fatalf("a pending local record pushes its own state first, got %+v", got)
	}
}

func TestImportIdentities(t *testing.T) {
	f := newSyncFixture(t, true)
	ctx := context.Background()
	f.gateway.Seed(remote.Account{Email: "chef@example.com", DisplayName: "Jean Paul Rakoto", Claims: map[string]any{"role": "MANAGER", "numEtu": "E42"}}, "")
	f.gateway.Seed(remote.Account{Email: "off@example.com", Disabled: true}, "")
	linked := f.gateway.Seed(remote.Account{Email: "local@example.com"}, "")
	local := f.addIdentity(t, "local@example.com")

	c, err := f.rec.ImportIdentities(ctx)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if c.Created != 2 || c.Updated != 1 {
		t.Fatalf("unexpected import counts: %+v", c)
	}
	chef, _ := f.identities.FindByEmail(ctx, "chef@example.com")
	if chef == nil || chef.Role != "MANAGER" || chef.FirstName != "Jean" || chef.LastName != "Paul Rakoto" || chef.NumEtu != "E42" || !chef.SyncedToRemote {
		t.Fatalf("unexpected imported identity: %+v", chef)
	}
	if chef.PasswordHash == "" || chef.PasswordSalt == "" {
		t.Fatalf("expected placeholder credential")
	}
	off, _ := f.identities.FindByEmail(ctx, "off@example.com")
	if off == nil || off.BlockSource != store.BlockRemote || off.Role != "UTILISATEUR" {
		t.Fatalf("expected disabled import to be remote-blocked, got %+v", off)
	}
	got, _ := f.identities.Get(ctx, local.ID)
	if got.RemoteID != linked.UID {
		t.Fatalf("expected local identity linked, got %+v", got)
	}

	c, err = f.rec.ImportIdentities(ctx)
	if err != nil || c.Created != 0 || c.Updated != 0 || c.Skipped != 3 {
		t.Fatalf("second import must skip everything: %+v err=%v", c, err)
	}
}

func TestSavePhotoDataURL(t *testing.T) {
	dir := t.TempDir()
	payload := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
	url, err := savePhoto(dir, 7, remotePhoto{PixelData: payload})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	name := strings.TrimPrefix(url, photoURLPrefix)
	if !strings.HasPrefix(name, "sig_7_remote_") || !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("unexpected name: %s", name)
	}
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil || string(raw) != "jpeg bytes" {
		t.Fatalf("unexpected content: %q err=%v", raw, err)
	}
	if _, err := savePhoto(dir, 8, remotePhoto{PixelData: "!!!"}); err == nil {
		t.Fatalf("expected decode error")
	}
}
