package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"roadworks-hub/config"
	"roadworks-hub/core/utils"
)

func mustTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{DBPath: filepath.Join(dir, "tmp.db"), Pepper: "pepper"}
	logger := utils.NewLogger()
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if err := ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIdentitiesCreateAndFind(t *testing.T) {
	db := mustTestDB(t)
	ctx := context.Background()
	s := NewIdentitiesStore(db)
	ident := &Identity{UID: "u-1", Email: " Alice@Example.com ", Role: "UTILISATEUR", FirstName: "Alice"}
	id, err := s.Create(ctx, ident)
	if err != nil || id == 0 {
		t.Fatalf("create: id=%d err=%v", id, err)
	}
	got, err := s.FindByEmail(ctx, "ALICE@example.com")
	if err != nil || got == nil {
		t.Fatalf("find by email: %v %v", got, err)
	}
	if got.Email != "alice@example.com" || got.UID != "u-1" || got.RemoteID != "" || got.SyncedToRemote {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if _, err := s.Create(ctx, &Identity{UID: "u-2", Email: "alice@example.com"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	missing, err := s.FindByUID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing uid, got %v %v", missing, err)
	}
}

func TestIdentitiesSyncFlagsAndCounts(t *testing.T) {
	db := mustTestDB(t)
	ctx := context.Background()
	s := NewIdentitiesStore(db)
	a := &Identity{UID: "a", Email: "a@example.com"}
	b := &Identity{UID: "b", Email: "b@example.com"}
	for _, ident := range []*Identity{a, b} {
		if _, err := s.Create(ctx, ident); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := s.MarkSynced(ctx, a.ID, "remote-a"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	total, unsynced, err := s.Counts(ctx)
	if err != nil || total != 2 || unsynced != 1 {
		t.Fatalf("unexpected counts total=%d unsynced=%d err=%v", total, unsynced, err)
	}
	pending, err := s.ListUnsynced(ctx)
	if err != nil || len(pending) != 1 || pending[0].UID != "b" {
		t.Fatalf("unexpected pending: %+v %v", pending, err)
	}
	byRemote, err := s.FindByRemoteID(ctx, "remote-a")
	if err != nil || byRemote == nil || byRemote.ID != a.ID {
		t.Fatalf("find by remote id: %+v %v", byRemote, err)
	}
	if err := s.MarkSynced(ctx, b.ID, "remote-a"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate remote id, got %v", err)
	}
}

func TestIdentitiesLockoutFields(t *testing.T) {
	db := mustTestDB(t)
	ctx := context.Background()
	s := NewIdentitiesStore(db)
	ident := &Identity{UID: "x", Email: "x@example.com"}
	if _, err := s.Create(ctx, ident); err != nil {
		t.Fatalf("create: %v", err)
	}
	until := time.Now().UTC().Add(5 * time.Minute)
	if err := s.SetLockout(ctx, ident.ID, 3, &until, BlockLockout); err != nil {
		t.Fatalf("set lockout: %v", err)
	}
	got, _ := s.Get(ctx, ident.ID)
	if got.FailedAttempts != 3 || got.BlockedUntil == nil || got.BlockSource != BlockLockout {
		t.Fatalf("unexpected lockout fields: %+v", got)
	}
	if !got.IsBlocked(time.Now()) {
		t.Fatalf("expected blocked")
	}
	if err := s.SetLockout(ctx, ident.ID, 0, nil, BlockAdmin); err != nil {
		t.Fatalf("clear lockout: %v", err)
	}
	got, _ = s.Get(ctx, ident.ID)
	if got.FailedAttempts != 0 || got.BlockedUntil != nil || got.BlockSource != BlockNone {
		t.Fatalf("expected cleared lockout: %+v", got)
	}
}

func TestReportsCreateUpdateAndMatch(t *testing.T) {
	db := mustTestDB(t)
	ctx := context.Background()
	s := NewReportsStore(db)
	r := &Report{Title: "Pothole", Latitude: -18.91, Longitude: 47.52, SurfaceM2: 12.5}
	if _, err := s.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != "NOUVEAU" || r.Niveau != 1 {
		t.Fatalf("expected defaults, got %+v", r)
	}
	r.Status = "EN_COURS"
	now := time.Now().UTC()
	r.DateEnCours = &now
	if err := s.Update(ctx, r); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.MarkSynced(ctx, r.ID, "-Nabc"); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	got, err := s.FindByRemoteID(ctx, "-Nabc")
	if err != nil || got == nil {
		t.Fatalf("find by remote id: %v %v", got, err)
	}
	if got.Status != "EN_COURS" || got.DateEnCours == nil || !got.SyncedToRemote || got.Latitude != -18.91 {
		t.Fatalf("unexpected report: %+v", got)
	}
	total, unsynced, err := s.Counts(ctx)
	if err != nil || total != 1 || unsynced != 0 {
		t.Fatalf("unexpected counts %d/%d %v", total, unsynced, err)
	}
}

func TestAuditStoreLog(t *testing.T) {
	db := mustTestDB(t)
	ctx := context.Background()
	s := NewAuditStore(db)
	if err := s.Log(ctx, AuditRecord{ActorEmail: "admin@example.com", Action: "identity.block", EntityType: "identity", EntityID: "u-1"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	recs, err := s.List(ctx, 10)
	if err != nil || len(recs) != 1 || recs[0].Action != "identity.block" {
		t.Fatalf("unexpected audit records: %+v %v", recs, err)
	}
}

func TestMigrationStatusAfterApply(t *testing.T) {
	db := mustTestDB(t)
	st, err := GetMigrationStatus(context.Background(), db)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Dialect != "sqlite3" || !st.HasGooseTable || st.HasPending || st.CurrentVersion != st.LatestVersion {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRewriteSQL(t *testing.T) {
	got := rewriteSQL("INSERT OR IGNORE INTO audit_log(action, details) VALUES(?, 'a?b')")
	want := "INSERT INTO audit_log(action, details) VALUES($1, 'a?b') ON CONFLICT DO NOTHING"
	if got != want {
		t.Fatalf("unexpected rewrite:\n got %s\nwant %s", got, want)
	}
	if !insertsSerialTable("INSERT INTO identities(uid) VALUES($1)") {
		t.Fatalf("expected identities to be a serial table")
	}
	if insertsSerialTable("INSERT INTO goose_db_version(version_id) VALUES($1)") {
		t.Fatalf("unexpected serial table match")
	}
}
