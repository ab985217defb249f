package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"roadworks-hub/core/utils"
)

//go:embed migrations_pg/*.sql migrations_sqlite/*.sql
var gooseMigrationsFS embed.FS

const gooseTable = "goose_db_version"

type dialect struct {
	name string
	dir  string
}

var (
	dialectPostgres = dialect{name: "postgres", dir: "migrations_pg"}
	dialectSQLite   = dialect{name: "sqlite3", dir: "migrations_sqlite"}
)

type MigrationStatus struct {
	NowUTC         time.Time `json:"now_utc"`
	Dialect        string    `json:"dialect"`
	LegacyDatabase bool      `json:"legacy_database"`
	HasGooseTable  bool      `json:"has_goose_table"`
	CurrentVersion int64     `json:"current_version"`
	LatestVersion  int64     `json:"latest_version"`
	HasPending     bool      `json:"has_pending"`
}

func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if db == nil {
		return fmt.Errorf("nil db")
	}
	d, err := detectDialect(ctx, db)
	if err != nil {
		return err
	}
	if err := enforceVersionedPolicy(ctx, db, d); err != nil {
		return err
	}
	if err := goose.SetDialect(d.name); err != nil {
		return err
	}
	goose.SetBaseFS(gooseMigrationsFS)
	goose.SetLogger(goose.NopLogger())
	if logger != nil {
		logger.Printf("applying goose migrations dialect=%s", d.name)
	}
	if err := goose.UpContext(ctx, db, d.dir); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("goose migrations applied")
	}
	return nil
}

func GetMigrationStatus(ctx context.Context, db *sql.DB) (MigrationStatus, error) {
	now := time.Now().UTC()
	if db == nil {
		return MigrationStatus{NowUTC: now}, fmt.Errorf("nil db")
	}
	d, err := detectDialect(ctx, db)
	if err != nil {
		return MigrationStatus{NowUTC: now}, err
	}
	st := MigrationStatus{NowUTC: now, Dialect: d.name}
	goose.SetBaseFS(gooseMigrationsFS)
	migrations, err := goose.CollectMigrations(d.dir, 0, goose.MaxVersion)
	if err != nil {
		return st, err
	}
	if last, lerr := migrations.Last(); lerr == nil {
		st.LatestVersion = last.Version
	}
	hasGoose, err := tableExists(ctx, db, d, gooseTable)
	if err != nil {
		return st, err
	}
	st.HasGooseTable = hasGoose
	if !hasGoose {
		n, err := countUserTables(ctx, db, d)
		if err != nil {
			return st, err
		}
		st.LegacyDatabase = n > 0
		st.HasPending = true
		return st, nil
	}
	if err := goose.SetDialect(d.name); err != nil {
		return st, err
	}
	cur, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return st, err
	}
	st.CurrentVersion = cur
	st.HasPending = st.LatestVersion > cur
	return st, nil
}

// A database with user tables but no goose version table is rejected.
func enforceVersionedPolicy(ctx context.Context, db *sql.DB, d dialect) error {
	hasGoose, err := tableExists(ctx, db, d, gooseTable)
	if err != nil {
		return err
	}
	if hasGoose {
		return nil
	}
	n, err := countUserTables(ctx, db, d)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("unversioned database is not supported: reset DB and run fresh migrations")
	}
	return nil
}

func countUserTables(ctx context.Context, db *sql.DB, d dialect) (int, error) {
	var n int
	if d == dialectPostgres {
		err := db.QueryRowContext(ctx, `
			SELECT COUNT(1)
			FROM information_schema.tables
			WHERE table_schema='public'
				AND table_type='BASE TABLE'
				AND table_name <> ?
		`, gooseTable).Scan(&n)
		return n, err
	}
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%' AND name <> ?
	`, gooseTable).Scan(&n)
	return n, err
}

func tableExists(ctx context.Context, db *sql.DB, d dialect, name string) (bool, error) {
	var n int
	var err error
	if d == dialectPostgres {
		err = db.QueryRowContext(ctx, `
			SELECT COUNT(1)
			FROM information_schema.tables
			WHERE table_schema='public' AND table_name=?
		`, name).Scan(&n)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func detectDialect(ctx context.Context, db *sql.DB) (dialect, error) {
	isPG, err := isPostgresDB(ctx, db)
	if err != nil {
		return dialect{}, err
	}
	if isPG {
		return dialectPostgres, nil
	}
	return dialectSQLite, nil
}

func isPostgresDB(ctx context.Context, db *sql.DB) (bool, error) {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return false, err
	}
	var version string
	err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version)
	if err != nil {
		return false, nil
	}
	return true, nil
}
