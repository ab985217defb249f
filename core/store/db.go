package store

import (
	"database/sql"
	"errors"
	"flag"
	"strings"

	_ "modernc.org/sqlite"

	"roadworks-hub/config"
	"roadworks-hub/core/utils"
)

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver == "" {
		switch {
		case strings.TrimSpace(cfg.DBURL) != "":
			driver = "postgres"
		case strings.TrimSpace(cfg.DBPath) != "":
			driver = "sqlite"
		default:
			driver = "postgres"
		}
	}
	switch driver {
	case "postgres", "pg":
		if strings.TrimSpace(cfg.DBURL) == "" {
			return nil, errors.New("ROADHUB_DB_URL is required for postgres")
		}
		db, err := sql.Open(postgresDriverName, cfg.DBURL)
		if err != nil {
			if logger != nil {
				logger.Errorf("db open failed: %v", err)
			}
			return nil, err
		}
		if logger != nil {
			logger.Printf("db open postgres")
		}
		return db, nil
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return nil, errors.New("ROADHUB_DB_PATH is required for sqlite")
		}
		db, err := sql.Open("sqlite", sqliteDSN(cfg.DBPath))
		if err != nil {
			if logger != nil {
				logger.Errorf("db open failed: %v", err)
			}
			return nil, err
		}
		// sqlite serializes writers
		db.SetMaxOpenConns(1)
		if logger != nil {
			if isTestRuntime() {
				logger.Printf("db open sqlite (test runtime)")
			} else {
				logger.Printf("db open sqlite path=%s", cfg.DBPath)
			}
		}
		return db, nil
	default:
		return nil, errors.New("unsupported db driver: " + driver)
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func isTestRuntime() bool {
	return flag.Lookup("test.v") != nil
}
