package appbootstrap

import (
	"os"
	"path/filepath"
	"strings"

	"roadworks-hub/config"
	"roadworks-hub/core/utils"
)

func ensureStorageDirs(cfg *config.AppConfig, logger *utils.Logger) error {
	if cfg == nil {
		return nil
	}
	type item struct {
		name string
		path string
	}
	items := []item{
		{name: "uploads", path: cfg.Sync.UploadsDir},
	}
	if cfg.DBPath != "" {
		items = append(items, item{name: "sqlite", path: filepath.Dir(cfg.DBPath)})
	}
	for _, it := range items {
		p := strings.TrimSpace(it.path)
		if p == "" || p == "." {
			continue
		}
		if err := os.MkdirAll(p, 0o750); err != nil {
			logger.Errorf("storage dir init failed name=%s path=%s: %v", it.name, p, err)
			return err
		}
	}
	return nil
}
