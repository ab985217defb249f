package config

import (
	"fmt"
	"strings"
)

const (
	defaultPepper      = "BPY89KfAWweJM5p2Vh0Zwg_-nm7wSlS8La8DxPWFAlg"
	defaultTokenSecret = "dev-token-secret-change-me-0123456789abcdef"
	minTokenSecretLen  = 32
)

func Validate(cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.DBDriver)) {
	case "postgres", "pg", "":
		if strings.TrimSpace(cfg.DBURL) == "" {
			return fmt.Errorf("db_url must be set for postgres driver")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return fmt.Errorf("db_path must be set for sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported db_driver: %s", cfg.DBDriver)
	}
	switch cfg.Auth.Mode {
	case AuthModeAuto, AuthModeLocal:
	case AuthModeRemote:
		if !cfg.Remote.Configured() {
			return fmt.Errorf("auth.mode=remote requires remote.api_key and remote.database_url")
		}
	default:
		return fmt.Errorf("unsupported auth.mode: %s", cfg.Auth.Mode)
	}
	if cfg.Auth.MaxAttempts < 1 {
		return fmt.Errorf("auth.max_attempts must be positive")
	}
	secret := strings.TrimSpace(cfg.Token.Secret)
	pep := strings.TrimSpace(cfg.Pepper)
	if secret == "" || pep == "" {
		return fmt.Errorf("token.secret and pepper must be set via env")
	}
	if len(secret) < minTokenSecretLen {
		return fmt.Errorf("token.secret must be at least %d characters", minTokenSecretLen)
	}
	if !cfg.IsDev() {
		if isDefaultSecret(secret) || isDefaultSecret(pep) {
			return fmt.Errorf("default secrets are not allowed outside APP_ENV=dev")
		}
		if cfg.TLSEnabled && (strings.TrimSpace(cfg.TLSCert) == "" || strings.TrimSpace(cfg.TLSKey) == "") {
			return fmt.Errorf("tls_cert and tls_key are required when tls_enabled=true")
		}
	}
	return nil
}

func isDefaultSecret(val string) bool {
	switch val {
	case defaultPepper, defaultTokenSecret:
		return true
	default:
		return false
	}
}
