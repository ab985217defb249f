package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	defaultConfigPath = "config/app.yaml"
	envPrefix         = "ROADHUB_"
)

func Load() (*AppConfig, error) {
	loadDotenv()
	cfg := &AppConfig{}
	cfgPath := resolveConfigPath()
	if st, err := os.Stat(cfgPath); err == nil && !st.IsDir() {
		if err := cleanenv.ReadConfig(cfgPath, cfg); err != nil {
			return nil, err
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	applyEnvAliases(cfg)
	normalizeConfig(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotenv() {
	path := getEnv(envPrefix + "DOTENV")
	if path == "" {
		path = ".env"
	}
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		_ = godotenv.Overload(path)
	}
}

func applyEnvAliases(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	if v := getEnv("DATABASE_URL"); v != "" && cfg.DBURL == "" {
		cfg.DBURL = strings.TrimSpace(v)
	}
	if v := getEnv("PEPPER"); v != "" {
		cfg.Pepper = strings.TrimSpace(v)
	}
	if v := getEnv("JWT_SECRET"); v != "" {
		cfg.Token.Secret = strings.TrimSpace(v)
	}
	if v := getEnv("ENV", "APP_ENV"); v != "" {
		cfg.AppEnv = strings.TrimSpace(v)
	}
	if v := getEnv("AUTH_MODE"); v != "" {
		cfg.Auth.Mode = strings.TrimSpace(v)
	}
	if v := getEnv("FIREBASE_API_KEY"); v != "" {
		cfg.Remote.APIKey = strings.TrimSpace(v)
	}
	if v := getEnv("FIREBASE_DATABASE_URL"); v != "" {
		cfg.Remote.DatabaseURL = strings.TrimSpace(v)
	}
	if v := getEnv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && cfg.Remote.CredentialsFile == "" {
		cfg.Remote.CredentialsFile = strings.TrimSpace(v)
	}
	if v := getEnv("LOGIN_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Auth.MaxAttempts = n
		}
	}
	if v := getEnv("LOGIN_BLOCK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Auth.BlockSeconds = n
		}
	}
	if v := getEnv("PORT", envPrefix+"PORT"); v != "" {
		cfg.ListenAddr = listenAddrWithPort(cfg.ListenAddr, v)
	}
	if v := getEnv("DATA_PATH", envPrefix+"DATA_PATH"); v != "" {
		cfg.Sync.UploadsDir = filepathJoin(strings.TrimSpace(v), "uploads"+string(os.PathSeparator)+"signalements")
	}
}

func normalizeConfig(cfg *AppConfig) {
	if cfg == nil {
		return
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	cfg.DBURL = strings.TrimSpace(cfg.DBURL)
	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	cfg.ListenAddr = strings.TrimSpace(cfg.ListenAddr)
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.Pepper = strings.TrimSpace(cfg.Pepper)
	cfg.Token.Secret = strings.TrimSpace(cfg.Token.Secret)
	cfg.Remote.APIKey = strings.TrimSpace(cfg.Remote.APIKey)
	cfg.Remote.DatabaseURL = strings.TrimRight(strings.TrimSpace(cfg.Remote.DatabaseURL), "/")
	cfg.Remote.ProjectID = strings.TrimSpace(cfg.Remote.ProjectID)
	cfg.Remote.CredentialsFile = strings.TrimSpace(cfg.Remote.CredentialsFile)
	cfg.Remote.SignInURL = strings.TrimSpace(cfg.Remote.SignInURL)
	cfg.Connectivity.CheckURL = strings.TrimSpace(cfg.Connectivity.CheckURL)
	cfg.Sync.UploadsDir = strings.TrimSpace(cfg.Sync.UploadsDir)

	if cfg.DBDriver == "pg" {
		cfg.DBDriver = "postgres"
	}
	if cfg.DBDriver == "" {
		if cfg.DBURL == "" && cfg.DBPath != "" {
			cfg.DBDriver = "sqlite"
		} else {
			cfg.DBDriver = "postgres"
		}
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))
	switch mode {
	case "", AuthModeAuto:
		mode = AuthModeAuto
	case "firebase":
		mode = AuthModeRemote
	case "postgresql", "postgres":
		mode = AuthModeLocal
	}
	cfg.Auth.Mode = mode
	cfg.Auth.ExemptRole = strings.ToUpper(strings.TrimSpace(cfg.Auth.ExemptRole))
	cfg.Auth.DefaultRole = strings.ToUpper(strings.TrimSpace(cfg.Auth.DefaultRole))
	if cfg.Auth.DefaultRole == "" {
		cfg.Auth.DefaultRole = "UTILISATEUR"
	}
	if cfg.Auth.MaxAttempts <= 0 {
		cfg.Auth.MaxAttempts = 3
	}
	if cfg.Auth.BlockSeconds <= 0 {
		cfg.Auth.BlockSeconds = 300
	}
	if cfg.Auth.EscalationDays <= 0 {
		cfg.Auth.EscalationDays = 365
	}

	if cfg.Token.TTL <= 0 {
		cfg.Token.TTL = time.Hour
	}
	if cfg.Token.Issuer == "" {
		cfg.Token.Issuer = "roadworks-hub"
	}
	if cfg.Connectivity.CheckURL == "" {
		cfg.Connectivity.CheckURL = "https://identitytoolkit.googleapis.com"
	}
	if cfg.Connectivity.TTL <= 0 {
		cfg.Connectivity.TTL = 30 * time.Second
	}
	if cfg.Connectivity.Timeout <= 0 {
		cfg.Connectivity.Timeout = 3 * time.Second
	}
	if cfg.Connectivity.Timeout > 10*time.Second {
		cfg.Connectivity.Timeout = 10 * time.Second
	}
	if cfg.Remote.Timeout <= 0 {
		cfg.Remote.Timeout = 5 * time.Second
	}
	if cfg.Remote.Timeout > 10*time.Second {
		cfg.Remote.Timeout = 10 * time.Second
	}
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = 60 * time.Second
	}
	if cfg.Sync.PullTimeout <= 0 {
		cfg.Sync.PullTimeout = 10 * time.Second
	}
	if cfg.Sync.UploadsDir == "" {
		cfg.Sync.UploadsDir = filepathJoin("uploads", "signalements")
	}
}

func getEnv(keys ...string) string {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func resolveConfigPath() string {
	if v := getEnv("APP_CONFIG", envPrefix+"APP_CONFIG"); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultConfigPath
}

func listenAddrWithPort(currentAddr, portRaw string) string {
	port := strings.TrimSpace(portRaw)
	if port == "" {
		return currentAddr
	}
	if _, err := strconv.Atoi(port); err != nil {
		return currentAddr
	}
	host := "0.0.0.0"
	parts := strings.Split(strings.TrimSpace(currentAddr), ":")
	if len(parts) > 1 {
		host = strings.Join(parts[:len(parts)-1], ":")
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + port
}

func filepathJoin(base, leaf string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return leaf
	}
	base = strings.TrimRight(base, "/\\")
	return base + string(os.PathSeparator) + leaf
}
