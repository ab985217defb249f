package config

import "time"

const (
	AuthModeAuto   = "auto"
	AuthModeLocal  = "local"
	AuthModeRemote = "remote"
)

type AppConfig struct {
	DBDriver      string              `yaml:"db_driver" env:"ROADHUB_DB_DRIVER"`
	DBURL         string              `yaml:"db_url" env:"ROADHUB_DB_URL"`
	DBPath        string              `yaml:"db_path" env:"ROADHUB_DB_PATH"`
	ListenAddr    string              `yaml:"listen_addr" env:"ROADHUB_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv        string              `yaml:"app_env" env:"ROADHUB_APP_ENV" env-default:"prod"`
	Pepper        string              `yaml:"pepper" env:"ROADHUB_PEPPER"`
	TLSEnabled    bool                `yaml:"tls_enabled" env:"ROADHUB_TLS_ENABLED"`
	TLSCert       string              `yaml:"tls_cert" env:"ROADHUB_TLS_CERT"`
	TLSKey        string              `yaml:"tls_key" env:"ROADHUB_TLS_KEY"`
	Auth          AuthConfig          `yaml:"auth"`
	Token         TokenConfig         `yaml:"token"`
	Connectivity  ConnectivityConfig  `yaml:"connectivity"`
	Remote        RemoteConfig        `yaml:"remote"`
	Sync          SyncConfig          `yaml:"sync"`
	Observability ObservabilityConfig `yaml:"observability"`
}

func (c *AppConfig) IsDev() bool {
	if c == nil {
		return false
	}
	return c.AppEnv == "dev"
}

type AuthConfig struct {
	Mode           string `yaml:"mode" env:"ROADHUB_AUTH_MODE" env-default:"auto"`
	MaxAttempts    int    `yaml:"max_attempts" env:"ROADHUB_AUTH_MAX_ATTEMPTS" env-default:"3"`
	BlockSeconds   int    `yaml:"block_seconds" env:"ROADHUB_AUTH_BLOCK_SECONDS" env-default:"300"`
	Escalate       bool   `yaml:"escalate" env:"ROADHUB_AUTH_ESCALATE" env-default:"true"`
	EscalationDays int    `yaml:"escalation_days" env:"ROADHUB_AUTH_ESCALATION_DAYS" env-default:"365"`
	ExemptRole     string `yaml:"exempt_role" env:"ROADHUB_AUTH_EXEMPT_ROLE" env-default:"MANAGER"`
	DefaultRole    string `yaml:"default_role" env:"ROADHUB_AUTH_DEFAULT_ROLE" env-default:"UTILISATEUR"`
}

func (a AuthConfig) BlockDuration() time.Duration {
	return time.Duration(a.BlockSeconds) * time.Second
}

func (a AuthConfig) EscalationDuration() time.Duration {
	return time.Duration(a.EscalationDays) * 24 * time.Hour
}

type TokenConfig struct {
	Secret string        `yaml:"secret" env:"ROADHUB_TOKEN_SECRET"`
	TTL    time.Duration `yaml:"ttl" env:"ROADHUB_TOKEN_TTL" env-default:"1h"`
	Issuer string        `yaml:"issuer" env:"ROADHUB_TOKEN_ISSUER" env-default:"roadworks-hub"`
}

type ConnectivityConfig struct {
	CheckURL string        `yaml:"check_url" env:"ROADHUB_CONNECTIVITY_CHECK_URL" env-default:"https://identitytoolkit.googleapis.com"`
	TTL      time.Duration `yaml:"ttl" env:"ROADHUB_CONNECTIVITY_TTL" env-default:"30s"`
	Timeout  time.Duration `yaml:"timeout" env:"ROADHUB_CONNECTIVITY_TIMEOUT" env-default:"3s"`
}

type RemoteConfig struct {
	ProjectID       string        `yaml:"project_id" env:"ROADHUB_REMOTE_PROJECT_ID"`
	APIKey          string        `yaml:"api_key" env:"ROADHUB_REMOTE_API_KEY"`
	CredentialsFile string        `yaml:"credentials_file" env:"ROADHUB_REMOTE_CREDENTIALS_FILE"`
	DatabaseURL     string        `yaml:"database_url" env:"ROADHUB_REMOTE_DATABASE_URL"`
	SignInURL       string        `yaml:"sign_in_url" env:"ROADHUB_REMOTE_SIGN_IN_URL"`
	Timeout         time.Duration `yaml:"timeout" env:"ROADHUB_REMOTE_TIMEOUT" env-default:"5s"`
}

// Configured reports whether enough remote settings are present for the
// remote backend to be selectable.
func (r RemoteConfig) Configured() bool {
	return r.APIKey != "" && r.DatabaseURL != ""
}

type SyncConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ROADHUB_SYNC_ENABLED" env-default:"true"`
	Interval      time.Duration `yaml:"interval" env:"ROADHUB_SYNC_INTERVAL" env-default:"60s"`
	PullTimeout   time.Duration `yaml:"pull_timeout" env:"ROADHUB_SYNC_PULL_TIMEOUT" env-default:"10s"`
	ImportOnStart bool          `yaml:"import_on_start" env:"ROADHUB_SYNC_IMPORT_ON_START" env-default:"true"`
	UploadsDir    string        `yaml:"uploads_dir" env:"ROADHUB_SYNC_UPLOADS_DIR" env-default:"uploads/signalements"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"ROADHUB_METRICS_ENABLED"`
	MetricsToken   string `yaml:"metrics_token" env:"ROADHUB_METRICS_TOKEN"`
}
