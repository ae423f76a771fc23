package config

import (
	"time"

	"github.com/brimblehq/mediastack/internal/types"
)

const (
	DefaultPath = "/etc/mediastack/config.toml"
	EnvPrefix   = "MEDIASTACK_"
)

// Settings is the merged configuration of one invocation.
type Settings struct {
	Install   types.InstallationConfig `koanf:"install" toml:"install"`
	Paths     types.Paths              `koanf:"paths" toml:"paths"`
	Retry     RetrySettings            `koanf:"retry" toml:"retry"`
	Health    HealthSettings           `koanf:"health" toml:"health"`
	Preflight PreflightSettings        `koanf:"preflight" toml:"preflight"`
	Notify    NotifySettings           `koanf:"notify" toml:"notify"`
	Secrets   SecretsSettings          `koanf:"secrets" toml:"secrets"`
}

type RetrySettings struct {
	MaxAttempts int           `koanf:"max_attempts" toml:"max_attempts"`
	Delay       time.Duration `koanf:"delay" toml:"delay"`
}

type HealthSettings struct {
	Attempts int           `koanf:"attempts" toml:"attempts"`
	Interval time.Duration `koanf:"interval" toml:"interval"`
}

type PreflightSettings struct {
	MinFreeGiB int    `koanf:"min_free_gib" toml:"min_free_gib"`
	MinKernel  string `koanf:"min_kernel" toml:"min_kernel"`
}

type NotifySettings struct {
	Wall bool `koanf:"wall" toml:"wall"`
}

type SecretsSettings struct {
	Infisical InfisicalSettings `koanf:"infisical" toml:"infisical"`
}

// InfisicalSettings locates the tunnel password for unattended installs.
// Machine identity credentials come from the environment, never the file.
type InfisicalSettings struct {
	SiteURL     string `koanf:"site_url" toml:"site_url"`
	ProjectID   string `koanf:"project_id" toml:"project_id"`
	Environment string `koanf:"environment" toml:"environment"`
	SecretPath  string `koanf:"secret_path" toml:"secret_path"`
	SecretKey   string `koanf:"secret_key" toml:"secret_key"`
}

func (s InfisicalSettings) Enabled() bool {
	return s.ProjectID != "" && s.SecretKey != ""
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"install.timezone":    "Etc/UTC",
		"install.tunnel_user": "tunnel",

		"paths.compose_file": "/opt/mediastack/docker-compose.yml",
		"paths.config_root":  "/opt/mediastack/config",
		"paths.media_root":   "/srv/media",
		"paths.state_dir":    "/var/lib/mediastack",
		"paths.audit_log":    "/var/log/mediastack/transactions.log",
		"paths.log_file":     "/var/log/mediastack/mediastack.log",
		"paths.backup_dir":   "/var/backups/mediastack",
		"paths.sshd_config":  "/etc/ssh/sshd_config",

		"retry.max_attempts": 3,
		"retry.delay":        "5s",

		"health.attempts": 12,
		"health.interval": "5s",

		"preflight.min_free_gib": 10,
		"preflight.min_kernel":   "3.10",

		"notify.wall": true,

		"secrets.infisical.site_url":    "https://app.infisical.com",
		"secrets.infisical.environment": "prod",
		"secrets.infisical.secret_path": "/",
	}
}
