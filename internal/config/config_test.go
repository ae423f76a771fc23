package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "absent.toml"), false)
	require.NoError(t, err)

	assert.Equal(t, "/opt/mediastack/docker-compose.yml", cfg.Paths.ComposeFile)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.Delay)
	assert.Equal(t, 12, cfg.Health.Attempts)
	assert.Equal(t, 5*time.Second, cfg.Health.Interval)
	assert.Equal(t, 10, cfg.Preflight.MinFreeGiB)
	assert.Equal(t, "tunnel", cfg.Install.TunnelUser)
	assert.True(t, cfg.Notify.Wall)
	assert.False(t, cfg.Secrets.Infisical.Enabled())
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
[install]
owner = "media"
allowed_cidr = "192.168.1.0/24"
timezone = "Europe/Berlin"

[retry]
max_attempts = 5
delay = "2s"
`)
	t.Setenv("MEDIASTACK_INSTALL__ALLOWED_CIDR", "10.0.0.0/8")
	t.Setenv("MEDIASTACK_HEALTH__ATTEMPTS", "4")

	cfg, err := load(path, true)
	require.NoError(t, err)

	assert.Equal(t, "media", cfg.Install.Owner)
	assert.Equal(t, "10.0.0.0/8", cfg.Install.AllowedCIDR, "env wins over file")
	assert.Equal(t, "Europe/Berlin", cfg.Install.Timezone)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay)
	assert.Equal(t, 4, cfg.Health.Attempts)
	assert.Equal(t, "/srv/media", cfg.Paths.MediaRoot, "defaults survive")
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "absent.toml"), true)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfiguration))
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, "[retry]\nmax_attempts = 0\n")
	_, err := load(path, true)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfiguration))

	path = writeConfig(t, "[paths]\nmedia_root = \"relative/media\"\n")
	_, err = load(path, true)
	assert.Error(t, err)

	path = writeConfig(t, "not toml = = =")
	_, err = load(path, true)
	assert.Error(t, err)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, ValidateCIDR("192.168.1.0/24"))
	assert.NoError(t, ValidateCIDR("2001:db8::/32"))
	assert.Error(t, ValidateCIDR("192.168.1.7"))
	assert.Error(t, ValidateCIDR("300.1.1.0/24"))

	assert.NoError(t, ValidateTimezone("America/New_York"))
	assert.Error(t, ValidateTimezone("Mars/Olympus"))
	assert.Error(t, ValidateTimezone(""))
	assert.Error(t, ValidateTimezone("Local"), "Local is not an IANA name")

	assert.NoError(t, ValidateUsername("tunnel"))
	assert.NoError(t, ValidateUsername("_svc-1"))
	assert.Error(t, ValidateUsername("Tunnel"))
	assert.Error(t, ValidateUsername("1tunnel"))
	assert.Error(t, ValidateUsername(""))

	assert.NoError(t, ValidatePassword("secret"))
	assert.Error(t, ValidatePassword("short"))
	assert.Error(t, ValidatePassword("pass:word"))

	assert.NoError(t, ValidateAuthorizedKey(""))
	assert.NoError(t, ValidateAuthorizedKey("ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIGXhb0hCKmVj0nJ2Z3hBqYk7G2Y5iQd4mZ1n0oYd3Jp8 laptop"))
	assert.Error(t, ValidateAuthorizedKey("not a key"))
}

func TestValidateInstallation(t *testing.T) {
	valid := types.InstallationConfig{
		AllowedCIDR:    "192.168.1.0/24",
		Owner:          "media",
		Timezone:       "UTC",
		TunnelUser:     "tunnel",
		TunnelPassword: "hunter22",
	}
	require.NoError(t, ValidateInstallation(valid))

	for name, mutate := range map[string]func(*types.InstallationConfig){
		"no owner":        func(c *types.InstallationConfig) { c.Owner = "" },
		"bad cidr":        func(c *types.InstallationConfig) { c.AllowedCIDR = "lan" },
		"tunnel is owner": func(c *types.InstallationConfig) { c.TunnelUser = "media" },
		"tunnel is root":  func(c *types.InstallationConfig) { c.TunnelUser = "root" },
		"short password":  func(c *types.InstallationConfig) { c.TunnelPassword = "abc" },
	} {
		cfg := valid
		mutate(&cfg)
		err := ValidateInstallation(cfg)
		assert.Error(t, err, name)
		assert.True(t, core.IsKind(err, core.KindConfiguration), name)
	}
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.toml")
	require.NoError(t, WriteSample(path, false))

	cfg, err := load(path, true)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Retry.Delay)
	assert.Equal(t, "/opt/mediastack/config", cfg.Paths.ConfigRoot)

	err = WriteSample(path, false)
	assert.True(t, core.IsKind(err, core.KindConfiguration))
	assert.NoError(t, WriteSample(path, true))
}
