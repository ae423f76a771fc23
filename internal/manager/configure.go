package manager

import (
	"context"
	"errors"
	"net"

	"github.com/brimblehq/mediastack/internal/config"
	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/host"
	"github.com/brimblehq/mediastack/internal/secrets"
	"github.com/brimblehq/mediastack/internal/types"
	"github.com/brimblehq/mediastack/internal/ui"
)

// Source hands the sequencer an installation config. Interactive sources
// re-prompt on invalid input; unattended sources fail instead.
type Source interface {
	Acquire(ctx context.Context, defaults types.InstallationConfig, checkOwner func(string) error) (types.InstallationConfig, error)
}

type InteractiveSource struct{}

func (InteractiveSource) Acquire(_ context.Context, defaults types.InstallationConfig, checkOwner func(string) error) (types.InstallationConfig, error) {
	return ui.CollectInstallation(defaults, checkOwner)
}

// SecretPasswordKey is the key the tunnel password is stored under.
const SecretPasswordKey = "MEDIASTACK_TUNNEL_PASSWORD"

// UnattendedSource takes every value from the settings. A missing tunnel
// password is looked up in Secrets when one is configured.
type UnattendedSource struct {
	Secrets secrets.Store
	// Key names the password in Secrets, SecretPasswordKey when empty.
	Key string
}

func (s UnattendedSource) Acquire(ctx context.Context, defaults types.InstallationConfig, _ func(string) error) (types.InstallationConfig, error) {
	cfg := defaults
	if cfg.TunnelPassword == "" && s.Secrets != nil {
		key := s.Key
		if key == "" {
			key = SecretPasswordKey
		}
		pw, err := s.Secrets.Get(ctx, key)
		if err != nil {
			return cfg, err
		}
		cfg.TunnelPassword = pw
	}
	return cfg, nil
}

func (rc *RunContext) configure(ctx context.Context, src Source) error {
	if src == nil {
		src = UnattendedSource{}
	}
	checkOwner := func(name string) error {
		_, err := rc.Host.LookupUser(ctx, name)
		return err
	}
	// Prompts own the terminal while they run.
	rc.Progress.Pause()
	cfg, err := src.Acquire(ctx, rc.Settings.Install, checkOwner)
	rc.Progress.Resume()
	if err != nil {
		return err
	}
	if err := config.ValidateInstallation(cfg); err != nil {
		return err
	}

	// ufw prints rules with the network address, so store it that way.
	_, ipnet, _ := net.ParseCIDR(cfg.AllowedCIDR)
	cfg.AllowedCIDR = ipnet.String()

	owner, err := rc.Host.LookupUser(ctx, cfg.Owner)
	if errors.Is(err, host.ErrNoSuchUser) {
		return core.New(core.KindConfiguration, "owner account %q does not exist", cfg.Owner)
	}
	if err != nil {
		return err
	}

	rc.install = cfg
	rc.owner = owner
	rc.Logger.Info().Str("owner", owner.Name).Int("uid", owner.UID).Str("cidr", cfg.AllowedCIDR).Msg("Configuration accepted")
	return nil
}
