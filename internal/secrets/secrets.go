// Package secrets fetches values that must not live in the config file, such
// as the tunnel password of an unattended install.
package secrets

import (
	"context"
	"os"

	infisical "github.com/infisical/go-sdk"

	"github.com/brimblehq/mediastack/internal/config"
	"github.com/brimblehq/mediastack/internal/core"
)

const (
	EnvClientID     = "INFISICAL_UNIVERSAL_AUTH_CLIENT_ID"
	EnvClientSecret = "INFISICAL_UNIVERSAL_AUTH_CLIENT_SECRET"
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// Infisical reads secrets from one project and environment with a machine
// identity.
type Infisical struct {
	client   infisical.InfisicalClientInterface
	settings config.InfisicalSettings
}

func credentials() (string, string, error) {
	id, secret := os.Getenv(EnvClientID), os.Getenv(EnvClientSecret)
	if id == "" || secret == "" {
		return "", "", core.New(core.KindConfiguration, "%s and %s must be set to read secrets from Infisical", EnvClientID, EnvClientSecret)
	}
	return id, secret, nil
}

func NewInfisical(ctx context.Context, settings config.InfisicalSettings) (*Infisical, error) {
	id, secret, err := credentials()
	if err != nil {
		return nil, err
	}

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          settings.SiteURL,
		AutoTokenRefresh: true,
		SilentMode:       true,
	})
	if _, err := client.Auth().UniversalAuthLogin(id, secret); err != nil {
		return nil, core.Wrap(err, core.KindNetwork, "infisical authentication failed")
	}
	return &Infisical{client: client, settings: settings}, nil
}

func (s *Infisical) Get(_ context.Context, key string) (string, error) {
	secret, err := s.client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
		SecretKey:   key,
		Environment: s.settings.Environment,
		ProjectID:   s.settings.ProjectID,
		SecretPath:  s.settings.SecretPath,
	})
	if err != nil {
		return "", core.Wrap(err, core.KindNetwork, "error retrieving secret %s", key)
	}
	return secret.SecretValue, nil
}

// Static serves fixed values; unattended runs without Infisical use it with
// values from the environment.
type Static map[string]string

func (s Static) Get(_ context.Context, key string) (string, error) {
	v, ok := s[key]
	if !ok || v == "" {
		return "", core.New(core.KindConfiguration, "secret %s is not set", key)
	}
	return v, nil
}
