// Package config merges built-in defaults, the TOML config file and
// MEDIASTACK_* environment overrides into Settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/brimblehq/mediastack/internal/core"
)

// Load reads settings. A missing file at the default path is fine; a missing
// file the operator named explicitly is a configuration error.
func Load(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	return load(path, explicit)
}

func load(path string, explicit bool) (*Settings, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file if it exists
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, core.Wrap(err, core.KindConfiguration, "failed to load config from %s", path)
		}
	} else if !errors.Is(err, fs.ErrNotExist) || explicit {
		return nil, core.Wrap(err, core.KindConfiguration, "config file %s", path)
	}

	// 3. Env vars, MEDIASTACK_SECTION__KEY
	err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Unmarshal
	var cfg Settings
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, core.Wrap(err, core.KindConfiguration, "failed to unmarshal configuration")
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
}

// check rejects settings the run cannot work with, independent of the host.
func (s *Settings) check() error {
	switch {
	case s.Retry.MaxAttempts < 1:
		return core.New(core.KindConfiguration, "retry.max_attempts must be at least 1")
	case s.Retry.Delay < 0:
		return core.New(core.KindConfiguration, "retry.delay must not be negative")
	case s.Health.Attempts < 1:
		return core.New(core.KindConfiguration, "health.attempts must be at least 1")
	case s.Preflight.MinFreeGiB < 0:
		return core.New(core.KindConfiguration, "preflight.min_free_gib must not be negative")
	}
	for name, p := range map[string]string{
		"paths.compose_file": s.Paths.ComposeFile,
		"paths.config_root":  s.Paths.ConfigRoot,
		"paths.media_root":   s.Paths.MediaRoot,
		"paths.state_dir":    s.Paths.StateDir,
	} {
		if !strings.HasPrefix(p, "/") {
			return core.New(core.KindConfiguration, "%s must be an absolute path, got %q", name, p)
		}
	}
	return nil
}
