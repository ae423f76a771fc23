package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/pelletier/go-toml/v2"

	"github.com/brimblehq/mediastack/internal/core"
)

// Sample returns the defaults rendered as a TOML document, with the fields
// an operator must fill in left empty.
func Sample() ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	for _, key := range []string{"install.owner", "install.allowed_cidr", "install.tunnel_password"} {
		if err := k.Set(key, ""); err != nil {
			return nil, err
		}
	}
	data, err := toml.Marshal(k.Raw())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample config: %w", err)
	}
	return append([]byte("# mediastack configuration\n# Environment overrides: MEDIASTACK_<SECTION>__<KEY>\n\n"), data...), nil
}

// WriteSample writes Sample to path, refusing to replace an existing file
// unless force is set.
func WriteSample(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return core.New(core.KindConfiguration, "%s already exists, use --force to overwrite", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return core.Wrap(err, core.KindFilesystem, "failed to stat %s", path)
	}
	data, err := Sample()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.Wrap(err, core.KindFilesystem, "failed to create %s", filepath.Dir(path))
	}
	// The file may later hold the tunnel password.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return core.Wrap(err, core.KindFilesystem, "failed to write %s", path)
	}
	return nil
}
