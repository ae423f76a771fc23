package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/brimblehq/mediastack/internal/core"
)

const lockName = "mediastack.lock"

// ErrLocked is returned when another run holds the lock.
var ErrLocked = core.New(core.KindRuntime, "another mediastack run is in progress")

type Lock struct {
	fl *flock.Flock
}

// LockPath picks the lock file. Local runs lock inside the state directory;
// runs against a remote target lock a per-target file in the user cache dir.
func LockPath(stateDir, target string) string {
	if target == "" {
		return filepath.Join(stateDir, lockName)
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := strings.NewReplacer("@", "_", ":", "_", "/", "_", "[", "", "]", "").Replace(target)
	return filepath.Join(dir, "mediastack", name+".lock")
}

// Acquire takes the lock without waiting.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, core.Wrap(err, core.KindFilesystem, "failed to create lock directory")
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, core.Wrap(err, core.KindFilesystem, "failed to lock %s", path)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
