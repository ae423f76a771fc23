package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/types"
)

// Local is the machine the binary runs on.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) EffectiveUID(context.Context) (int, error) {
	return unix.Geteuid(), nil
}

func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fsError(err, "failed to read %s", path)
	}
	return data, err
}

// WriteFile replaces path atomically through a sibling temp file.
func (l *Local) WriteFile(_ context.Context, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fsError(err, "failed to create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fsError(err, "failed to create temp file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fsError(err, "failed to write %s", path)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fsError(err, "failed to chmod %s", path)
	}
	if err := tmp.Close(); err != nil {
		return fsError(err, "failed to write %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fsError(err, "failed to replace %s", path)
	}
	return nil
}

func (l *Local) RemoveFile(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fsError(err, "failed to remove %s", path)
	}
	return nil
}

func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fsError(err, "failed to stat %s", path)
}

func (l *Local) FreeSpace(_ context.Context, path string) (uint64, error) {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		var st unix.Statfs_t
		err := unix.Statfs(p, &st)
		if err == nil {
			return st.Bavail * uint64(st.Bsize), nil
		}
		if !errors.Is(err, unix.ENOENT) || p == "/" {
			return 0, fsError(err, "failed to stat filesystem of %s", path)
		}
	}
}

func (l *Local) LookPath(_ context.Context, name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", core.Wrap(err, core.KindDependency, "required binary %s not found in PATH", name)
	}
	return p, nil
}

func (l *Local) LookupUser(_ context.Context, name string) (types.Owner, error) {
	u, err := user.Lookup(name)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return types.Owner{}, fmt.Errorf("%s: %w", name, ErrNoSuchUser)
		}
		return types.Owner{}, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return types.Owner{}, fmt.Errorf("unexpected uid %q for %s", u.Uid, name)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return types.Owner{}, fmt.Errorf("unexpected gid %q for %s", u.Gid, name)
	}
	return types.Owner{Name: u.Username, UID: uid, GID: gid, Home: u.HomeDir}, nil
}

func (l *Local) Kernel(context.Context) (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname failed: %w", err)
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

func (l *Local) PrimaryAddress(context.Context) (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("failed to list interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		return ipnet.IP.String(), nil
	}
	return "", errors.New("no non-loopback IPv4 address found")
}

func fsError(err error, format string, args ...interface{}) error {
	kind := core.KindFilesystem
	if errors.Is(err, fs.ErrPermission) {
		kind = core.KindPermission
	}
	return core.Wrap(err, kind, format, args...)
}
