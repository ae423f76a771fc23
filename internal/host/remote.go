package host

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/types"
)

// Remote answers host queries by running coreutils over the executor, which
// is backed by an SSH session when --target is given.
type Remote struct {
	exec    *executor.Executor
	address string
}

func NewRemote(exec *executor.Executor, address string) *Remote {
	return &Remote{exec: exec, address: address}
}

func (r *Remote) EffectiveUID(ctx context.Context) (int, error) {
	out, err := r.exec.Output(ctx, executor.Cmd("id", "-u"))
	if err != nil {
		return -1, err
	}
	uid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return -1, fmt.Errorf("unexpected output from id -u: %q", out)
	}
	return uid, nil
}

func (r *Remote) ReadFile(ctx context.Context, p string) ([]byte, error) {
	ok, err := r.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	out, err := r.exec.Output(ctx, executor.Cmd("cat", p))
	if err != nil {
		return nil, core.Wrap(err, core.KindFilesystem, "failed to read %s", p)
	}
	return []byte(out), nil
}

const writeScript = `set -e; d=$(dirname "$1"); mkdir -p "$d"; t=$(mktemp "$d/.mediastack.XXXXXX"); cat > "$t"; chmod "$2" "$t"; mv -f "$t" "$1"`

func (r *Remote) WriteFile(ctx context.Context, p string, data []byte, perm os.FileMode) error {
	cmd := executor.Cmd("sh", "-c", writeScript, "sh", p, fmt.Sprintf("%04o", perm.Perm())).
		WithStdin(string(data))
	if out := r.exec.Execute(ctx, cmd); !out.OK() {
		return core.Wrap(out.AsError(), core.KindFilesystem, "failed to write %s", p)
	}
	return nil
}

func (r *Remote) RemoveFile(ctx context.Context, p string) error {
	if out := r.exec.Execute(ctx, executor.Cmd("rm", "-f", p)); !out.OK() {
		return core.Wrap(out.AsError(), core.KindFilesystem, "failed to remove %s", p)
	}
	return nil
}

func (r *Remote) Exists(ctx context.Context, p string) (bool, error) {
	return r.exec.Probe(ctx, executor.Cmd("test", "-e", p))
}

func (r *Remote) FreeSpace(ctx context.Context, p string) (uint64, error) {
	for dir := path.Clean(p); ; dir = path.Dir(dir) {
		ok, err := r.Exists(ctx, dir)
		if err != nil {
			return 0, err
		}
		if !ok && dir != "/" {
			continue
		}
		out, err := r.exec.Output(ctx, executor.Cmd("df", "-B1", "--output=avail", dir))
		if err != nil {
			return 0, err
		}
		return parseDFAvail(out)
	}
}

func parseDFAvail(out string) (uint64, error) {
	lines := strings.Fields(strings.TrimSpace(out))
	if len(lines) < 2 {
		return 0, fmt.Errorf("unexpected df output: %q", out)
	}
	n, err := strconv.ParseUint(lines[len(lines)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected df output: %q", out)
	}
	return n, nil
}

func (r *Remote) LookPath(ctx context.Context, name string) (string, error) {
	out := r.exec.Execute(ctx, executor.Cmd("sh", "-c", `command -v "$1"`, "sh", name))
	if !out.OK() {
		return "", core.New(core.KindDependency, "required binary %s not found in PATH", name)
	}
	return strings.TrimSpace(out.Stdout), nil
}

// getent exits 2 when the key is not found.
const getentNotFound = 2

func (r *Remote) LookupUser(ctx context.Context, name string) (types.Owner, error) {
	out := r.exec.Execute(ctx, executor.Cmd("getent", "passwd", name))
	if out.ExitCode == getentNotFound {
		return types.Owner{}, fmt.Errorf("%s: %w", name, ErrNoSuchUser)
	}
	if err := out.AsError(); err != nil {
		return types.Owner{}, err
	}
	return parsePasswd(out.Stdout)
}

// parsePasswd reads one name:x:uid:gid:gecos:home:shell line.
func parsePasswd(line string) (types.Owner, error) {
	fields := strings.Split(strings.TrimSpace(line), ":")
	if len(fields) < 7 {
		return types.Owner{}, fmt.Errorf("malformed passwd entry: %q", line)
	}
	uid, err := strconv.Atoi(fields[2])
	if err != nil {
		return types.Owner{}, fmt.Errorf("malformed uid in passwd entry: %q", line)
	}
	gid, err := strconv.Atoi(fields[3])
	if err != nil {
		return types.Owner{}, fmt.Errorf("malformed gid in passwd entry: %q", line)
	}
	return types.Owner{Name: fields[0], UID: uid, GID: gid, Home: fields[5]}, nil
}

func (r *Remote) Kernel(ctx context.Context) (string, error) {
	out, err := r.exec.Output(ctx, executor.Cmd("uname", "-r"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Remote) PrimaryAddress(ctx context.Context) (string, error) {
	if r.address != "" {
		return r.address, nil
	}
	out, err := r.exec.Output(ctx, executor.Cmd("hostname", "-I"))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("hostname -I returned no addresses")
	}
	return fields[0], nil
}
