package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
)

const (
	osReleasePath   = "/etc/os-release"
	filesystemsPath = "/proc/filesystems"
	dockerDataRoot  = "/var/lib/docker"
)

var requiredBinaries = []string{"apt-get", "systemctl", "useradd", "userdel", "chpasswd", "install", "tar", "sshd"}

var supportedDistros = []string{"debian", "ubuntu"}

// preflight checks the host can take the install before anything changes.
func (rc *RunContext) preflight(ctx context.Context, skipDocker bool) error {
	if err := rc.requireRoot(ctx); err != nil {
		return err
	}
	if err := rc.checkDistribution(ctx); err != nil {
		return err
	}

	binaries := requiredBinaries
	if skipDocker {
		binaries = append(append([]string(nil), binaries...), "docker")
	}
	var missing []string
	for _, bin := range binaries {
		if _, err := rc.Host.LookPath(ctx, bin); err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) > 0 {
		return core.New(core.KindDependency, "missing required binaries: %s", strings.Join(missing, ", "))
	}

	if err := rc.checkKernel(ctx); err != nil {
		return err
	}
	if err := rc.checkOverlay(ctx); err != nil {
		return err
	}
	return rc.checkFreeSpace(ctx)
}

func (rc *RunContext) requireRoot(ctx context.Context) error {
	uid, err := rc.Host.EffectiveUID(ctx)
	if err != nil {
		return err
	}
	if uid != 0 {
		return core.New(core.KindPermission, "must run as root (effective uid %d)", uid)
	}
	return nil
}

func (rc *RunContext) checkDistribution(ctx context.Context) error {
	data, err := rc.Host.ReadFile(ctx, osReleasePath)
	if errors.Is(err, fs.ErrNotExist) {
		return core.New(core.KindDependency, "%s not found, only Debian and Ubuntu are supported", osReleasePath)
	}
	if err != nil {
		return err
	}
	release := parseOSRelease(string(data))
	ids := append([]string{release["ID"]}, strings.Fields(release["ID_LIKE"])...)
	for _, id := range ids {
		for _, want := range supportedDistros {
			if id == want {
				return nil
			}
		}
	}
	return core.New(core.KindDependency, "unsupported distribution %q, only Debian and Ubuntu are supported", release["ID"])
}

// parseOSRelease reads KEY=value lines, unquoting values.
func parseOSRelease(s string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(s, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || strings.HasPrefix(key, "#") {
			continue
		}
		if unquoted, err := strconv.Unquote(value); err == nil {
			value = unquoted
		} else {
			value = strings.Trim(value, `'"`)
		}
		out[key] = value
	}
	return out
}

func (rc *RunContext) checkKernel(ctx context.Context) error {
	release, err := rc.Host.Kernel(ctx)
	if err != nil {
		return err
	}
	minimum := rc.Settings.Preflight.MinKernel
	if minimum == "" {
		return nil
	}
	ok, err := versionAtLeast(release, minimum)
	if err != nil {
		return core.Wrap(err, core.KindDependency, "cannot parse kernel release %q", release)
	}
	if !ok {
		return core.New(core.KindDependency, "kernel %s is older than the required %s", release, minimum)
	}
	return nil
}

// versionAtLeast compares the leading major.minor of a kernel release.
func versionAtLeast(release, minimum string) (bool, error) {
	have, err := majorMinor(release)
	if err != nil {
		return false, err
	}
	want, err := majorMinor(minimum)
	if err != nil {
		return false, err
	}
	if have[0] != want[0] {
		return have[0] > want[0], nil
	}
	return have[1] >= want[1], nil
}

func majorMinor(v string) ([2]int, error) {
	var out [2]int
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return out, fmt.Errorf("version %q has no minor component", v)
	}
	for i := 0; i < 2; i++ {
		digits := strings.TrimRightFunc(parts[i], func(r rune) bool { return r < '0' || r > '9' })
		n, err := strconv.Atoi(digits)
		if err != nil {
			return out, fmt.Errorf("invalid version %q", v)
		}
		out[i] = n
	}
	return out, nil
}

func (rc *RunContext) checkOverlay(ctx context.Context) error {
	data, err := rc.Host.ReadFile(ctx, filesystemsPath)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			fields := strings.Fields(line)
			if len(fields) > 0 && fields[len(fields)-1] == "overlay" {
				return nil
			}
		}
	}
	// Not registered yet; the module may still be loadable.
	ok, perr := rc.Exec.Probe(ctx, executor.Cmd("modprobe", "overlay"))
	if perr == nil && ok {
		return nil
	}
	return core.New(core.KindDependency, "the overlay filesystem is not available to the kernel")
}

func (rc *RunContext) checkFreeSpace(ctx context.Context) error {
	need := uint64(rc.Settings.Preflight.MinFreeGiB) << 30
	for _, p := range []string{rc.Settings.Paths.MediaRoot, dockerDataRoot} {
		free, err := rc.Host.FreeSpace(ctx, p)
		if err != nil {
			return err
		}
		if rc.free == 0 || free < rc.free {
			rc.free = free
		}
		if free < need {
			return core.New(core.KindFilesystem, "insufficient free space for %s: %s available, %d GiB required",
				p, humanize.IBytes(free), rc.Settings.Preflight.MinFreeGiB)
		}
	}
	return nil
}
