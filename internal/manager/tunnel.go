package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/host"
	"github.com/brimblehq/mediastack/internal/transaction"
	"github.com/brimblehq/mediastack/internal/types"
)

const (
	sshdBlockBegin = "# BEGIN mediastack tunnel"
	sshdBlockEnd   = "# END mediastack tunnel"
	nologinShell   = "/usr/sbin/nologin"
)

// sshdBlock confines the tunnel user to local port forwarding towards the
// loopback-only services.
func sshdBlock(user string, ports []int) string {
	permit := make([]string, len(ports))
	for i, p := range ports {
		permit[i] = fmt.Sprintf("127.0.0.1:%d", p)
	}
	lines := []string{
		sshdBlockBegin,
		"Match User " + user,
		"    PasswordAuthentication yes",
		"    AllowTcpForwarding local",
		"    PermitOpen " + strings.Join(permit, " "),
		"    X11Forwarding no",
		"    AllowAgentForwarding no",
		"    PermitTTY no",
		"    ForceCommand /bin/false",
		sshdBlockEnd,
	}
	return strings.Join(lines, "\n") + "\n"
}

// stripSSHDBlock removes the managed block, if any, and reports whether it
// was present.
func stripSSHDBlock(content string) (string, bool) {
	start := strings.Index(content, sshdBlockBegin)
	if start < 0 {
		return content, false
	}
	end := strings.Index(content[start:], sshdBlockEnd)
	if end < 0 {
		return content, false
	}
	end = start + end + len(sshdBlockEnd)
	if end < len(content) && content[end] == '\n' {
		end++
	}
	head := strings.TrimRight(content[:start], "\n")
	if head != "" {
		head += "\n"
	}
	return head + content[end:], true
}

// withSSHDBlock returns content with exactly one managed block, placed at
// the end where a Match section cannot swallow global options.
func withSSHDBlock(content, block string) string {
	stripped, _ := stripSSHDBlock(content)
	stripped = strings.TrimRight(stripped, "\n")
	if stripped == "" {
		return block
	}
	return stripped + "\n\n" + block
}

func (rc *RunContext) userExists(ctx context.Context, name string) (bool, error) {
	_, err := rc.Host.LookupUser(ctx, name)
	if errors.Is(err, host.ErrNoSuchUser) {
		return false, nil
	}
	return err == nil, err
}

// deleteUser removes the account and its home directory if it still exists.
func (rc *RunContext) deleteUser(ctx context.Context, name string) error {
	ok, err := rc.userExists(ctx, name)
	if err != nil || !ok {
		return err
	}
	return rc.run(ctx, executor.Cmd("userdel", "--remove", name))
}

func (rc *RunContext) restartSSH(ctx context.Context) error {
	if err := rc.run(ctx, executor.Cmd("sshd", "-t")); err != nil {
		return core.Wrap(err, core.KindConfiguration, "sshd rejected the configuration")
	}
	return rc.run(ctx, executor.Cmd("systemctl", "restart", "ssh").Retry())
}

func (rc *RunContext) provisionTunnelUser(ctx context.Context, undo *transaction.Undo) error {
	name := rc.install.TunnelUser
	exists, err := rc.userExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		undo.Push("userdel --remove "+name, func(ctx context.Context) error {
			return rc.deleteUser(ctx, name)
		})
		if err := rc.run(ctx, executor.Cmd("useradd", "--create-home", "--shell", nologinShell, "--user-group", name)); err != nil {
			return err
		}
	}

	// The password is always reset so a rerun applies a changed one.
	if err := rc.run(ctx, executor.Cmd("chpasswd").WithStdin(name+":"+rc.install.TunnelPassword+"\n")); err != nil {
		return err
	}

	account, err := rc.Host.LookupUser(ctx, name)
	if err != nil {
		return err
	}
	if rc.install.TunnelAuthorizedKey != "" {
		if err := rc.installAuthorizedKey(ctx, undo, account); err != nil {
			return err
		}
	}

	changed, err := rc.ensureSSHDBlock(ctx, undo, sshdBlock(name, rc.loopbackPorts()))
	if err != nil {
		return err
	}
	if exists && !changed {
		rc.Progress.MarkSkipped("tunnel user already configured")
	}
	return nil
}

// installAuthorizedKey restricts the key to port forwarding towards the
// loopback services.
func (rc *RunContext) installAuthorizedKey(ctx context.Context, undo *transaction.Undo, account types.Owner) error {
	sshDir := path.Join(account.Home, ".ssh")
	if err := rc.ensureDir(ctx, undo, sshDir, "0700", account.UID, account.GID); err != nil {
		return err
	}

	opts := []string{"restrict", "port-forwarding"}
	for _, p := range rc.loopbackPorts() {
		opts = append(opts, fmt.Sprintf(`permitopen="127.0.0.1:%d"`, p))
	}
	line := strings.Join(opts, ",") + " " + strings.TrimSpace(rc.install.TunnelAuthorizedKey) + "\n"

	keyFile := path.Join(sshDir, "authorized_keys")
	changed, err := rc.ensureFile(ctx, undo, keyFile, []byte(line), 0o600)
	if err != nil || !changed {
		return err
	}
	return rc.run(ctx, executor.Cmd("chown", fmt.Sprintf("%d:%d", account.UID, account.GID), keyFile))
}

// ensureSSHDBlock writes the managed block and restarts sshd when the file
// changes. The compensating action restores the previous file and restarts
// again.
func (rc *RunContext) ensureSSHDBlock(ctx context.Context, undo *transaction.Undo, block string) (bool, error) {
	cfgPath := rc.Settings.Paths.SSHDConfig
	old, err := rc.Host.ReadFile(ctx, cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, core.New(core.KindDependency, "%s not found, is openssh-server installed?", cfgPath)
	}
	if err != nil {
		return false, err
	}

	updated := withSSHDBlock(string(old), block)
	if updated == string(old) {
		return false, nil
	}

	undo.Push("restore "+cfgPath, func(ctx context.Context) error {
		if err := rc.Host.WriteFile(ctx, cfgPath, old, 0o644); err != nil {
			return err
		}
		return rc.restartSSH(ctx)
	})
	if err := rc.Host.WriteFile(ctx, cfgPath, []byte(updated), 0o644); err != nil {
		return false, err
	}
	return true, rc.restartSSH(ctx)
}

// removeSSHDBlock strips the managed block; uninstall uses it.
func (rc *RunContext) removeSSHDBlock(ctx context.Context) (bool, error) {
	cfgPath := rc.Settings.Paths.SSHDConfig
	old, err := rc.Host.ReadFile(ctx, cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	stripped, found := stripSSHDBlock(string(old))
	if !found {
		return false, nil
	}
	if err := rc.Host.WriteFile(ctx, cfgPath, []byte(stripped), 0o644); err != nil {
		return false, err
	}
	return true, rc.restartSSH(ctx)
}
