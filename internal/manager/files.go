package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/brimblehq/mediastack/internal/compose"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/transaction"
	"github.com/brimblehq/mediastack/internal/ui"
)

// ensureDir creates dir with the given mode and ownership. A directory that
// already exists is left alone and gets no compensating action.
func (rc *RunContext) ensureDir(ctx context.Context, undo *transaction.Undo, dir, mode string, uid, gid int) error {
	ok, err := rc.Host.Exists(ctx, dir)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	undo.Push("rm -rf "+dir, func(ctx context.Context) error {
		return rc.run(ctx, executor.Cmd("rm", "-rf", "--one-file-system", dir))
	})
	return rc.run(ctx, executor.Cmd("install", "-d", "-m", mode,
		"-o", fmt.Sprint(uid), "-g", fmt.Sprint(gid), dir))
}

// ensureFile writes data to p unless it already holds exactly that content.
// The compensating action puts back the previous content, or removes a file
// that did not exist.
func (rc *RunContext) ensureFile(ctx context.Context, undo *transaction.Undo, p string, data []byte, perm os.FileMode) (bool, error) {
	old, err := rc.Host.ReadFile(ctx, p)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if existed && bytes.Equal(old, data) {
		return false, nil
	}

	undo.Push("restore "+p, func(ctx context.Context) error {
		if existed {
			return rc.Host.WriteFile(ctx, p, old, perm)
		}
		return rc.Host.RemoveFile(ctx, p)
	})
	return true, rc.Host.WriteFile(ctx, p, data, perm)
}

func (rc *RunContext) composeInput() compose.Input {
	return compose.Input{
		UID:        rc.owner.UID,
		GID:        rc.owner.GID,
		Timezone:   rc.install.Timezone,
		ConfigRoot: rc.Settings.Paths.ConfigRoot,
		MediaRoot:  rc.Settings.Paths.MediaRoot,
	}
}

func (rc *RunContext) writeCompose(ctx context.Context, undo *transaction.Undo) error {
	doc, err := compose.Render(rc.Services, rc.composeInput())
	if err != nil {
		return err
	}
	changed, err := rc.ensureFile(ctx, undo, rc.Settings.Paths.ComposeFile, doc, 0o644)
	if err != nil {
		return err
	}
	if !changed {
		rc.Progress.MarkSkipped("compose file unchanged")
	}
	return nil
}

// writeMOTD leaves the tunnel instructions where an operator logging in
// will see them.
func (rc *RunContext) writeMOTD(ctx context.Context, undo *transaction.Undo) error {
	addr, err := rc.advertiseHost(ctx)
	if err != nil {
		addr = "<host>"
	}
	var buf bytes.Buffer
	ui.RenderTunnelInstructions(&buf, rc.install.TunnelUser, addr, rc.loopbackPorts())

	motd := rc.install.MOTDPath
	if err := rc.ensureDir(ctx, undo, path.Dir(motd), "0755", 0, 0); err != nil {
		return err
	}
	changed, err := rc.ensureFile(ctx, undo, motd, buf.Bytes(), 0o644)
	if err != nil {
		return err
	}
	if !changed {
		rc.Progress.MarkSkipped("motd unchanged")
	}
	return nil
}
