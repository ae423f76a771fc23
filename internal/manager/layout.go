package manager

import (
	"context"
	"fmt"
	"path"

	"github.com/brimblehq/mediastack/internal/compose"
	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/transaction"
)

type layoutDir struct {
	path     string
	mode     string
	uid, gid int
}

// layout lists the directories in creation order, parents first.
func (rc *RunContext) layout() []layoutDir {
	p := rc.Settings.Paths
	uid, gid := rc.owner.UID, rc.owner.GID

	dirs := []layoutDir{
		{path.Dir(p.ComposeFile), "0755", 0, 0},
		{p.ConfigRoot, "0755", uid, gid},
	}
	for _, svc := range rc.Services {
		dirs = append(dirs, layoutDir{path.Join(p.ConfigRoot, svc.Name), "0755", uid, gid})
	}
	dirs = append(dirs, layoutDir{p.MediaRoot, "0775", uid, gid})
	for _, sub := range compose.MediaDirs {
		dirs = append(dirs, layoutDir{path.Join(p.MediaRoot, sub), "0775", uid, gid})
	}
	return dirs
}

func (rc *RunContext) createLayout(ctx context.Context, undo *transaction.Undo) error {
	created := 0
	for _, d := range rc.layout() {
		before := undo.Len()
		if err := rc.ensureDir(ctx, undo, d.path, d.mode, d.uid, d.gid); err != nil {
			return err
		}
		if undo.Len() > before {
			created++
		}
	}
	if created == 0 {
		rc.Progress.MarkSkipped("layout already present")
	}
	return nil
}

// restoreConfig unpacks a backup made by backup-config over the config root.
// Existing files are overwritten and not compensated.
func (rc *RunContext) restoreConfig(ctx context.Context, archive string) error {
	ok, err := rc.Host.Exists(ctx, archive)
	if err != nil {
		return err
	}
	if !ok {
		return core.New(core.KindFilesystem, "restore archive %s does not exist", archive)
	}
	root := rc.Settings.Paths.ConfigRoot
	if err := rc.run(ctx, executor.Cmd("tar", "-xzf", archive, "-C", root)); err != nil {
		return err
	}
	return rc.run(ctx, executor.Cmd("chown", "-R", fmt.Sprintf("%d:%d", rc.owner.UID, rc.owner.GID), root))
}
