package manager

import (
	"context"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/transaction"
)

const (
	dockerScriptURL  = "https://get.docker.com"
	dockerScriptPath = "/tmp/get-docker.sh"
)

var dockerPackages = []string{
	"docker-ce", "docker-ce-cli", "containerd.io",
	"docker-buildx-plugin", "docker-compose-plugin", "docker-ce-rootless-extras",
}

// dockerReady reports whether both the engine CLI and the compose plugin
// answer.
func (rc *RunContext) dockerReady(ctx context.Context) (bool, error) {
	if _, err := rc.Host.LookPath(ctx, "docker"); err != nil {
		return false, nil
	}
	return rc.Exec.Probe(ctx, executor.Cmd("docker", "compose", "version"))
}

func (rc *RunContext) installDocker(ctx context.Context, undo *transaction.Undo, skip bool) error {
	ready, err := rc.dockerReady(ctx)
	if err != nil {
		return err
	}
	if ready {
		rc.Progress.MarkSkipped("docker already installed")
		return nil
	}
	if skip {
		return core.New(core.KindDependency, "docker with the compose plugin is required when --skip-docker is set")
	}

	undo.Push("apt-get purge docker", func(ctx context.Context) error {
		_ = rc.Host.RemoveFile(ctx, dockerScriptPath)
		return rc.run(ctx, apt(append([]string{"purge", "-y"}, dockerPackages...)...))
	})
	for _, cmd := range []executor.Command{
		executor.Cmd("curl", "-fsSL", dockerScriptURL, "-o", dockerScriptPath).Retry(),
		executor.Cmd("sh", dockerScriptPath).Retry(),
		executor.Cmd("systemctl", "enable", "--now", "docker").Retry(),
	} {
		if err := rc.run(ctx, cmd); err != nil {
			return err
		}
	}
	return rc.Host.RemoveFile(ctx, dockerScriptPath)
}
