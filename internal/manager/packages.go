package manager

import (
	"context"

	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/transaction"
)

var basePackages = []string{"ufw", "curl", "ca-certificates"}

func apt(args ...string) executor.Command {
	return executor.Cmd("apt-get", args...).
		WithEnv("DEBIAN_FRONTEND=noninteractive").
		Retry()
}

// updatePackages has no compensating action: upgraded packages are not
// downgraded on rollback.
func (rc *RunContext) updatePackages(ctx context.Context, _ *transaction.Undo) error {
	cmds := []executor.Command{
		apt("update"),
		apt("upgrade", "-y", "-o", "Dpkg::Options::=--force-confdef", "-o", "Dpkg::Options::=--force-confold"),
		apt("autoremove", "-y"),
		apt(append([]string{"install", "-y", "--no-install-recommends"}, basePackages...)...),
	}
	for _, cmd := range cmds {
		if err := rc.run(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
