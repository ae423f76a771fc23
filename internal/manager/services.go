package manager

import (
	"context"
	"strings"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/transaction"
)

const inspectFormat = "{{.State.Status}} {{if .State.Health}}{{.State.Health.Status}}{{end}}"

// ServiceHealth is the last observed state of one container.
type ServiceHealth struct {
	Name    string
	State   string
	Health  string
	Healthy bool
}

func (rc *RunContext) compose(args ...string) executor.Command {
	return executor.Cmd("docker", append([]string{"compose", "-f", rc.Settings.Paths.ComposeFile}, args...)...)
}

func (rc *RunContext) stackRunning(ctx context.Context) (bool, error) {
	out, err := rc.output(ctx, rc.compose("ps", "-q"))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// launchServices pulls and starts the stack. Containers are only torn down
// on rollback when this run started them.
func (rc *RunContext) launchServices(ctx context.Context, undo *transaction.Undo) error {
	running, err := rc.stackRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		undo.Push("docker compose down", func(ctx context.Context) error {
			return rc.run(ctx, rc.compose("down", "--remove-orphans"))
		})
	}
	if err := rc.run(ctx, rc.compose("pull").Retry()); err != nil {
		return err
	}
	return rc.run(ctx, rc.compose("up", "-d", "--remove-orphans").Retry())
}

func (rc *RunContext) inspect(ctx context.Context, name string) ServiceHealth {
	h := ServiceHealth{Name: name, State: "missing"}
	out := rc.Exec.Execute(ctx, executor.Cmd("docker", "container", "inspect", "--format", inspectFormat, name))
	if !out.OK() {
		return h
	}
	fields := strings.Fields(out.Stdout)
	if len(fields) > 0 {
		h.State = fields[0]
	}
	if len(fields) > 1 {
		h.Health = fields[1]
	}
	h.Healthy = h.State == "running" && (h.Health == "" || h.Health == "healthy")
	return h
}

// verifyHealth polls every container until all are healthy or the attempts
// run out. It never fails the run: what stays unhealthy becomes a warning.
func (rc *RunContext) verifyHealth(ctx context.Context) []ServiceHealth {
	attempts := rc.Settings.Health.Attempts
	if attempts < 1 {
		attempts = 1
	}
	results := make([]ServiceHealth, len(rc.Services))
	for round := 1; round <= attempts; round++ {
		pending := 0
		for i, svc := range rc.Services {
			if results[i].Healthy {
				continue
			}
			results[i] = rc.inspect(ctx, svc.Name)
			if !results[i].Healthy {
				pending++
			}
		}
		if pending == 0 || round == attempts {
			break
		}
		rc.Logger.Debug().Int("round", round).Int("pending", pending).Msg("Waiting for services to become healthy")
		if err := rc.Sleep(ctx, rc.Settings.Health.Interval); err != nil {
			break
		}
	}

	for _, h := range results {
		if !h.Healthy {
			rc.warn(core.New(core.KindRuntime, "%s is not healthy (state %s, health %s)", h.Name, h.State, orNone(h.Health)), "Service did not become healthy")
		}
	}
	return results
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
