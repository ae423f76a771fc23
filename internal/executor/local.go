package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/brimblehq/mediastack/internal/core"
)

// LocalRunner runs commands on this machine.
type LocalRunner struct{}

func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

func (r *LocalRunner) Run(ctx context.Context, cmd Command) Result {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Echo != nil {
		c.Stdout = io.MultiWriter(&stdout, cmd.Echo)
		c.Stderr = io.MultiWriter(&stderr, cmd.Echo)
	}

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.ExitCode = core.ExitTimedOut
		res.Err = ctx.Err()
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		res.ExitCode = exitErr.ExitCode()
		return res
	}
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		res.ExitCode = core.ExitMissingCommand
	case errors.Is(err, os.ErrPermission):
		res.ExitCode = core.ExitCannotExecute
	default:
		res.ExitCode = -1
	}
	res.Err = err
	return res
}
