package notification

import (
	"context"
	"fmt"

	"github.com/brimblehq/mediastack/internal/executor"
)

type Notifier interface {
	Send(ctx context.Context, title, message string) error
}

// Wall broadcasts to every logged-in terminal on the managed host, which is
// where an operator watching a long install is most likely to be.
type Wall struct {
	exec *executor.Executor
}

func NewWall(exec *executor.Executor) *Wall {
	return &Wall{exec: exec}
}

func (n *Wall) Send(ctx context.Context, title, message string) error {
	body := fmt.Sprintf("mediastack: %s\n%s\n", title, message)
	out := n.exec.Execute(ctx, executor.Cmd("wall").WithStdin(body))
	return out.AsError()
}

type Nop struct{}

func (Nop) Send(context.Context, string, string) error {
	return nil
}

func New(exec *executor.Executor, enabled bool) Notifier {
	if !enabled {
		return Nop{}
	}
	return NewWall(exec)
}
