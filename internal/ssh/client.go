package ssh

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
)

const dialTimeout = 10 * time.Second

// SSHClient runs commands on a Target, one session per command. It satisfies
// executor.Runner.
type SSHClient struct {
	Client *ssh.Client
	target Target
}

func NewSSHClient(target Target, identity string, logger zerolog.Logger) (*SSHClient, error) {
	signer, err := loadSigner(identity)
	if err != nil {
		return nil, err
	}
	callback, verified, err := hostKeyCallback()
	if err != nil {
		return nil, err
	}
	if !verified {
		logger.Warn().Str("target", target.String()).Msg("No known_hosts file, host key is not verified")
	}

	config := &ssh.ClientConfig{
		User: target.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: callback,
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", target.Addr(), config)
	if err != nil {
		return nil, core.Wrap(err, core.KindNetwork, "failed to connect to %s", target)
	}

	return &SSHClient{Client: client, target: target}, nil
}

// commandLine renders cmd for the remote shell, elevating through sudo when
// the login user is not root.
func (s *SSHClient) commandLine(cmd executor.Command) string {
	line := cmd.ShellLine()
	if s.target.Privileged() {
		return line
	}
	return "sudo -n -- sh -c " + executor.ShellQuote(line)
}

func (s *SSHClient) Run(ctx context.Context, cmd executor.Command) executor.Result {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	session, err := s.Client.NewSession()
	if err != nil {
		return executor.Result{ExitCode: -1, Err: core.Wrap(err, core.KindNetwork, "failed to create session")}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Echo != nil {
		session.Stdout = io.MultiWriter(&stdout, cmd.Echo)
		session.Stderr = io.MultiWriter(&stderr, cmd.Echo)
	}
	if cmd.Stdin != "" {
		session.Stdin = strings.NewReader(cmd.Stdin)
	}

	done := make(chan error, 1)
	if err := session.Start(s.commandLine(cmd)); err != nil {
		return executor.Result{ExitCode: -1, Err: err}
	}
	go func() { done <- session.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		code := -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = core.ExitTimedOut
		}
		return executor.Result{ExitCode: code, Stdout: stdout.String(), Stderr: stderr.String(), Err: ctx.Err()}
	}

	res := executor.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	return res
}

func (s *SSHClient) Close() error {
	return s.Client.Close()
}
