package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/brimblehq/mediastack/internal/audit"
	"github.com/brimblehq/mediastack/internal/config"
	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/host"
	"github.com/brimblehq/mediastack/internal/logging"
	"github.com/brimblehq/mediastack/internal/manager"
	"github.com/brimblehq/mediastack/internal/secrets"
	"github.com/brimblehq/mediastack/internal/ssh"
	"github.com/brimblehq/mediastack/internal/state"
	"github.com/brimblehq/mediastack/internal/ui"
)

var (
	configPath string
	target     string
	identity   string
	debug      bool

	installOpts struct {
		backup     bool
		restore    string
		skipDocker bool
		unattended bool
	}
	updateBackup   bool
	uninstallPurge bool
	assumeYes      bool
	samplePath     string
	sampleForce    bool

	rootCmd = &cobra.Command{
		Use:   "mediastack",
		Short: "Install and maintain a Jellyfin media stack",
		Long: `Installs Jellyfin and its companion services with Docker Compose on a
Debian or Ubuntu host, locks the management interfaces to loopback and
provisions an SSH user that can only forward them.

Every run is transactional: when a step fails, everything the run changed
is undone in reverse order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install or converge the media stack",
		Args:  cobra.NoArgs,
		RunE:  runInstall,
	}

	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Pull new images and restart the stack",
		Long: `Pulls new images, stops and restarts the stack, then prunes old images.
Set FORCE_UPDATE=1 to skip the disk space and daemon checks.`,
		Args: cobra.NoArgs,
		RunE: runUpdate,
	}

	uninstallCmd = &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the stack, the tunnel user and the firewall rules",
		Long: `Stops the stack and removes everything install added. Media files are
never removed; --purge also removes the service configuration.`,
		Args: cobra.NoArgs,
		RunE: runUninstall,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with every default filled in",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
)

// Execute runs the command line and exits with the status of the failing
// command, or the fixed code of its error class.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var r reported
		if !errors.As(err, &r) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(core.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", fmt.Sprintf("path to the config file (default %s)", config.DefaultPath))
	rootCmd.PersistentFlags().StringVar(&target, "target", "", "manage a remote host over SSH, as [user@]host[:port]")
	rootCmd.PersistentFlags().StringVar(&identity, "identity", "", "private key for --target (default ~/.ssh/id_ed25519, id_ecdsa or id_rsa)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug output and every command")

	installCmd.Flags().BoolVar(&installOpts.backup, "backup", false, "archive the jellyfin configuration before installing")
	installCmd.Flags().StringVar(&installOpts.restore, "restore", "", "restore a configuration archive made by --backup")
	installCmd.Flags().BoolVar(&installOpts.skipDocker, "skip-docker", false, "use the Docker already on the host instead of installing it")
	installCmd.Flags().BoolVar(&installOpts.unattended, "unattended", false, "take every value from the config file, environment or secret store")

	updateCmd.Flags().BoolVar(&updateBackup, "backup", false, "archive the jellyfin configuration before updating")

	uninstallCmd.Flags().BoolVar(&uninstallPurge, "purge", false, "also remove the service configuration")
	uninstallCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	configInitCmd.Flags().StringVar(&samplePath, "path", config.DefaultPath, "where to write the file")
	configInitCmd.Flags().BoolVar(&sampleForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(installCmd, updateCmd, uninstallCmd, configCmd)
}

// session holds what one mutating command opens and must close again.
type session struct {
	settings *config.Settings
	rc       *manager.RunContext
	closers  []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Debug().Err(err).Msg("Close failed")
		}
	}
}

func openSession() (*session, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	s := &session{settings: settings}

	logs := logging.Setup(os.Getenv("LOG_LEVEL"), debug, settings.Paths.LogFile)
	s.closers = append(s.closers, logs.Close)

	rec, err := audit.Open(settings.Paths.AuditLog)
	if err != nil {
		s.Close()
		kind := core.KindFilesystem
		if errors.Is(err, fs.ErrPermission) {
			kind = core.KindPermission
		}
		return nil, core.Wrap(err, kind, "cannot open the audit log, are you root?")
	}
	s.closers = append(s.closers, rec.Close)

	lock, err := state.Acquire(state.LockPath(settings.Paths.StateDir, target))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, lock.Release)

	runner, h, label, err := connect(rec)
	if err != nil {
		s.Close()
		return nil, err
	}
	if c, ok := runner.(io.Closer); ok {
		s.closers = append(s.closers, c.Close)
	}

	s.rc = manager.NewRunContext(runDeps(runner, h, settings, rec, label))
	return s, nil
}

// runDeps wires one run. Command output reaches the console only with --debug.
func runDeps(runner executor.Runner, h host.Host, settings *config.Settings, rec audit.Recorder, label string) manager.Deps {
	return manager.Deps{
		Runner:   runner,
		Host:     h,
		Settings: settings,
		Audit:    rec,
		Logger:   log.Logger,
		Out:      os.Stdout,
		Label:    label,
		Echo:     debug,
	}
}

// connect picks the local machine or the SSH target.
func connect(rec audit.Recorder) (executor.Runner, host.Host, string, error) {
	if target == "" {
		label, err := os.Hostname()
		if err != nil {
			label = "local"
		}
		return executor.NewLocalRunner(), host.NewLocal(), label, nil
	}

	t, err := ssh.ParseTarget(target)
	if err != nil {
		return nil, nil, "", err
	}
	client, err := ssh.NewSSHClient(t, identity, logging.For("ssh"))
	if err != nil {
		return nil, nil, "", err
	}
	exec := executor.New(client, rec, logging.For("host"))
	return client, host.NewRemote(exec, t.Host), t.Host, nil
}

func installSource(ctx context.Context, settings *config.Settings) (manager.Source, error) {
	if !installOpts.unattended {
		if !ui.IsTerminal(os.Stdin) {
			return nil, core.New(core.KindConfiguration, "stdin is not a terminal, use --unattended")
		}
		return manager.InteractiveSource{}, nil
	}

	inf := settings.Secrets.Infisical
	if inf.Enabled() {
		store, err := secrets.NewInfisical(ctx, inf)
		if err != nil {
			return nil, err
		}
		return manager.UnattendedSource{Secrets: store, Key: inf.SecretKey}, nil
	}
	return manager.UnattendedSource{
		Secrets: secrets.Static{manager.SecretPasswordKey: os.Getenv(manager.SecretPasswordKey)},
	}, nil
}

func runInstall(cmd *cobra.Command, _ []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	src, err := installSource(ctx, s.settings)
	if err != nil {
		return err
	}
	res, err := s.rc.Install(ctx, manager.InstallOptions{
		Source:     src,
		Backup:     installOpts.backup,
		Restore:    installOpts.restore,
		SkipDocker: installOpts.skipDocker,
	})
	return finish(s.rc, res, err)
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.rc.Update(cmd.Context(), manager.UpdateOptions{Backup: updateBackup})
	return finish(s.rc, res, err)
}

func runUninstall(cmd *cobra.Command, _ []string) error {
	if !assumeYes {
		if !ui.IsTerminal(os.Stdin) {
			return core.New(core.KindConfiguration, "refusing to uninstall without --yes when stdin is not a terminal")
		}
		ok, err := ui.Confirm("Remove the media stack, its tunnel user and firewall rules")
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.rc.Uninstall(cmd.Context(), manager.UninstallOptions{Purge: uninstallPurge})
	return finish(s.rc, res, err)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if err := config.WriteSample(samplePath, sampleForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", samplePath)
	return nil
}
