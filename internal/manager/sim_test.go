package manager

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/brimblehq/mediastack/internal/audit"
	"github.com/brimblehq/mediastack/internal/config"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/host"
	"github.com/brimblehq/mediastack/internal/types"
)

const originalSSHD = "PermitRootLogin no\nPasswordAuthentication no\n"

// simHost is an in-memory Debian box. It answers both the file-level host
// queries and the commands the sequencer runs, keeping enough state for
// rollback and rerun assertions.
type simHost struct {
	files    map[string][]byte
	dirs     map[string]bool
	users    map[string]types.Owner
	binaries map[string]bool

	ufwActive bool
	ufwRules  map[string]bool
	docker    bool
	stackUp   bool
	// containers overrides the inspect answer per container, "running healthy" otherwise.
	containers   map[string]string
	inspectFails map[string]bool

	sshRestarts int
	passwords   map[string]string
	free        uint64
	euid        int
	nextUID     int

	// failures queues exit codes for commands whose argv starts with the key.
	failures  map[string][]int
	onCommand func(line string)
	calls     []string
}

func newSimHost() *simHost {
	s := &simHost{
		files: map[string][]byte{
			"/etc/os-release":      []byte("PRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\nID=debian\n"),
			"/proc/filesystems":    []byte("nodev\tsysfs\nnodev\toverlay\n"),
			"/etc/ssh/sshd_config": []byte(originalSSHD),
		},
		dirs: map[string]bool{"/": true, "/etc": true, "/etc/ssh": true, "/home": true, "/home/alice": true, "/srv": true},
		users: map[string]types.Owner{
			"root":  {Name: "root", UID: 0, GID: 0, Home: "/root"},
			"alice": {Name: "alice", UID: 1000, GID: 1000, Home: "/home/alice"},
		},
		binaries:  map[string]bool{},
		ufwRules:  map[string]bool{},
		passwords: map[string]string{},
		free:      200 << 30,
		nextUID:   1001,
		failures:  map[string][]int{},

		containers:   map[string]string{},
		inspectFails: map[string]bool{},
	}
	for _, b := range append(requiredBinaries, "ufw", "curl", "modprobe", "wall") {
		s.binaries[b] = true
	}
	return s
}

type simSnapshot struct {
	Files     map[string]string
	Dirs      []string
	Users     []string
	UFWActive bool
	UFWRules  []string
	Docker    bool
	StackUp   bool
}

func (s *simHost) snapshot() simSnapshot {
	snap := simSnapshot{Files: map[string]string{}, UFWActive: s.ufwActive, Docker: s.docker, StackUp: s.stackUp}
	for k, v := range s.files {
		snap.Files[k] = string(v)
	}
	for d := range s.dirs {
		snap.Dirs = append(snap.Dirs, d)
	}
	for u := range s.users {
		snap.Users = append(snap.Users, u)
	}
	for r := range s.ufwRules {
		snap.UFWRules = append(snap.UFWRules, r)
	}
	sort.Strings(snap.Dirs)
	sort.Strings(snap.Users)
	sort.Strings(snap.UFWRules)
	return snap
}

func (s *simHost) fail(prefix string, codes ...int) {
	s.failures[prefix] = append(s.failures[prefix], codes...)
}

func (s *simHost) called(prefix string) bool {
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (s *simHost) resetCalls() {
	s.calls = nil
}

// host.Host

func (s *simHost) EffectiveUID(context.Context) (int, error) { return s.euid, nil }

func (s *simHost) ReadFile(_ context.Context, p string) ([]byte, error) {
	data, ok := s.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (s *simHost) WriteFile(_ context.Context, p string, data []byte, _ os.FileMode) error {
	s.files[p] = append([]byte(nil), data...)
	return nil
}

func (s *simHost) RemoveFile(_ context.Context, p string) error {
	delete(s.files, p)
	return nil
}

func (s *simHost) Exists(_ context.Context, p string) (bool, error) {
	_, file := s.files[p]
	return file || s.dirs[p], nil
}

func (s *simHost) FreeSpace(context.Context, string) (uint64, error) { return s.free, nil }

func (s *simHost) LookPath(_ context.Context, name string) (string, error) {
	if s.binaries[name] || (name == "docker" && s.docker) {
		return "/usr/bin/" + name, nil
	}
	return "", exec.ErrNotFound
}

func (s *simHost) LookupUser(_ context.Context, name string) (types.Owner, error) {
	u, ok := s.users[name]
	if !ok {
		return types.Owner{}, host.ErrNoSuchUser
	}
	return u, nil
}

func (s *simHost) Kernel(context.Context) (string, error) { return "6.1.0-18-amd64", nil }

func (s *simHost) PrimaryAddress(context.Context) (string, error) { return "192.168.1.10", nil }

// executor.Runner

func (s *simHost) Run(ctx context.Context, cmd executor.Command) executor.Result {
	line := strings.Join(append([]string{cmd.Name}, cmd.Args...), " ")
	s.calls = append(s.calls, line)
	if s.onCommand != nil {
		s.onCommand(line)
	}
	if err := ctx.Err(); err != nil {
		return executor.Result{ExitCode: -1, Err: err}
	}
	for prefix, codes := range s.failures {
		if strings.HasPrefix(line, prefix) && len(codes) > 0 {
			s.failures[prefix] = codes[1:]
			return executor.Result{ExitCode: codes[0], Stderr: "simulated failure\n"}
		}
	}
	return s.handle(cmd)
}

func okResult(stdout string) executor.Result {
	return executor.Result{Stdout: stdout}
}

func exitResult(code int) executor.Result {
	return executor.Result{ExitCode: code}
}

func last(args []string) string {
	return args[len(args)-1]
}

func (s *simHost) handle(cmd executor.Command) executor.Result {
	args := cmd.Args
	switch cmd.Name {
	case "apt-get":
		if len(args) > 0 && args[0] == "purge" {
			s.docker = false
		}
		return okResult("")
	case "ufw":
		return s.ufw(args)
	case "useradd":
		name := last(args)
		home := "/home/" + name
		s.users[name] = types.Owner{Name: name, UID: s.nextUID, GID: s.nextUID, Home: home}
		s.nextUID++
		s.dirs[home] = true
		return okResult("")
	case "userdel":
		name := last(args)
		if _, found := s.users[name]; !found {
			return exitResult(6)
		}
		s.removeTree(s.users[name].Home)
		delete(s.users, name)
		return okResult("")
	case "chpasswd":
		user, pass, _ := strings.Cut(strings.TrimSuffix(cmd.Stdin, "\n"), ":")
		s.passwords[user] = pass
		return okResult("")
	case "sshd", "chown", "wall", "modprobe":
		return okResult("")
	case "systemctl":
		if strings.Join(args, " ") == "restart ssh" {
			s.sshRestarts++
		}
		return okResult("")
	case "curl":
		s.files[last(args)] = []byte("#!/bin/sh\n")
		return okResult("")
	case "sh":
		if last(args) == dockerScriptPath {
			s.docker = true
		}
		return okResult("")
	case "install":
		s.dirs[last(args)] = true
		return okResult("")
	case "rm":
		s.removeTree(last(args))
		return okResult("")
	case "tar":
		if args[0] == "-czf" {
			s.files[args[1]] = []byte("archive")
		}
		return okResult("")
	case "docker":
		return s.dockerCmd(args)
	}
	return executor.Result{ExitCode: 127, Stderr: cmd.Name + ": command not found\n"}
}

func (s *simHost) ufw(args []string) executor.Result {
	switch {
	case args[0] == "status":
		if s.ufwActive {
			return okResult("Status: active\n")
		}
		return okResult("Status: inactive\n")
	case args[0] == "show":
		var lines []string
		for r := range s.ufwRules {
			lines = append(lines, r)
		}
		sort.Strings(lines)
		return okResult("Added user rules (see 'ufw status' for running firewall):\n" + strings.Join(lines, "\n") + "\n")
	case args[0] == "default":
		return okResult("")
	case args[0] == "--force":
		s.ufwActive = args[1] == "enable"
		return okResult("")
	case args[0] == "delete":
		rule := "ufw " + strings.Join(args[1:], " ")
		if !s.ufwRules[rule] {
			return exitResult(1)
		}
		delete(s.ufwRules, rule)
		return okResult("Rule deleted\n")
	}
	s.ufwRules["ufw "+strings.Join(args, " ")] = true
	return okResult("Rules updated\n")
}

func (s *simHost) dockerCmd(args []string) executor.Result {
	if !s.docker {
		return exitResult(127)
	}
	if args[0] == "compose" {
		if args[1] == "version" {
			return okResult("Docker Compose version v2.27.0\n")
		}
		// compose -f FILE <verb> ...
		switch args[3] {
		case "ps":
			if s.stackUp {
				return okResult("3f2a1b\n")
			}
			return okResult("")
		case "up":
			s.stackUp = true
		case "down", "stop":
			s.stackUp = false
		}
		return okResult("")
	}
	switch args[0] {
	case "container":
		name := last(args)
		if !s.stackUp || s.inspectFails[name] {
			return exitResult(1)
		}
		if state, ok := s.containers[name]; ok {
			return okResult(state + "\n")
		}
		return okResult("running healthy\n")
	}
	return okResult("")
}

func (s *simHost) removeTree(root string) {
	prefix := strings.TrimSuffix(root, "/") + "/"
	delete(s.dirs, root)
	delete(s.files, root)
	for d := range s.dirs {
		if strings.HasPrefix(d, prefix) {
			delete(s.dirs, d)
		}
	}
	for f := range s.files {
		if strings.HasPrefix(f, prefix) {
			delete(s.files, f)
		}
	}
}

func testSettings() *config.Settings {
	return &config.Settings{
		Install: types.InstallationConfig{
			AllowedCIDR:    "10.0.0.0/24",
			Owner:          "alice",
			Timezone:       "Europe/London",
			TunnelUser:     "tuser",
			TunnelPassword: "secret1",
		},
		Paths: types.Paths{
			ComposeFile: "/opt/mediastack/docker-compose.yml",
			ConfigRoot:  "/opt/mediastack/config",
			MediaRoot:   "/srv/media",
			StateDir:    "/var/lib/mediastack",
			BackupDir:   "/var/backups/mediastack",
			SSHDConfig:  "/etc/ssh/sshd_config",
		},
		Retry:     config.RetrySettings{MaxAttempts: 3, Delay: 5 * time.Second},
		Health:    config.HealthSettings{Attempts: 3, Interval: time.Second},
		Preflight: config.PreflightSettings{MinFreeGiB: 10, MinKernel: "3.10"},
		Notify:    config.NotifySettings{Wall: true},
	}
}

type harness struct {
	sim   *simHost
	rc    *RunContext
	audit *bytes.Buffer
	out   *bytes.Buffer
	env   map[string]string
}

func noSleep(context.Context, time.Duration) error { return nil }

func newHarness(t *testing.T, sim *simHost) *harness {
	t.Helper()
	h := &harness{sim: sim, audit: &bytes.Buffer{}, out: &bytes.Buffer{}, env: map[string]string{}}
	h.rc = NewRunContext(Deps{
		Runner:   sim,
		Host:     sim,
		Settings: testSettings(),
		Audit:    audit.New(h.audit),
		Logger:   zerolog.Nop(),
		Out:      h.out,
		Label:    "local",
	})
	h.rc.Retrier.WithSleeper(noSleep)
	h.rc.Sleep = noSleep
	h.rc.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	h.rc.Getenv = func(k string) string { return h.env[k] }
	return h
}

// fresh returns a new RunContext over the same simulated host, as a second
// invocation of the binary would get.
func (h *harness) fresh(t *testing.T) *harness {
	return newHarness(t, h.sim)
}

func (h *harness) auditLines(event string) []string {
	var out []string
	for _, line := range strings.Split(h.audit.String(), "\n") {
		if strings.Contains(line, " "+event+" ") || strings.HasSuffix(line, " "+event) {
			out = append(out, line)
		}
	}
	return out
}

func composeCmd(verb string) string {
	return fmt.Sprintf("docker compose -f %s %s", testSettings().Paths.ComposeFile, verb)
}
