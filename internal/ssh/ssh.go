package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/brimblehq/mediastack/internal/core"
)

const defaultPort = 22

// Target is the remote machine given as user@host[:port].
type Target struct {
	User string
	Host string
	Port int
}

func ParseTarget(s string) (Target, error) {
	t := Target{User: "root", Port: defaultPort}
	if s == "" {
		return t, core.New(core.KindConfiguration, "empty target")
	}
	if at := strings.LastIndex(s, "@"); at >= 0 {
		t.User = s[:at]
		s = s[at+1:]
		if t.User == "" {
			return t, core.New(core.KindConfiguration, "target has an empty user")
		}
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// No port given.
		t.Host = strings.Trim(s, "[]")
	} else {
		t.Host = host
		if t.Port, err = strconv.Atoi(port); err != nil || t.Port < 1 || t.Port > 65535 {
			return t, core.New(core.KindConfiguration, "invalid port %q in target", port)
		}
	}
	if t.Host == "" {
		return t, core.New(core.KindConfiguration, "target has an empty host")
	}
	return t, nil
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.User + "@" + t.Addr()
}

// Privileged reports whether commands run as root without sudo.
func (t Target) Privileged() bool {
	return t.User == "root"
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %v", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

var defaultIdentities = []string{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"}

// loadSigner reads the identity file, or the first default key that exists
// when identity is empty.
func loadSigner(identity string) (ssh.Signer, error) {
	candidates := defaultIdentities
	if identity != "" {
		candidates = []string{identity}
	}
	for _, c := range candidates {
		keyPath, err := expandHome(c)
		if err != nil {
			return nil, err
		}
		key, err := os.ReadFile(keyPath)
		if err != nil {
			if identity == "" && os.IsNotExist(err) {
				continue
			}
			return nil, core.Wrap(err, core.KindConfiguration, "unable to read private key %s", keyPath)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			if _, ok := err.(*ssh.PassphraseMissingError); ok {
				return nil, core.New(core.KindConfiguration, "private key %s is passphrase protected, load it into a key without one or use ssh-agent forwarding", keyPath)
			}
			return nil, core.Wrap(err, core.KindConfiguration, "unable to parse private key %s", keyPath)
		}
		return signer, nil
	}
	return nil, core.New(core.KindConfiguration, "no identity given and none of %s exist", strings.Join(defaultIdentities, ", "))
}

// hostKeyCallback verifies against ~/.ssh/known_hosts when the file exists.
func hostKeyCallback() (ssh.HostKeyCallback, bool, error) {
	path, err := expandHome("~/.ssh/known_hosts")
	if err != nil {
		return nil, false, err
	}
	if _, err := os.Stat(path); err != nil {
		return ssh.InsecureIgnoreHostKey(), false, nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, false, core.Wrap(err, core.KindConfiguration, "failed to load %s", path)
	}
	return cb, true, nil
}
