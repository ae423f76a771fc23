package config

import (
	"net"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/crypto/ssh"

	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/types"
)

const MinPasswordLength = 6

var usernamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// ValidateCIDR accepts an IPv4 or IPv6 network in CIDR notation. A bare
// address is rejected so the firewall rule never silently widens.
func ValidateCIDR(s string) error {
	if _, _, err := net.ParseCIDR(strings.TrimSpace(s)); err != nil {
		return core.New(core.KindConfiguration, "%q is not a CIDR range such as 192.168.1.0/24", s)
	}
	return nil
}

func ValidateTimezone(s string) error {
	if s == "" {
		return core.New(core.KindConfiguration, "timezone is required")
	}
	// LoadLocation accepts "Local", which no container understands.
	if s == "Local" {
		return core.New(core.KindConfiguration, "timezone must be an IANA name such as Europe/London, not %q", s)
	}
	if _, err := time.LoadLocation(s); err != nil {
		return core.New(core.KindConfiguration, "unknown timezone %q", s)
	}
	return nil
}

func ValidateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return core.New(core.KindConfiguration, "%q is not a valid user name", s)
	}
	return nil
}

func ValidatePassword(s string) error {
	if len(s) < MinPasswordLength {
		return core.New(core.KindConfiguration, "password must be at least %d characters", MinPasswordLength)
	}
	if strings.ContainsAny(s, ":\n") {
		return core.New(core.KindConfiguration, "password must not contain ':' or newlines")
	}
	return nil
}

// ValidateAuthorizedKey accepts an empty value or one OpenSSH public key line.
func ValidateAuthorizedKey(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s)); err != nil {
		return core.New(core.KindConfiguration, "tunnel_authorized_key is not an OpenSSH public key")
	}
	return nil
}

// ValidateInstallation checks every field that can be checked without the
// host. The owner account is resolved separately against the host.
func ValidateInstallation(cfg types.InstallationConfig) error {
	if cfg.Owner == "" {
		return core.New(core.KindConfiguration, "owner is required")
	}
	if err := ValidateCIDR(cfg.AllowedCIDR); err != nil {
		return err
	}
	if err := ValidateTimezone(cfg.Timezone); err != nil {
		return err
	}
	if err := ValidateUsername(cfg.TunnelUser); err != nil {
		return err
	}
	if cfg.TunnelUser == cfg.Owner || cfg.TunnelUser == "root" {
		return core.New(core.KindConfiguration, "tunnel user must be a dedicated account, not %q", cfg.TunnelUser)
	}
	if err := ValidatePassword(cfg.TunnelPassword); err != nil {
		return err
	}
	return ValidateAuthorizedKey(cfg.TunnelAuthorizedKey)
}
