package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/brimblehq/mediastack/internal/config"
	"github.com/brimblehq/mediastack/internal/core"
	"github.com/brimblehq/mediastack/internal/types"
)

// CollectInstallation asks for every installation value, starting from
// defaults. Each prompt re-asks until its validator accepts the input.
// checkOwner resolves the owner account on the target host.
func CollectInstallation(defaults types.InstallationConfig, checkOwner func(string) error) (types.InstallationConfig, error) {
	cfg := defaults
	var err error

	if cfg.Owner, err = promptText("Account that owns the media files", cfg.Owner, func(s string) error {
		if s == "" {
			return errors.New("value cannot be empty")
		}
		return checkOwner(s)
	}); err != nil {
		return cfg, err
	}

	if cfg.AllowedCIDR, err = promptText("Network allowed to reach SSH and Jellyfin (CIDR)", cfg.AllowedCIDR, config.ValidateCIDR); err != nil {
		return cfg, err
	}

	if cfg.Timezone, err = promptText("Timezone", cfg.Timezone, config.ValidateTimezone); err != nil {
		return cfg, err
	}

	if cfg.TunnelUser, err = promptText("SSH tunnel user name", cfg.TunnelUser, func(s string) error {
		if err := config.ValidateUsername(s); err != nil {
			return err
		}
		if s == cfg.Owner || s == "root" {
			return errors.New("tunnel user must be a dedicated account")
		}
		return nil
	}); err != nil {
		return cfg, err
	}

	if cfg.TunnelPassword == "" {
		if cfg.TunnelPassword, err = promptPassword("SSH tunnel user password"); err != nil {
			return cfg, err
		}
	}

	if cfg.TunnelAuthorizedKey, err = promptText("Public key for the tunnel user (optional)", cfg.TunnelAuthorizedKey, config.ValidateAuthorizedKey); err != nil {
		return cfg, err
	}

	fmt.Printf("\n🚀 Installation Summary:\n")
	fmt.Printf("✔ Owner: %s\n", cfg.Owner)
	fmt.Printf("✔ Allowed network: %s\n", cfg.AllowedCIDR)
	fmt.Printf("✔ Timezone: %s\n", cfg.Timezone)
	fmt.Printf("✔ Tunnel user: %s\n", cfg.TunnelUser)
	if cfg.TunnelAuthorizedKey != "" {
		fmt.Printf("✔ Tunnel key: %s\n", keyComment(cfg.TunnelAuthorizedKey))
	}
	fmt.Println()

	ok, err := Confirm("Do you want to proceed with the installation?")
	if err != nil {
		return cfg, err
	}
	if !ok {
		return cfg, core.New(core.KindConfiguration, "installation cancelled by user")
	}
	return cfg, nil
}

func Confirm(label string) (bool, error) {
	confirm := promptui.Select{
		Label: label,
		Items: []string{"Yes", "No"},
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "➤ {{ . | green }}",
			Inactive: "  {{ . }}",
			Selected: "✔ {{ . | green }}",
		},
	}
	idx, _, err := confirm.Run()
	if err != nil {
		return false, promptError("confirmation", err)
	}
	return idx == 0, nil
}

func promptText(label, def string, validate promptui.ValidateFunc) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Default:  def,
		Validate: validate,
	}
	v, err := prompt.Run()
	if err != nil {
		return "", promptError(label, err)
	}
	return strings.TrimSpace(v), nil
}

// promptPassword asks twice with masked input.
func promptPassword(label string) (string, error) {
	for {
		prompt := promptui.Prompt{
			Label:    label,
			Mask:     '*',
			Validate: config.ValidatePassword,
		}
		first, err := prompt.Run()
		if err != nil {
			return "", promptError(label, err)
		}

		confirm := promptui.Prompt{Label: "Repeat password", Mask: '*'}
		second, err := confirm.Run()
		if err != nil {
			return "", promptError(label, err)
		}
		if first == second {
			return first, nil
		}
		fmt.Println("⚠️  Passwords do not match, try again")
	}
}

func promptError(label string, err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return core.Wrap(err, core.KindConfiguration, "input aborted")
	}
	return core.Wrap(err, core.KindConfiguration, "%s prompt failed", label)
}

func keyComment(key string) string {
	fields := strings.Fields(key)
	if len(fields) >= 3 {
		return fields[0] + " " + fields[2]
	}
	return fields[0]
}
