package types

import "time"

type Mode string

const (
	ModeInstall   Mode = "install"
	ModeUpdate    Mode = "update"
	ModeUninstall Mode = "uninstall"
)

// RunState is what a finished run leaves behind for the next one.
type RunState struct {
	LastRun       time.Time `json:"last_run"`
	Mode          Mode      `json:"mode"`
	TransactionID string    `json:"transaction_id"`
	TunnelUser    string    `json:"tunnel_user,omitempty"`
	AllowedCIDR   string    `json:"allowed_cidr,omitempty"`
	ComposeFile   string    `json:"compose_file,omitempty"`
	Owner         string    `json:"owner,omitempty"`
}
