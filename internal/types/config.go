package types

// InstallationConfig holds the operator-supplied values of one install run.
// Every field is validated before the sequencer mutates the host.
type InstallationConfig struct {
	AllowedCIDR         string `koanf:"allowed_cidr" toml:"allowed_cidr"`
	Owner               string `koanf:"owner" toml:"owner"`
	Timezone            string `koanf:"timezone" toml:"timezone"`
	TunnelUser          string `koanf:"tunnel_user" toml:"tunnel_user"`
	TunnelPassword      string `koanf:"tunnel_password" toml:"tunnel_password,omitempty"`
	TunnelAuthorizedKey string `koanf:"tunnel_authorized_key" toml:"tunnel_authorized_key,omitempty"`
	MOTDPath            string `koanf:"motd_path" toml:"motd_path,omitempty"`
	AdvertiseHost       string `koanf:"advertise_host" toml:"advertise_host,omitempty"`
}

// Owner is the resolved numeric identity of InstallationConfig.Owner.
type Owner struct {
	Name string
	UID  int
	GID  int
	Home string
}

// Paths are the fixed locations the stack is laid out in.
type Paths struct {
	ComposeFile string `koanf:"compose_file" toml:"compose_file"`
	ConfigRoot  string `koanf:"config_root" toml:"config_root"`
	MediaRoot   string `koanf:"media_root" toml:"media_root"`
	StateDir    string `koanf:"state_dir" toml:"state_dir"`
	AuditLog    string `koanf:"audit_log" toml:"audit_log"`
	LogFile     string `koanf:"log_file" toml:"log_file"`
	BackupDir   string `koanf:"backup_dir" toml:"backup_dir"`
	SSHDConfig  string `koanf:"sshd_config" toml:"sshd_config"`
}
