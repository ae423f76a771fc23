package types

type BindScope string

const (
	BindLoopback BindScope = "loopback"
	BindAll      BindScope = "all"
)

// ServiceDefinition describes one container of the stack.
type ServiceDefinition struct {
	Name        string
	Image       string
	Port        int
	Bind        BindScope
	Environment map[string]string
	// Volumes maps a path below the config or media root to a container path.
	Volumes     []Volume
	Networks    []string
	HealthCheck []string
}

type VolumeSource int

const (
	SourceConfig VolumeSource = iota
	SourceMedia
)

type Volume struct {
	Source VolumeSource
	// Sub is the path below the source root; empty mounts the root itself.
	Sub    string
	Target string
}

func (s ServiceDefinition) Loopback() bool {
	return s.Bind == BindLoopback
}
