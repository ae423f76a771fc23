package compose

import (
	"bytes"
	"fmt"
	"path"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/brimblehq/mediastack/internal/types"
)

const (
	ProjectName = "mediastack"
	header      = "# Managed by mediastack. Changes are overwritten on the next install.\n"
)

// Input carries the configuration values the document depends on. Nothing
// else (time, hostname, ordering of maps) may influence the output.
type Input struct {
	UID        int
	GID        int
	Timezone   string
	ConfigRoot string
	MediaRoot  string
}

type document struct {
	Name     string             `yaml:"name"`
	Services map[string]service `yaml:"services"`
	Networks map[string]network `yaml:"networks"`
}

type service struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Restart       string            `yaml:"restart"`
	Environment   map[string]string `yaml:"environment"`
	Ports         []string          `yaml:"ports"`
	Volumes       []string          `yaml:"volumes"`
	Networks      []string          `yaml:"networks"`
	Healthcheck   *healthcheck      `yaml:"healthcheck,omitempty"`
}

type healthcheck struct {
	Test     []string `yaml:"test"`
	Interval string   `yaml:"interval"`
	Timeout  string   `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

type network struct {
	Driver string `yaml:"driver"`
}

// Render produces the compose document for defs. Map keys are emitted sorted,
// so identical input yields byte-identical output.
func Render(defs []types.ServiceDefinition, in Input) ([]byte, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("no services to render")
	}
	doc := document{
		Name:     ProjectName,
		Services: make(map[string]service, len(defs)),
		Networks: make(map[string]network),
	}

	for _, def := range defs {
		env := map[string]string{
			"PUID": strconv.Itoa(in.UID),
			"PGID": strconv.Itoa(in.GID),
			"TZ":   in.Timezone,
		}
		for k, v := range def.Environment {
			env[k] = v
		}

		svc := service{
			Image:         def.Image,
			ContainerName: def.Name,
			Restart:       "unless-stopped",
			Environment:   env,
			Ports:         []string{portBinding(def)},
			Networks:      append([]string(nil), def.Networks...),
		}
		for _, v := range def.Volumes {
			svc.Volumes = append(svc.Volumes, HostPath(v, in)+":"+v.Target)
		}
		if len(def.HealthCheck) > 0 {
			svc.Healthcheck = &healthcheck{
				Test:     def.HealthCheck,
				Interval: "30s",
				Timeout:  "10s",
				Retries:  3,
			}
		}
		for _, n := range def.Networks {
			doc.Networks[n] = network{Driver: "bridge"}
		}
		doc.Services[def.Name] = svc
	}

	body, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal compose document: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.Write(body)
	return buf.Bytes(), nil
}

func portBinding(def types.ServiceDefinition) string {
	addr := "127.0.0.1"
	if def.Bind == types.BindAll {
		addr = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d:%d", addr, def.Port, def.Port)
}

// HostPath resolves a volume to its directory on the host.
func HostPath(v types.Volume, in Input) string {
	root := in.ConfigRoot
	if v.Source == types.SourceMedia {
		root = in.MediaRoot
	}
	if v.Sub == "" {
		return root
	}
	return path.Join(root, v.Sub)
}
