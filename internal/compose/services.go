package compose

import (
	"sort"

	"github.com/brimblehq/mediastack/internal/types"
)

const (
	NetworkMedia     = "media"
	NetworkDownloads = "downloads"

	PrimaryService = "jellyfin"
)

// MediaDirs are created below the media root and shared by every service
// mounting it at /data.
var MediaDirs = []string{"movies", "tv", "downloads"}

func linuxserver(name string, port int, networks ...string) types.ServiceDefinition {
	return types.ServiceDefinition{
		Name:  name,
		Image: "lscr.io/linuxserver/" + name + ":latest",
		Port:  port,
		Bind:  types.BindLoopback,
		Volumes: []types.Volume{
			{Source: types.SourceConfig, Sub: name, Target: "/config"},
			{Source: types.SourceMedia, Target: "/data"},
		},
		Networks: networks,
	}
}

// Catalog returns the seven services of the stack. Only the primary media
// server binds to all interfaces; everything else is reached through the SSH
// tunnel.
func Catalog() []types.ServiceDefinition {
	jellyfin := linuxserver("jellyfin", 8096, NetworkMedia)
	jellyfin.Bind = types.BindAll
	jellyfin.HealthCheck = []string{"CMD", "curl", "-fsS", "http://localhost:8096/health"}

	qbittorrent := linuxserver("qbittorrent", 8080, NetworkDownloads)
	qbittorrent.Environment = map[string]string{"WEBUI_PORT": "8080", "TORRENTING_PORT": "6881"}

	return []types.ServiceDefinition{
		jellyfin,
		linuxserver("sonarr", 8989, NetworkMedia, NetworkDownloads),
		linuxserver("radarr", 7878, NetworkMedia, NetworkDownloads),
		linuxserver("prowlarr", 9696, NetworkDownloads),
		linuxserver("bazarr", 6767, NetworkMedia),
		{
			Name:        "jellyseerr",
			Image:       "fallenbagel/jellyseerr:latest",
			Port:        5055,
			Bind:        types.BindLoopback,
			Environment: map[string]string{"LOG_LEVEL": "info"},
			Volumes: []types.Volume{
				{Source: types.SourceConfig, Sub: "jellyseerr", Target: "/app/config"},
			},
			Networks: []string{NetworkMedia},
		},
		qbittorrent,
	}
}

// LoopbackPorts lists the ports that need an SSH forward, in ascending order.
func LoopbackPorts(defs []types.ServiceDefinition) []int {
	var ports []int
	for _, d := range defs {
		if d.Loopback() {
			ports = append(ports, d.Port)
		}
	}
	sort.Ints(ports)
	return ports
}
