package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type StepLine struct {
	Name     string
	Status   string
	Duration time.Duration
}

type ServiceLine struct {
	Name    string
	Port    int
	Bind    string
	Healthy bool
	State   string
}

// Summary is printed once a run has finished.
type Summary struct {
	Mode          string
	TransactionID string
	Outcome       string
	Steps         []StepLine
	Services      []ServiceLine
	FreeBytes     uint64
	PreviousRun   time.Time
	Now           time.Time
}

func RenderSummary(w io.Writer, s Summary) {
	fmt.Fprintf(w, "\n%s %s (%s)\n", strings.ToUpper(s.Mode[:1])+s.Mode[1:], s.Outcome, s.TransactionID)

	if len(s.Steps) > 0 {
		tw := table.NewWriter()
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"Step", "Status", "Duration"})
		for _, st := range s.Steps {
			tw.AppendRow(table.Row{st.Name, st.Status, st.Duration.Round(time.Millisecond).String()})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
		fmt.Fprintln(w, tw.Render())
	}

	if len(s.Services) > 0 {
		tw := table.NewWriter()
		tw.SetStyle(table.StyleRounded)
		tw.AppendHeader(table.Row{"Service", "Port", "Bind", "State"})
		for _, svc := range s.Services {
			state := svc.State
			if state == "" {
				state = "unknown"
			}
			if svc.Healthy {
				state = "✅ " + state
			} else {
				state = "⚠️  " + state
			}
			tw.AppendRow(table.Row{svc.Name, strconv.Itoa(svc.Port), svc.Bind, state})
		}
		tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
		fmt.Fprintln(w, tw.Render())
	}

	if s.FreeBytes > 0 {
		fmt.Fprintf(w, "Free space on media filesystem: %s\n", humanize.IBytes(s.FreeBytes))
	}
	if !s.PreviousRun.IsZero() {
		fmt.Fprintf(w, "Previous run: %s\n", humanize.RelTime(s.PreviousRun, s.Now, "ago", "from now"))
	}
}

// TunnelCommand is the ssh invocation that forwards every loopback-only
// service to the operator's machine.
func TunnelCommand(user, host string, ports []int) string {
	parts := []string{"ssh", "-N"}
	for _, p := range ports {
		parts = append(parts, "-L", fmt.Sprintf("%d:127.0.0.1:%d", p, p))
	}
	parts = append(parts, user+"@"+host)
	return strings.Join(parts, " ")
}

func RenderTunnelInstructions(w io.Writer, user, host string, ports []int) {
	if len(ports) == 0 {
		return
	}
	fmt.Fprintf(w, "\n🔐 The management interfaces listen on loopback only. Open a tunnel with:\n\n    %s\n\n", TunnelCommand(user, host, ports))
	fmt.Fprintf(w, "Then browse to http://localhost:<port>, for example http://localhost:%d\n", ports[0])
}
