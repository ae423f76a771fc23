package manager

import (
	"context"
	"strconv"
	"strings"

	"github.com/brimblehq/mediastack/internal/compose"
	"github.com/brimblehq/mediastack/internal/executor"
	"github.com/brimblehq/mediastack/internal/transaction"
)

const sshPort = 22

// firewallRules are the ufw rules the install owns, in ufw's own syntax.
// SSH is rate limited; the media server is allowed from the same network.
func (rc *RunContext) firewallRules(cidr string) [][]string {
	rules := [][]string{
		{"limit", "from", cidr, "to", "any", "port", strconv.Itoa(sshPort), "proto", "tcp"},
	}
	for _, svc := range rc.Services {
		if !svc.Loopback() {
			rules = append(rules, []string{"allow", "from", cidr, "to", "any", "port", strconv.Itoa(svc.Port), "proto", "tcp"})
		}
	}
	return rules
}

func ruleString(rule []string) string {
	return "ufw " + strings.Join(rule, " ")
}

func (rc *RunContext) ufwActive(ctx context.Context) (bool, error) {
	out, err := rc.output(ctx, executor.Cmd("ufw", "status"))
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "Status: active"), nil
}

// addedRules lists the rules ufw knows about, active or not, one per line
// in the form "ufw allow ...".
func (rc *RunContext) addedRules(ctx context.Context) (map[string]bool, error) {
	out, err := rc.output(ctx, executor.Cmd("ufw", "show", "added"))
	if err != nil {
		return nil, err
	}
	rules := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if strings.HasPrefix(line, "ufw ") {
			rules[line] = true
		}
	}
	return rules, nil
}

func (rc *RunContext) deleteRule(ctx context.Context, rule []string) error {
	return rc.run(ctx, executor.Cmd("ufw", append([]string{"delete"}, rule...)...))
}

func (rc *RunContext) configureFirewall(ctx context.Context, undo *transaction.Undo) error {
	active, err := rc.ufwActive(ctx)
	if err != nil {
		return err
	}
	existing, err := rc.addedRules(ctx)
	if err != nil {
		return err
	}

	for _, cmd := range []executor.Command{
		executor.Cmd("ufw", "default", "deny", "incoming"),
		executor.Cmd("ufw", "default", "allow", "outgoing"),
	} {
		if err := rc.run(ctx, cmd); err != nil {
			return err
		}
	}

	created := 0
	for _, rule := range rc.firewallRules(rc.install.AllowedCIDR) {
		if existing[ruleString(rule)] {
			continue
		}
		rule := rule
		undo.Push(ruleString(rule)+" (delete)", func(ctx context.Context) error {
			return rc.deleteRule(ctx, rule)
		})
		if err := rc.run(ctx, executor.Cmd("ufw", rule...)); err != nil {
			return err
		}
		created++
	}

	if !active {
		undo.Push("ufw --force disable", func(ctx context.Context) error {
			return rc.run(ctx, executor.Cmd("ufw", "--force", "disable"))
		})
		if err := rc.run(ctx, executor.Cmd("ufw", "--force", "enable")); err != nil {
			return err
		}
	} else if created == 0 {
		rc.Progress.MarkSkipped("rules already present")
	}
	return nil
}

// loopbackPorts are the ports the tunnel user may forward.
func (rc *RunContext) loopbackPorts() []int {
	return compose.LoopbackPorts(rc.Services)
}
