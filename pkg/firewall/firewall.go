// Package firewall manages per-client packet filter rules.
//
// All rules the controller installs carry a comment tag so they can be
// recognized and swept independently of any other rules on the host. The
// controller keeps an in-memory ledger of granted addresses; grant and
// revoke are idempotent against that ledger.
package firewall

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/thumbsup-team/securenas/internal/execx"
	"github.com/thumbsup-team/securenas/internal/logger"
)

// ruleTag marks every rule owned by this controller. The sweep in
// Reconcile removes exactly the rules carrying this comment.
const ruleTag = "securenas-client"

// baseTag marks the standing rules installed once at startup.
const baseTag = "securenas-base"

// Controller installs and removes iptables rules for client access to the
// file service port.
type Controller struct {
	runner       execx.Runner
	iptablesPath string
	nfsPort      int

	mu      sync.Mutex
	granted map[string]struct{}
}

// NewController creates a firewall controller. iptablesPath defaults to
// "iptables" when empty.
func NewController(runner execx.Runner, iptablesPath string, nfsPort int) *Controller {
	if iptablesPath == "" {
		iptablesPath = "iptables"
	}
	return &Controller{
		runner:       runner,
		iptablesPath: iptablesPath,
		nfsPort:      nfsPort,
		granted:      make(map[string]struct{}),
	}
}

// Initialize installs the standing rules: established traffic, loopback,
// and the authentication port stay reachable while the file service port
// is denied to everyone without a grant.
func (c *Controller) Initialize(ctx context.Context, authPort int) error {
	base := [][]string{
		{"-A", "INPUT", "-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED",
			"-m", "comment", "--comment", baseTag, "-j", "ACCEPT"},
		{"-A", "INPUT", "-i", "lo",
			"-m", "comment", "--comment", baseTag, "-j", "ACCEPT"},
		{"-A", "INPUT", "-p", "tcp", "--dport", fmt.Sprint(authPort),
			"-m", "comment", "--comment", baseTag, "-j", "ACCEPT"},
		{"-A", "INPUT", "-p", "tcp", "--dport", fmt.Sprint(c.nfsPort),
			"-m", "comment", "--comment", baseTag, "-j", "DROP"},
	}

	for _, args := range base {
		if _, err := c.runner.Run(ctx, c.iptablesPath, args...); err != nil {
			return fmt.Errorf("failed to install base firewall rule: %w", err)
		}
	}

	logger.Info("Firewall base policy installed",
		logger.KeyPort, c.nfsPort,
		"auth_port", authPort,
	)
	return nil
}

// Grant opens the file service port for the given client address.
// Granting an address that already has a rule is a no-op.
func (c *Controller) Grant(ctx context.Context, address string) error {
	if net.ParseIP(address) == nil {
		return fmt.Errorf("invalid client address %q", address)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.granted[address]; ok {
		logger.Debug("Firewall rule already present", logger.ClientIP(address))
		return nil
	}

	args := c.clientRuleArgs("-I", address)
	if _, err := c.runner.Run(ctx, c.iptablesPath, args...); err != nil {
		return fmt.Errorf("failed to install firewall rule for %s: %w", address, err)
	}

	c.granted[address] = struct{}{}
	logger.Info("Firewall rule installed", logger.ClientIP(address), logger.KeyPort, c.nfsPort)
	return nil
}

// Revoke removes the client's rule. Revoking an address without a rule is
// a no-op.
func (c *Controller) Revoke(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.granted[address]; !ok {
		return nil
	}

	args := c.clientRuleArgs("-D", address)
	if _, err := c.runner.Run(ctx, c.iptablesPath, args...); err != nil {
		return fmt.Errorf("failed to remove firewall rule for %s: %w", address, err)
	}

	delete(c.granted, address)
	logger.Info("Firewall rule removed", logger.ClientIP(address))
	return nil
}

// Granted reports whether the address currently has a rule.
func (c *Controller) Granted(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.granted[address]
	return ok
}

// Reconcile sweeps every tagged client rule from the INPUT chain,
// including rules left behind by a previous process. The ledger is reset
// to empty.
func (c *Controller) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.runner.Run(ctx, c.iptablesPath, "-S", "INPUT")
	if err != nil {
		return fmt.Errorf("failed to list firewall rules: %w", err)
	}

	var swept int
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-A INPUT") || !strings.Contains(line, ruleTag) {
			continue
		}

		// Replay the listed rule as a delete.
		args := append([]string{"-D"}, strings.Fields(line)[1:]...)
		if _, err := c.runner.Run(ctx, c.iptablesPath, args...); err != nil {
			return fmt.Errorf("failed to sweep firewall rule %q: %w", line, err)
		}
		swept++
	}

	c.granted = make(map[string]struct{})
	if swept > 0 {
		logger.Info("Swept stale firewall rules", logger.KeyCount, swept)
	}
	return nil
}

// Teardown removes all client rules and the standing base rules.
func (c *Controller) Teardown(ctx context.Context) error {
	if err := c.Reconcile(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.runner.Run(ctx, c.iptablesPath, "-S", "INPUT")
	if err != nil {
		return fmt.Errorf("failed to list firewall rules: %w", err)
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-A INPUT") || !strings.Contains(line, baseTag) {
			continue
		}

		args := append([]string{"-D"}, strings.Fields(line)[1:]...)
		if _, err := c.runner.Run(ctx, c.iptablesPath, args...); err != nil {
			return fmt.Errorf("failed to remove base firewall rule %q: %w", line, err)
		}
	}

	logger.Info("Firewall base policy removed")
	return nil
}

func (c *Controller) clientRuleArgs(action, address string) []string {
	return []string{
		action, "INPUT",
		"-s", address,
		"-p", "tcp", "--dport", fmt.Sprint(c.nfsPort),
		"-m", "comment", "--comment", ruleTag,
		"-j", "ACCEPT",
	}
}
