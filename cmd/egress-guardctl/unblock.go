package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/haukened/egress-guard/internal/guard/common/clock"
	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/config"
	"github.com/haukened/egress-guard/internal/guard/domain"
	"github.com/haukened/egress-guard/internal/guard/gateways/firewall"
	"github.com/haukened/egress-guard/internal/guard/repos/auditlog"
	"github.com/haukened/egress-guard/internal/guard/repos/blockregistry"
)

const commandTimeout = 30 * time.Second

// newFirewall builds the rule manager. It can be replaced in tests.
var newFirewall = func(cfg *config.AppConfig) (firewall.Manager, error) {
	return firewall.NewBackend(cfg.FirewallBackend, cfg.FirewallChain, log.GetLogger())
}

// RunUnblock handles the "unblock" command. The audit entries for the
// address are deleted only after the rule is gone, unless --force is given.
func RunUnblock(cfg *config.AppConfig, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("unblock", pflag.ContinueOnError)
	fs.SetOutput(out)
	force := fs.BoolP("force", "f", false, "delete audit entries even when no rule was found")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one address, got %d", fs.NArg())
	}
	target := fs.Arg(0)
	addr, err := firewall.ParseTarget(target)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	fw, err := newFirewall(cfg)
	if err != nil {
		return err
	}
	if cfg.StateDB != "" {
		reg, err := blockregistry.Open(cfg.StateDB)
		if err != nil {
			return err
		}
		defer reg.Close()
		fw = firewall.NewRecording(fw, reg, clock.RealClock{}, log.GetLogger())
	}

	_, err = fw.Unblock(ctx, addr.String())
	switch {
	case err == nil:
		fmt.Fprintf(out, "Unblocked %s\n", addr)
	case errors.Is(err, domain.ErrRuleAbsent) && *force:
		fmt.Fprintf(out, "No rule for %s, removing audit entries anyway\n", addr)
	default:
		return fmt.Errorf("failed to unblock %s: %w", addr, err)
	}

	store, err := auditlog.Open(cfg.AuditDB)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.DeleteByDestination(ctx, addr.String())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d log(s) for %s\n", n, addr)
	return nil
}
