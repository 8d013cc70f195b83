package device

import (
	"context"
	"errors"
	"fmt"
)

// accessGrant pairs a client's firewall rule with its export entry.
//
// The two are installed in a fixed order, firewall first, so the export
// is never reachable without a rule. A failed export installs nothing:
// the already installed rule is rolled back before the error is
// returned. Release tears the pair down in reverse order.
type accessGrant struct {
	address  string
	firewall FirewallController
	export   ExportController
}

// installGrant installs the firewall rule and export entry for a client
// address and returns a handle for releasing them together.
func installGrant(ctx context.Context, fw FirewallController, ex ExportController, address string) (*accessGrant, error) {
	if err := fw.Grant(ctx, address); err != nil {
		return nil, fmt.Errorf("firewall grant for %s: %w", address, err)
	}

	if err := ex.Grant(ctx, address); err != nil {
		if revokeErr := fw.Revoke(ctx, address); revokeErr != nil {
			return nil, errors.Join(
				fmt.Errorf("export grant for %s: %w", address, err),
				fmt.Errorf("rollback of firewall rule for %s: %w", address, revokeErr),
			)
		}
		return nil, fmt.Errorf("export grant for %s: %w", address, err)
	}

	return &accessGrant{address: address, firewall: fw, export: ex}, nil
}

// release removes the export entry and the firewall rule. Both removals
// are attempted even if the first fails.
func (g *accessGrant) release(ctx context.Context) error {
	var errs []error
	if err := g.export.Revoke(ctx, g.address); err != nil {
		errs = append(errs, fmt.Errorf("export revoke for %s: %w", g.address, err))
	}
	if err := g.firewall.Revoke(ctx, g.address); err != nil {
		errs = append(errs, fmt.Errorf("firewall revoke for %s: %w", g.address, err))
	}
	return errors.Join(errs...)
}
