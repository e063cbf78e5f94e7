// Package queue implements the execution admission queue: a persistent
// priority buffer between approved decisions and executors. Signals wait in
// PENDING until their typed conditions hold against live account state, are
// promoted to READY, and are handed to exactly one executor through an
// atomic claim.
package queue

import (
	"fmt"

	"github.com/tradepulse/core/internal/domain"
)

// CheckConditions evaluates every condition on the signal against the given
// account state and returns a human-readable reason per unmet condition. An
// empty slice means the signal is promotable. All conditions are checked
// rather than stopping at the first failure so operators see the complete
// picture in queue listings.
func CheckConditions(signal *domain.QueuedSignal, account *domain.AccountState) []string {
	if account == nil {
		return []string{"no account state available"}
	}

	var unmet []string
	for _, cond := range signal.Conditions {
		symbol := cond.Symbol
		if symbol == "" {
			symbol = signal.Symbol
		}

		switch cond.Type {
		case domain.NeedsBuyingPower:
			if account.BuyingPower < cond.RequiredValue {
				unmet = append(unmet, fmt.Sprintf("buying power %.2f below required %.2f", account.BuyingPower, cond.RequiredValue))
			}
		case domain.NeedsBuyingPowerForShort:
			// Short entries reserve against the same buying power pool
			if account.BuyingPower < cond.RequiredValue {
				unmet = append(unmet, fmt.Sprintf("buying power %.2f below required %.2f for short", account.BuyingPower, cond.RequiredValue))
			}
		case domain.NeedsPosition:
			if !account.HasPosition(symbol) {
				unmet = append(unmet, fmt.Sprintf("no open position in %s", symbol))
			}
		default:
			// Unknown predicates never promote; failing open here would
			// admit signals whose requirements we cannot verify
			unmet = append(unmet, fmt.Sprintf("unknown condition type %q", cond.Type))
		}
	}

	return unmet
}
