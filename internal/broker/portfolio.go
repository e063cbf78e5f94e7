package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/core/internal/domain"
)

// FetchPortfolio aggregates open positions across the configured executors
// into portfolio weights. SizePct is each symbol's absolute exposure as a
// percent of the combined account value, so short positions count toward
// concentration the same as longs. Executors that fail to respond are
// skipped for this poll; when none respond an error is returned so callers
// keep their previous view instead of zeroing it.
func FetchPortfolio(ctx context.Context, feed AccountFeed, executors []string, timeout time.Duration) ([]domain.Position, error) {
	totalValue := 0.0
	exposure := make(map[string]float64)
	fetched := 0

	for _, id := range executors {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		state, err := feed.GetAccountState(callCtx, id)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("executor", id).Msg("Portfolio fetch skipped executor")
			continue
		}
		fetched++
		totalValue += state.PortfolioValue
		for _, pos := range state.Positions {
			if pos.Qty == 0 {
				continue
			}
			exposure[pos.Symbol] += math.Abs(pos.Value)
		}
	}

	if fetched == 0 {
		return nil, fmt.Errorf("portfolio fetch: no executor responded")
	}
	if totalValue <= 0 {
		return nil, nil
	}

	symbols := make([]string, 0, len(exposure))
	for sym := range exposure {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	positions := make([]domain.Position, 0, len(symbols))
	for _, sym := range symbols {
		positions = append(positions, domain.Position{
			Symbol:  sym,
			SizePct: exposure[sym] / totalValue * 100,
		})
	}
	return positions, nil
}
