// Package risk implements the compliance monitor: a continuously-running
// state machine that recomputes drawdown and daily P&L from the equity
// stream, classifies the current risk tier, and triggers protective actions.
// The tier is recomputed from scratch every cycle so it can never stick at a
// stale severity; the trading halt is the one deliberate exception and stays
// set until an explicit reset.
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/core/internal/broker"
	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/metrics"
	"github.com/tradepulse/core/internal/persistence"
)

// AlertHandler receives WARNING and CRITICAL notifications
type AlertHandler func(level domain.RiskLevel, snapshot domain.RiskMetricsSnapshot)

// PortfolioFunc supplies current holdings and their portfolio-wide mean
// absolute correlation. Wired by the assembly layer from the account feed
// and the gate's correlation matrix.
type PortfolioFunc func(ctx context.Context) ([]domain.Position, float64, error)

// Monitor is the risk compliance monitor. Construct one per process and
// inject it wherever trading admission happens; every admission path must
// consult CanTrade.
type Monitor struct {
	cfg       *config.RiskConfig
	positions broker.PositionManager
	snapshots persistence.SnapshotStore
	incidents persistence.IncidentStore
	metrics   *metrics.Registry

	mu            sync.RWMutex
	equity        float64
	peakEquity    float64
	dailyBaseline float64
	baselineDay   string // YYYY-MM-DD of the current daily baseline
	halted        bool
	haltReason    string
	lastLevel     domain.RiskLevel
	history       []domain.RiskMetricsSnapshot
	handlers      []AlertHandler

	portfolio     []domain.Position
	portfolioCorr float64
	portfolioSrc  PortfolioFunc

	cancelLoop context.CancelFunc
	now        func() time.Time
}

// NewMonitor creates a monitor. positions, snapshots, incidents and m may be
// nil for offline evaluation; protective actions and persistence are then
// skipped with a log line.
func NewMonitor(cfg *config.RiskConfig, positions broker.PositionManager, snapshots persistence.SnapshotStore, incidents persistence.IncidentStore, m *metrics.Registry) *Monitor {
	return &Monitor{
		cfg:       cfg,
		positions: positions,
		snapshots: snapshots,
		incidents: incidents,
		metrics:   m,
		lastLevel: domain.RiskNormal,
		now:       time.Now,
	}
}

// UpdateEquity pushes a fresh equity sample. Classification happens on the
// next cycle from the latest sample, never from a stale cached one.
func (mon *Monitor) UpdateEquity(equity float64) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.equity = equity
	if equity > mon.peakEquity {
		mon.peakEquity = equity
	}
	if mon.dailyBaseline == 0 {
		mon.dailyBaseline = equity
		mon.baselineDay = mon.now().UTC().Format("2006-01-02")
	}
}

// UpdatePortfolio refreshes the monitor's view of open positions and the
// portfolio-wide mean correlation (both produced elsewhere; the monitor is
// read-only toward the portfolio)
func (mon *Monitor) UpdatePortfolio(positions []domain.Position, portfolioCorr float64) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.portfolio = append([]domain.Position(nil), positions...)
	mon.portfolioCorr = portfolioCorr
}

// SetPortfolioSource wires a live holdings source polled at the start of
// every cycle. Without one the portfolio view only changes through explicit
// UpdatePortfolio calls.
func (mon *Monitor) SetPortfolioSource(src PortfolioFunc) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.portfolioSrc = src
}

// RegisterAlertHandler adds a callback fired on WARNING and CRITICAL cycles
func (mon *Monitor) RegisterAlertHandler(h AlertHandler) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.handlers = append(mon.handlers, h)
}

// CanTrade is the admission gate every path must check. It refuses while a
// halt is set or while the latest classification is CRITICAL or BREACH.
func (mon *Monitor) CanTrade() (bool, string) {
	mon.mu.RLock()
	defer mon.mu.RUnlock()
	if mon.halted {
		return false, "trading halted: " + mon.haltReason
	}
	if mon.lastLevel >= domain.RiskCritical {
		return false, "risk level " + mon.lastLevel.String()
	}
	return true, ""
}

// Halt sets the persistent trading halt. It is never cleared by a
// normal-range reading; only ResetDaily or ClearHalt releases it.
func (mon *Monitor) Halt(reason string) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.haltLocked(reason)
}

func (mon *Monitor) haltLocked(reason string) {
	if !mon.halted && mon.metrics != nil {
		mon.metrics.TradingHalts.WithLabelValues("breach").Inc()
	}
	mon.halted = true
	mon.haltReason = reason
}

// ClearHalt releases the halt after operator resolution
func (mon *Monitor) ClearHalt() {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.halted = false
	mon.haltReason = ""
	log.Info().Msg("Trading halt cleared by operator")
}

// ResetDaily re-baselines daily P&L at the given equity and clears a prior
// halt. Called on date rollover (prop-firm accounts reset daily) and by the
// operator reset action. Peak equity survives a daily reset.
func (mon *Monitor) ResetDaily(equity float64) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.dailyBaseline = equity
	mon.baselineDay = mon.now().UTC().Format("2006-01-02")
	mon.halted = false
	mon.haltReason = ""
	mon.lastLevel = domain.RiskNormal
	log.Info().Float64("baseline", equity).Msg("Daily risk baseline reset")
}

// History returns a copy of the bounded in-memory snapshot history
func (mon *Monitor) History() []domain.RiskMetricsSnapshot {
	mon.mu.RLock()
	defer mon.mu.RUnlock()
	return append([]domain.RiskMetricsSnapshot(nil), mon.history...)
}

// Latest returns the most recent snapshot, or nil before the first cycle
func (mon *Monitor) Latest() *domain.RiskMetricsSnapshot {
	mon.mu.RLock()
	defer mon.mu.RUnlock()
	if len(mon.history) == 0 {
		return nil
	}
	out := mon.history[len(mon.history)-1]
	return &out
}

// Run executes monitoring cycles until ctx is cancelled. A BREACH cancels
// the loop itself; the operator must explicitly restart it.
func (mon *Monitor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	mon.mu.Lock()
	mon.cancelLoop = cancel
	mon.mu.Unlock()
	defer cancel()

	log.Info().Dur("interval", mon.cfg.CycleInterval).Msg("Risk monitor starting")
	ticker := time.NewTicker(mon.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Risk monitor stopped")
			return
		case <-ticker.C:
			mon.Cycle(ctx)
		}
	}
}

// Cycle runs one monitoring pass: rollover, metric recompute, classification
// and protective actions. Exported so offline tooling and tests can step the
// monitor without the ticker.
func (mon *Monitor) Cycle(ctx context.Context) {
	mon.refreshPortfolio(ctx)

	snapshot, level, actionable := mon.evaluate()
	if !actionable {
		if mon.metrics != nil {
			mon.metrics.MonitorCycles.WithLabelValues("skipped").Inc()
		}
		return
	}

	if mon.metrics != nil {
		mon.metrics.MonitorCycles.WithLabelValues("ok").Inc()
		mon.metrics.RiskLevel.Set(float64(level))
		mon.metrics.DrawdownPct.Set(snapshot.DrawdownPct)
		mon.metrics.DailyPnLPct.Set(snapshot.DailyPnLPct)
	}

	mon.persistSnapshot(ctx, snapshot)

	switch level {
	case domain.RiskWarning:
		mon.fireAlerts(level, snapshot)
	case domain.RiskCritical:
		mon.fireAlerts(level, snapshot)
		mon.closeHighestRiskHalf(ctx)
	case domain.RiskBreach:
		mon.emergencyShutdown(ctx, snapshot)
	}
}

// refreshPortfolio pulls live holdings when a source is wired. A failed poll
// keeps the previous view so one bad fetch cannot zero the exposure numbers.
func (mon *Monitor) refreshPortfolio(ctx context.Context) {
	mon.mu.RLock()
	src := mon.portfolioSrc
	mon.mu.RUnlock()
	if src == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, mon.cfg.CallTimeout)
	positions, corr, err := src(callCtx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("Portfolio refresh failed; keeping previous view")
		return
	}
	mon.UpdatePortfolio(positions, corr)
}

// evaluate recomputes metrics and classification under the lock and appends
// the snapshot to the bounded history. No I/O happens here.
func (mon *Monitor) evaluate() (domain.RiskMetricsSnapshot, domain.RiskLevel, bool) {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	now := mon.now().UTC()

	// Date rollover: new daily baseline, prior halt cleared
	if day := now.Format("2006-01-02"); mon.baselineDay != "" && day != mon.baselineDay {
		mon.baselineDay = day
		mon.dailyBaseline = mon.equity
		if mon.halted {
			log.Info().Str("prior_reason", mon.haltReason).Msg("Trading halt cleared on date rollover")
		}
		mon.halted = false
		mon.haltReason = ""
	}

	if mon.equity <= 0 || mon.peakEquity <= 0 {
		return domain.RiskMetricsSnapshot{}, domain.RiskNormal, false
	}

	drawdownPct := (mon.peakEquity - mon.equity) / mon.peakEquity * 100
	dailyPnLPct := 0.0
	if mon.dailyBaseline > 0 {
		dailyPnLPct = (mon.equity - mon.dailyBaseline) / mon.dailyBaseline * 100
	}

	level := classify(drawdownPct, dailyPnLPct, mon.cfg.MaxDrawdownPct, mon.cfg.DailyLossPct)
	mon.lastLevel = level

	// When the portfolio-wide mean correlation is elevated every open
	// position counts as correlated exposure
	correlated := 0
	if mon.portfolioCorr > 0.5 {
		correlated = len(mon.portfolio)
	}

	snapshot := domain.RiskMetricsSnapshot{
		Timestamp:            now,
		DrawdownPct:          drawdownPct,
		DailyPnLPct:          dailyPnLPct,
		AccountEquity:        mon.equity,
		PeakEquity:           mon.peakEquity,
		OpenPositions:        len(mon.portfolio),
		CorrelatedPositions:  correlated,
		PortfolioCorrelation: mon.portfolioCorr,
		RiskLevel:            level.String(),
	}

	mon.history = append(mon.history, snapshot)
	if len(mon.history) > mon.cfg.SnapshotHistory {
		mon.history = mon.history[len(mon.history)-mon.cfg.SnapshotHistory:]
	}

	return snapshot, level, true
}

// classify maps current metrics onto the risk tier as fixed fractions of the
// configured limits. Percentages stay unrounded internally so the thresholds
// cannot flap on display rounding.
func classify(drawdownPct, dailyPnLPct, maxDrawdownPct, dailyLossPct float64) domain.RiskLevel {
	ddFrac := 0.0
	if maxDrawdownPct > 0 {
		ddFrac = drawdownPct / maxDrawdownPct
	}
	dlFrac := 0.0
	if dailyPnLPct < 0 && dailyLossPct > 0 {
		dlFrac = -dailyPnLPct / dailyLossPct
	}

	worst := math.Max(ddFrac, dlFrac)
	switch {
	case worst >= 1.0:
		return domain.RiskBreach
	case worst >= 0.9:
		return domain.RiskCritical
	case worst >= 0.7:
		return domain.RiskWarning
	default:
		return domain.RiskNormal
	}
}

// fireAlerts invokes registered handlers outside the monitor lock
func (mon *Monitor) fireAlerts(level domain.RiskLevel, snapshot domain.RiskMetricsSnapshot) {
	mon.mu.RLock()
	handlers := append([]AlertHandler(nil), mon.handlers...)
	mon.mu.RUnlock()

	for _, h := range handlers {
		h(level, snapshot)
	}
}

// closeHighestRiskHalf instructs the position manager to unwind the
// highest-risk half of open positions, ranked by size_pct scaled up by
// portfolio correlation
func (mon *Monitor) closeHighestRiskHalf(ctx context.Context) {
	mon.mu.RLock()
	positions := append([]domain.Position(nil), mon.portfolio...)
	corr := mon.portfolioCorr
	mon.mu.RUnlock()

	if len(positions) == 0 || mon.positions == nil {
		return
	}

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].SizePct*(1+corr) > positions[j].SizePct*(1+corr)
	})

	toClose := positions[:(len(positions)+1)/2]
	for _, pos := range toClose {
		callCtx, cancel := context.WithTimeout(ctx, mon.cfg.CallTimeout)
		err := mon.positions.ClosePosition(callCtx, pos.Symbol, domain.UrgencyHigh)
		cancel()
		if err != nil {
			// Transient: the next cycle re-evaluates and retries
			log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Risk reduction close failed")
			continue
		}
		log.Info().Str("symbol", pos.Symbol).Float64("size_pct", pos.SizePct).Msg("Position closed for risk reduction")
	}
}

// emergencyShutdown is the BREACH path: persistent halt, flatten everything,
// structured incident record, and stop the monitoring loop itself
func (mon *Monitor) emergencyShutdown(ctx context.Context, snapshot domain.RiskMetricsSnapshot) {
	reason := "risk breach: drawdown " + formatPct(snapshot.DrawdownPct) + ", daily P&L " + formatPct(snapshot.DailyPnLPct)

	mon.mu.Lock()
	alreadyHalted := mon.halted
	mon.haltLocked(reason)
	cancel := mon.cancelLoop
	mon.mu.Unlock()

	if alreadyHalted {
		return
	}

	log.Error().
		Float64("drawdown_pct", snapshot.DrawdownPct).
		Float64("daily_pnl_pct", snapshot.DailyPnLPct).
		Float64("equity", snapshot.AccountEquity).
		Msg("RISK BREACH: emergency shutdown")

	if mon.positions != nil {
		callCtx, cancelCall := context.WithTimeout(context.Background(), mon.cfg.CallTimeout)
		if err := mon.positions.CloseAllPositions(callCtx, domain.UrgencyEmergency); err != nil {
			log.Error().Err(err).Msg("Emergency close-all failed; positions remain open")
		}
		cancelCall()
	}

	if mon.incidents != nil {
		incCtx, cancelInc := context.WithTimeout(context.Background(), mon.cfg.CallTimeout)
		err := mon.incidents.Insert(incCtx, persistence.Incident{
			Timestamp: snapshot.Timestamp,
			Kind:      "risk_breach",
			Reason:    reason,
			Details: map[string]interface{}{
				"drawdown_pct":   snapshot.DrawdownPct,
				"daily_pnl_pct":  snapshot.DailyPnLPct,
				"account_equity": snapshot.AccountEquity,
				"peak_equity":    snapshot.PeakEquity,
				"open_positions": snapshot.OpenPositions,
			},
		})
		cancelInc()
		if err != nil {
			log.Error().Err(err).Msg("Failed to persist breach incident")
		}
	}

	// The loop stops; restarting is an explicit operator action
	if cancel != nil {
		cancel()
	}
}

// persistSnapshot writes the snapshot through the store; failures are logged
// and the bounded in-memory history remains authoritative for readers
func (mon *Monitor) persistSnapshot(ctx context.Context, snapshot domain.RiskMetricsSnapshot) {
	if mon.snapshots == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, mon.cfg.CallTimeout)
	defer cancel()
	if err := mon.snapshots.Insert(callCtx, snapshot); err != nil {
		if mon.metrics != nil {
			mon.metrics.StoreErrors.WithLabelValues("snapshot_insert").Inc()
		}
		log.Warn().Err(err).Msg("Risk snapshot persist failed")
	}
}

// formatPct rounds only at display time
func formatPct(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}
