package gate

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/metrics"
)

// ExposureGate admits, rejects, or resizes candidate positions against
// portfolio-level sector and correlation limits. Checks run in a fixed
// order; the first failing check rejects.
type ExposureGate struct {
	cfg     *config.GateConfig
	matrix  *CorrelationMatrix
	metrics *metrics.Registry
}

// NewExposureGate creates a gate over the given correlation matrix.
// metrics may be nil.
func NewExposureGate(cfg *config.GateConfig, matrix *CorrelationMatrix, m *metrics.Registry) *ExposureGate {
	if matrix == nil {
		matrix = NewCorrelationMatrix(cfg.LookbackPeriods)
	}
	return &ExposureGate{cfg: cfg, matrix: matrix, metrics: m}
}

// Matrix exposes the gate's correlation matrix for the price feed writer
func (g *ExposureGate) Matrix() *CorrelationMatrix {
	return g.matrix
}

// CanAddPosition decides whether a candidate may be admitted to the
// portfolio. A nil sector falls back to the static symbol table; symbols
// with no resolvable sector skip the sector check entirely.
func (g *ExposureGate) CanAddPosition(symbol string, sector *string, positions []domain.Position) (bool, string) {
	ok, reason := g.evaluate(symbol, sector, positions)

	if g.metrics != nil {
		verdict := "accept"
		if !ok {
			verdict = "reject"
		}
		// Label with the check name only; the detailed reason is unbounded
		g.metrics.GateDecisions.WithLabelValues(verdict, reasonCode(reason)).Inc()
	}
	if !ok {
		log.Debug().Str("symbol", symbol).Str("reason", reason).Msg("Position rejected by exposure gate")
	}
	return ok, reason
}

func (g *ExposureGate) evaluate(symbol string, sector *string, positions []domain.Position) (bool, string) {
	if sector == nil {
		sector = LookupSector(symbol)
	}

	// 1. Sector exposure ceiling. The candidate is projected at the
	// portfolio's average position size (config default when empty).
	if sector != nil {
		projected := g.projectedSectorShare(*sector, positions)
		if projected > g.cfg.SectorCeiling {
			return false, fmt.Sprintf("sector_exposure: %s would reach %.1f%% (ceiling %.1f%%)",
				*sector, projected*100, g.cfg.SectorCeiling*100)
		}
	}

	// 2. Pairwise correlation clustering: adding the candidate must not grow
	// an already-saturated correlation cluster.
	for _, pos := range positions {
		if math.Abs(g.matrix.Correlation(symbol, pos.Symbol)) <= g.cfg.PairwiseThreshold {
			continue
		}
		clustered := 0
		for _, other := range positions {
			if other.Symbol == pos.Symbol {
				continue
			}
			if math.Abs(g.matrix.Correlation(pos.Symbol, other.Symbol)) > g.cfg.PairwiseThreshold {
				clustered++
			}
		}
		if clustered >= g.cfg.CorrelatedPositionCap {
			return false, fmt.Sprintf("pairwise_correlation: %s clusters with %s (%d correlated holdings, cap %d)",
				symbol, pos.Symbol, clustered, g.cfg.CorrelatedPositionCap)
		}
	}

	// 3. Portfolio-wide mean absolute correlation including the candidate
	if mean := g.portfolioMeanCorrelation(symbol, positions); mean > g.cfg.PortfolioMeanCeiling {
		return false, fmt.Sprintf("portfolio_correlation: mean |corr| %.2f exceeds ceiling %.2f",
			mean, g.cfg.PortfolioMeanCeiling)
	}

	return true, "ok"
}

// reasonCode strips the detail from a rejection reason so metric labels
// stay low-cardinality ("sector_exposure", "pairwise_correlation", ...).
func reasonCode(reason string) string {
	if i := strings.IndexByte(reason, ':'); i > 0 {
		return reason[:i]
	}
	return reason
}

// GetRiskAdjustedSize scales base size down as the candidate's maximum
// absolute correlation against any existing holding grows: full size below
// the lower knee, 75% between the knees, half size above the upper knee.
func (g *ExposureGate) GetRiskAdjustedSize(symbol string, baseSize float64, positions []domain.Position) float64 {
	maxCorr := 0.0
	for _, pos := range positions {
		if c := math.Abs(g.matrix.Correlation(symbol, pos.Symbol)); c > maxCorr {
			maxCorr = c
		}
	}

	switch {
	case maxCorr > g.cfg.SizeHalfAbove:
		return baseSize * 0.5
	case maxCorr >= g.cfg.SizeFullBelow:
		return baseSize * 0.75
	default:
		return baseSize
	}
}

// projectedSectorShare computes the sector's share of account equity if the
// candidate were admitted at the portfolio's average position size. SizePct
// values are percent of account equity, so the share is out of 100.
func (g *ExposureGate) projectedSectorShare(sector string, positions []domain.Position) float64 {
	totalSize := 0.0
	sectorSize := 0.0
	for _, pos := range positions {
		totalSize += pos.SizePct
		posSector := pos.Sector
		if posSector == nil {
			posSector = LookupSector(pos.Symbol)
		}
		if posSector != nil && *posSector == sector {
			sectorSize += pos.SizePct
		}
	}

	candidateSize := g.cfg.DefaultCandidateSizePct
	if len(positions) > 0 && totalSize > 0 {
		candidateSize = totalSize / float64(len(positions))
	}

	return (sectorSize + candidateSize) / 100.0
}

// PortfolioCorrelation returns the mean absolute pairwise correlation across
// the given holdings alone, with no candidate projected in. The risk monitor
// uses it to stamp portfolio correlation onto its snapshots.
func (g *ExposureGate) PortfolioCorrelation(positions []domain.Position) float64 {
	if len(positions) < 2 {
		return 0
	}
	sum := 0.0
	pairs := 0
	for i := 0; i < len(positions); i++ {
		for j := i + 1; j < len(positions); j++ {
			sum += math.Abs(g.matrix.Correlation(positions[i].Symbol, positions[j].Symbol))
			pairs++
		}
	}
	return sum / float64(pairs)
}

// portfolioMeanCorrelation computes the mean absolute pairwise correlation
// across all positions including the candidate
func (g *ExposureGate) portfolioMeanCorrelation(symbol string, positions []domain.Position) float64 {
	symbols := make([]string, 0, len(positions)+1)
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}
	symbols = append(symbols, symbol)

	sum := 0.0
	pairs := 0
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			sum += math.Abs(g.matrix.Correlation(symbols[i], symbols[j]))
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}
