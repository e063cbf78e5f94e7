package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/domain"
)

func testGateConfig() *config.GateConfig {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return &cfg.Gate
}

func strPtr(s string) *string { return &s }

// seedCorrelation drives two symbols' windows so their returns correlate at
// roughly the requested sign and strength
func seedPerfectlyCorrelated(m *CorrelationMatrix, a, b string) {
	prices := []float64{100, 102, 101, 105, 103, 108, 106, 110, 109, 112}
	m.SetPrices(a, prices)
	m.SetPrices(b, prices)
}

func TestCorrelationMatrix_PerfectCorrelation(t *testing.T) {
	m := NewCorrelationMatrix(20)
	seedPerfectlyCorrelated(m, "AAPL", "MSFT")
	assert.InDelta(t, 1.0, m.Correlation("AAPL", "MSFT"), 1e-9)
	assert.InDelta(t, 1.0, m.Correlation("MSFT", "AAPL"), 1e-9) // symmetric
}

func TestCorrelationMatrix_InsufficientHistory(t *testing.T) {
	m := NewCorrelationMatrix(20)
	m.RecordPrice("AAPL", 100)
	m.RecordPrice("MSFT", 200)
	assert.Equal(t, 0.0, m.Correlation("AAPL", "MSFT"))
	assert.Equal(t, 1.0, m.Correlation("AAPL", "AAPL"))
}

func TestCorrelationMatrix_WindowTrimming(t *testing.T) {
	m := NewCorrelationMatrix(3)
	for _, p := range []float64{1, 2, 3, 4, 5, 6, 7, 8} {
		m.RecordPrice("AAPL", p)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Len(t, m.prices["AAPL"], 4) // lookback returns need lookback+1 prices
}

func TestCanAddPosition_SectorCeiling(t *testing.T) {
	cfg := testGateConfig()
	g := NewExposureGate(cfg, NewCorrelationMatrix(cfg.LookbackPeriods), nil)

	// Three 12% tech positions: average size 12%, projected tech share
	// 48% > 40% ceiling.
	heavy := []domain.Position{
		{Symbol: "AAPL", SizePct: 12, Sector: strPtr("Technology")},
		{Symbol: "MSFT", SizePct: 12, Sector: strPtr("Technology")},
		{Symbol: "NVDA", SizePct: 12, Sector: strPtr("Technology")},
	}
	ok, reason := g.CanAddPosition("AMD", strPtr("Technology"), heavy)
	assert.False(t, ok)
	assert.Contains(t, reason, "sector_exposure")

	// Same portfolio, candidate in a different sector: projected energy
	// share 12% passes.
	ok, _ = g.CanAddPosition("XOM", strPtr("Energy"), heavy)
	assert.True(t, ok)

	// Lighter tech book stays just under the ceiling: 3×8% + 8% = 32%.
	light := []domain.Position{
		{Symbol: "AAPL", SizePct: 8, Sector: strPtr("Technology")},
		{Symbol: "MSFT", SizePct: 8, Sector: strPtr("Technology")},
		{Symbol: "NVDA", SizePct: 8, Sector: strPtr("Technology")},
	}
	ok, _ = g.CanAddPosition("AMD", strPtr("Technology"), light)
	assert.True(t, ok)
}

func TestCanAddPosition_UnknownSectorNeverBlockedOnSector(t *testing.T) {
	cfg := testGateConfig()
	g := NewExposureGate(cfg, NewCorrelationMatrix(cfg.LookbackPeriods), nil)

	positions := []domain.Position{
		{Symbol: "ZZZZ1", SizePct: 30},
		{Symbol: "ZZZZ2", SizePct: 30},
	}
	ok, reason := g.CanAddPosition("ZZZZ3", nil, positions)
	assert.True(t, ok, reason)
}

func TestCanAddPosition_PairwiseClusterCap(t *testing.T) {
	cfg := testGateConfig()
	m := NewCorrelationMatrix(cfg.LookbackPeriods)
	g := NewExposureGate(cfg, m, nil)

	// AAPL, MSFT, NVDA and the candidate AMD all move in lockstep, so AAPL
	// already has two correlated holdings (the cap).
	prices := []float64{100, 102, 101, 105, 103, 108, 106, 110, 109, 112}
	for _, sym := range []string{"AAPL", "MSFT", "NVDA", "AMD"} {
		m.SetPrices(sym, prices)
	}

	positions := []domain.Position{
		{Symbol: "AAPL", SizePct: 5, Sector: strPtr("Technology")},
		{Symbol: "MSFT", SizePct: 5, Sector: strPtr("Technology")},
		{Symbol: "NVDA", SizePct: 5, Sector: strPtr("Technology")},
	}
	ok, reason := g.CanAddPosition("AMD", strPtr("Energy"), positions)
	assert.False(t, ok)
	assert.Contains(t, reason, "pairwise_correlation")
}

func TestCanAddPosition_PortfolioMeanCeiling(t *testing.T) {
	cfg := testGateConfig()
	cfg.CorrelatedPositionCap = 10 // disable the pairwise cap for this case
	m := NewCorrelationMatrix(cfg.LookbackPeriods)
	g := NewExposureGate(cfg, m, nil)

	seedPerfectlyCorrelated(m, "AAPL", "AMD")

	positions := []domain.Position{
		{Symbol: "AAPL", SizePct: 5, Sector: strPtr("Technology")},
	}
	ok, reason := g.CanAddPosition("AMD", strPtr("Energy"), positions)
	assert.False(t, ok)
	assert.Contains(t, reason, "portfolio_correlation")
}

func TestGetRiskAdjustedSize_Tiers(t *testing.T) {
	cfg := testGateConfig()
	m := NewCorrelationMatrix(cfg.LookbackPeriods)
	g := NewExposureGate(cfg, m, nil)

	positions := []domain.Position{{Symbol: "AAPL", SizePct: 5}}

	// No history → correlation 0 → full size
	assert.InDelta(t, 10.0, g.GetRiskAdjustedSize("XOM", 10.0, positions), 1e-9)

	// Weak correlation keeps full size, strong correlation halves it.
	m.mu.Lock()
	m.corr["AAPL"] = map[string]float64{"XOM": 0.1, "AMD": 0.75}
	m.corr["XOM"] = map[string]float64{"AAPL": 0.1}
	m.corr["AMD"] = map[string]float64{"AAPL": 0.75}
	m.mu.Unlock()

	require.InDelta(t, 10.0, g.GetRiskAdjustedSize("XOM", 10.0, positions), 1e-9)
	assert.InDelta(t, 5.0, g.GetRiskAdjustedSize("AMD", 10.0, positions), 1e-9)
}

func TestGetRiskAdjustedSize_MidTier(t *testing.T) {
	cfg := testGateConfig()
	m := NewCorrelationMatrix(cfg.LookbackPeriods)
	g := NewExposureGate(cfg, m, nil)

	// Inject a mid-band correlation directly.
	m.mu.Lock()
	m.corr["AAPL"] = map[string]float64{"AMD": 0.55}
	m.corr["AMD"] = map[string]float64{"AAPL": 0.55}
	m.mu.Unlock()

	positions := []domain.Position{{Symbol: "AAPL", SizePct: 5}}
	assert.InDelta(t, 7.5, g.GetRiskAdjustedSize("AMD", 10.0, positions), 1e-9)
}

func TestLookupSector(t *testing.T) {
	tech := LookupSector("AAPL")
	require.NotNil(t, tech)
	assert.Equal(t, "Technology", *tech)

	for _, sym := range []string{"BTC", "BTC-USD", "ETHUSD", "sol/usd", "DOGEUSDT"} {
		sector := LookupSector(sym)
		require.NotNil(t, sector, sym)
		assert.Equal(t, "Cryptocurrency", *sector, sym)
	}

	assert.Nil(t, LookupSector("ZZZZ"))
}
