package gate

import (
	"math"
	"sync"
)

// CorrelationMatrix tracks pairwise Pearson correlations of simple returns
// over a rolling price window. Single writer (the price feed), many readers;
// readers tolerate values that are at most one refresh stale.
type CorrelationMatrix struct {
	mu       sync.RWMutex
	lookback int
	prices   map[string][]float64
	corr     map[string]map[string]float64
}

// NewCorrelationMatrix creates a matrix over a rolling window of lookback
// price periods
func NewCorrelationMatrix(lookback int) *CorrelationMatrix {
	if lookback < 2 {
		lookback = 2
	}
	return &CorrelationMatrix{
		lookback: lookback,
		prices:   make(map[string][]float64),
		corr:     make(map[string]map[string]float64),
	}
}

// RecordPrice appends a price sample for symbol, trimming the window to the
// configured lookback, and refreshes that symbol's correlation row
func (m *CorrelationMatrix) RecordPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := append(m.prices[symbol], price)
	if len(window) > m.lookback+1 {
		window = window[len(window)-m.lookback-1:]
	}
	m.prices[symbol] = window

	m.refreshSymbolLocked(symbol)
}

// SetPrices replaces the whole rolling window for symbol and refreshes its
// correlation row. Used when backfilling from a historical feed.
func (m *CorrelationMatrix) SetPrices(symbol string, prices []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := append([]float64(nil), prices...)
	if len(window) > m.lookback+1 {
		window = window[len(window)-m.lookback-1:]
	}
	m.prices[symbol] = window

	m.refreshSymbolLocked(symbol)
}

// refreshSymbolLocked recomputes correlations between symbol and every other
// tracked symbol, storing both orderings of each pair
func (m *CorrelationMatrix) refreshSymbolLocked(symbol string) {
	a := returns(m.prices[symbol])
	if m.corr[symbol] == nil {
		m.corr[symbol] = make(map[string]float64)
	}
	for other, prices := range m.prices {
		if other == symbol {
			continue
		}
		b := returns(prices)
		c := pearson(a, b)
		if m.corr[other] == nil {
			m.corr[other] = make(map[string]float64)
		}
		m.corr[symbol][other] = c
		m.corr[other][symbol] = c
	}
}

// Correlation returns the current pairwise correlation, or 0 when either
// symbol has insufficient history
func (m *CorrelationMatrix) Correlation(a, b string) float64 {
	if a == b {
		return 1.0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.corr[a][b]
}

// returns computes simple returns from a price window
func returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// pearson computes the Pearson correlation of two equally-truncated series
func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
