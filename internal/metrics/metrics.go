package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// Registry holds all Prometheus metrics for the decision core
type Registry struct {
	// Consensus engine
	ConsensusEvaluations *prometheus.CounterVec
	CacheHits            *prometheus.CounterVec
	CacheMisses          *prometheus.CounterVec
	CacheHitRatio        prometheus.Gauge

	// Risk monitor
	RiskLevel     prometheus.Gauge
	DrawdownPct   prometheus.Gauge
	DailyPnLPct   prometheus.Gauge
	TradingHalts  *prometheus.CounterVec
	MonitorCycles *prometheus.CounterVec

	// Admission queue
	QueueDepth      *prometheus.GaugeVec
	Promotions      prometheus.Counter
	Expirations     prometheus.Counter
	ConditionChecks *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec

	// Gate
	GateDecisions *prometheus.CounterVec
}

// NewRegistry creates the metric set and registers it with the default
// Prometheus registerer
func NewRegistry() *Registry {
	r := &Registry{
		ConsensusEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_consensus_evaluations_total",
				Help: "Total consensus evaluations by outcome",
			},
			[]string{"outcome"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_cache_hits_total",
				Help: "Total cache hits by cache type",
			},
			[]string{"cache_type"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_cache_misses_total",
				Help: "Total cache misses by cache type",
			},
			[]string{"cache_type"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradepulse_cache_hit_ratio",
				Help: "Current cache hit ratio (0.0 to 1.0)",
			},
		),
		RiskLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradepulse_risk_level",
				Help: "Current risk tier (0=NORMAL, 1=WARNING, 2=CRITICAL, 3=BREACH)",
			},
		),
		DrawdownPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradepulse_drawdown_pct",
				Help: "Current drawdown from peak equity in percent",
			},
		),
		DailyPnLPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradepulse_daily_pnl_pct",
				Help: "Daily P&L relative to the start-of-day baseline in percent",
			},
		),
		TradingHalts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_trading_halts_total",
				Help: "Total trading halts by trigger",
			},
			[]string{"trigger"},
		),
		MonitorCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_monitor_cycles_total",
				Help: "Total risk monitor cycles by result",
			},
			[]string{"result"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepulse_queue_depth",
				Help: "Admission queue depth by signal status",
			},
			[]string{"status"},
		),
		Promotions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradepulse_queue_promotions_total",
				Help: "Total signals promoted PENDING to READY",
			},
		),
		Expirations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradepulse_queue_expirations_total",
				Help: "Total signals reaped to EXPIRED",
			},
		),
		ConditionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_condition_checks_total",
				Help: "Total admission condition checks by result",
			},
			[]string{"result"},
		),
		StoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_store_errors_total",
				Help: "Total persistence errors by operation",
			},
			[]string{"operation"},
		),
		GateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepulse_gate_decisions_total",
				Help: "Total exposure gate decisions by verdict and reason",
			},
			[]string{"verdict", "reason"},
		),
	}

	prometheus.MustRegister(
		r.ConsensusEvaluations,
		r.CacheHits,
		r.CacheMisses,
		r.CacheHitRatio,
		r.RiskLevel,
		r.DrawdownPct,
		r.DailyPnLPct,
		r.TradingHalts,
		r.MonitorCycles,
		r.QueueDepth,
		r.Promotions,
		r.Expirations,
		r.ConditionChecks,
		r.StoreErrors,
		r.GateDecisions,
	)

	return r
}

// RecordCacheHit records a cache hit for the specified cache type
func (r *Registry) RecordCacheHit(cacheType string) {
	r.CacheHits.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the specified cache type
func (r *Registry) RecordCacheMiss(cacheType string) {
	r.CacheMisses.WithLabelValues(cacheType).Inc()
	r.updateCacheHitRatio()
}

// updateCacheHitRatio recomputes the hit ratio gauge from the counter values
func (r *Registry) updateCacheHitRatio() {
	var m io_prometheus_client.Metric

	totalHits := 0.0
	totalMisses := 0.0
	for _, cacheType := range []string{"consensus"} {
		if c, err := r.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := c.Write(&m); err == nil {
				totalHits += m.GetCounter().GetValue()
			}
		}
		if c, err := r.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := c.Write(&m); err == nil {
				totalMisses += m.GetCounter().GetValue()
			}
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		r.CacheHitRatio.Set(totalHits / total)
	}
}
