package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the decision core. It is constructed
// once at process start and passed by reference to every component; nothing
// in internal/ reads files or environment variables on its own.
type Config struct {
	Consensus ConsensusConfig `yaml:"consensus"`
	Gate      GateConfig      `yaml:"gate"`
	Risk      RiskConfig      `yaml:"risk"`
	Queue     QueueConfig     `yaml:"queue"`
	Broker    BrokerConfig    `yaml:"broker"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	HTTP      HTTPConfig      `yaml:"http"`
	LogLevel  string          `yaml:"log_level"`
}

// ConsensusConfig tunes the consensus engine. The neutral split ratios are
// empirically tuned constants carried over from production; change them and
// trading behavior changes with them.
type ConsensusConfig struct {
	// Weights maps source_id to its base vote weight.
	Weights map[string]float64 `yaml:"weights"`
	// Regimes maps regime name to per-source weight multipliers applied on
	// top of the base weights.
	Regimes map[string]map[string]float64 `yaml:"regimes"`

	SingleSourceDirectionalMin float64 `yaml:"single_source_directional_min"`
	SingleSourceNeutralMin     float64 `yaml:"single_source_neutral_min"`
	NeutralStrongMin           float64 `yaml:"neutral_strong_min"`
	NeutralWeakMin             float64 `yaml:"neutral_weak_min"`
	NeutralStrongLeaderShare   float64 `yaml:"neutral_strong_leader_share"`
	NeutralWeakLongShare       float64 `yaml:"neutral_weak_long_share"`

	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheMaxSize int           `yaml:"cache_max_size"`
}

// GateConfig tunes the correlation/exposure gate
type GateConfig struct {
	SectorCeiling           float64 `yaml:"sector_ceiling"`
	PairwiseThreshold       float64 `yaml:"pairwise_threshold"`
	CorrelatedPositionCap   int     `yaml:"correlated_position_cap"`
	PortfolioMeanCeiling    float64 `yaml:"portfolio_mean_ceiling"`
	SizeFullBelow           float64 `yaml:"size_full_below"`
	SizeHalfAbove           float64 `yaml:"size_half_above"`
	LookbackPeriods         int     `yaml:"lookback_periods"`
	DefaultCandidateSizePct float64 `yaml:"default_candidate_size_pct"`
}

// RiskConfig tunes the compliance monitor
type RiskConfig struct {
	MaxDrawdownPct  float64       `yaml:"max_drawdown_pct"`
	DailyLossPct    float64       `yaml:"daily_loss_pct"`
	CycleInterval   time.Duration `yaml:"cycle_interval"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	SnapshotHistory int           `yaml:"snapshot_history"`
}

// QueueConfig tunes the admission queue and its promoter
type QueueConfig struct {
	PromoteInterval time.Duration `yaml:"promote_interval"`
	ExpiryHorizon   time.Duration `yaml:"expiry_horizon"`
	WriteRetries    int           `yaml:"write_retries"`
}

// BrokerConfig configures external collaborator clients
type BrokerConfig struct {
	AccountFeedURL     string        `yaml:"account_feed_url"`
	PositionManagerURL string        `yaml:"position_manager_url"`
	EquityFeedURL      string        `yaml:"equity_feed_url"`
	Executors          []string      `yaml:"executors"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	RateLimitPerSec    float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
}

// DatabaseConfig configures the postgres store
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// CacheConfig configures the consensus cache backend
type CacheConfig struct {
	Redis struct {
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
	} `yaml:"redis"`
}

// HTTPConfig configures the monitoring server
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads configuration from a YAML file (if present), applies environment
// variable overrides, and fills defaults for anything left unset
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides for deployment
// concerns (connection strings, listen addresses); algorithm tuning stays in
// the YAML file
func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
		cfg.Database.Enabled = true
	}
	if enabled := os.Getenv("PG_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			cfg.Database.Enabled = val
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.Redis.Addr = addr
	}
	if addr := os.Getenv("TP_LISTEN_ADDR"); addr != "" {
		cfg.HTTP.ListenAddr = addr
	}
	if level := os.Getenv("TP_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if url := os.Getenv("TP_ACCOUNT_FEED_URL"); url != "" {
		cfg.Broker.AccountFeedURL = url
	}
	if url := os.Getenv("TP_POSITION_MANAGER_URL"); url != "" {
		cfg.Broker.PositionManagerURL = url
	}
	if url := os.Getenv("TP_EQUITY_FEED_URL"); url != "" {
		cfg.Broker.EquityFeedURL = url
	}
}

// ApplyDefaults fills every unset field with its production default
func ApplyDefaults(cfg *Config) {
	c := &cfg.Consensus
	if c.Weights == nil {
		c.Weights = map[string]float64{
			"massive":       0.40,
			"alpha_vantage": 0.25,
			"technical":     0.20,
			"sonar":         0.15,
		}
	}
	if c.SingleSourceDirectionalMin == 0 {
		c.SingleSourceDirectionalMin = 0.60
	}
	if c.SingleSourceNeutralMin == 0 {
		c.SingleSourceNeutralMin = 0.65
	}
	if c.NeutralStrongMin == 0 {
		c.NeutralStrongMin = 0.70
	}
	if c.NeutralWeakMin == 0 {
		c.NeutralWeakMin = 0.55
	}
	if c.NeutralStrongLeaderShare == 0 {
		c.NeutralStrongLeaderShare = 0.60
	}
	if c.NeutralWeakLongShare == 0 {
		c.NeutralWeakLongShare = 0.55
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 60 * time.Second
	}
	if c.CacheMaxSize == 0 {
		c.CacheMaxSize = 256
	}

	g := &cfg.Gate
	if g.SectorCeiling == 0 {
		g.SectorCeiling = 0.40
	}
	if g.PairwiseThreshold == 0 {
		g.PairwiseThreshold = 0.70
	}
	if g.CorrelatedPositionCap == 0 {
		g.CorrelatedPositionCap = 2
	}
	if g.PortfolioMeanCeiling == 0 {
		g.PortfolioMeanCeiling = 0.50
	}
	if g.SizeFullBelow == 0 {
		g.SizeFullBelow = 0.40
	}
	if g.SizeHalfAbove == 0 {
		g.SizeHalfAbove = 0.70
	}
	if g.LookbackPeriods == 0 {
		g.LookbackPeriods = 20
	}
	if g.DefaultCandidateSizePct == 0 {
		g.DefaultCandidateSizePct = 5.0
	}

	r := &cfg.Risk
	if r.MaxDrawdownPct == 0 {
		r.MaxDrawdownPct = 4.0
	}
	if r.DailyLossPct == 0 {
		r.DailyLossPct = 3.0
	}
	if r.CycleInterval == 0 {
		r.CycleInterval = 5 * time.Second
	}
	if r.CallTimeout == 0 {
		r.CallTimeout = 3 * time.Second
	}
	if r.SnapshotHistory == 0 {
		r.SnapshotHistory = 1000
	}

	q := &cfg.Queue
	if q.PromoteInterval == 0 {
		q.PromoteInterval = 30 * time.Second
	}
	if q.ExpiryHorizon == 0 {
		q.ExpiryHorizon = 24 * time.Hour
	}
	if q.WriteRetries == 0 {
		q.WriteRetries = 3
	}

	b := &cfg.Broker
	if b.RequestTimeout == 0 {
		b.RequestTimeout = 5 * time.Second
	}
	if b.RateLimitPerSec == 0 {
		b.RateLimitPerSec = 10
	}
	if b.RateLimitBurst == 0 {
		b.RateLimitBurst = 20
	}

	db := &cfg.Database
	if db.MaxOpenConns == 0 {
		db.MaxOpenConns = 10
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = 5
	}
	if db.ConnMaxLifetime == 0 {
		db.ConnMaxLifetime = 30 * time.Minute
	}
	if db.QueryTimeout == 0 {
		db.QueryTimeout = 30 * time.Second
	}

	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = ":8090"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// WeightsFor returns the effective per-source weight table for a regime.
// With no regime (or an unknown one) the base weights are returned unchanged.
func (c *ConsensusConfig) WeightsFor(regime string) map[string]float64 {
	if regime == "" {
		return c.Weights
	}
	multipliers, ok := c.Regimes[regime]
	if !ok {
		return c.Weights
	}
	adjusted := make(map[string]float64, len(c.Weights))
	for source, w := range c.Weights {
		adjusted[source] = w
		if m, ok := multipliers[source]; ok {
			adjusted[source] = w * m
		}
	}
	return adjusted
}
