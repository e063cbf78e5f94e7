package domain

import (
	"time"
)

// Direction is the directional stance of a signal or decision
type Direction int

const (
	DirectionLong Direction = iota
	DirectionShort
	DirectionNeutral
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	case DirectionNeutral:
		return "NEUTRAL"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection converts a wire string into a Direction
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "LONG":
		return DirectionLong, true
	case "SHORT":
		return DirectionShort, true
	case "NEUTRAL":
		return DirectionNeutral, true
	default:
		return DirectionNeutral, false
	}
}

// SourceSignal is one source's stance for a single evaluation cycle.
// Ephemeral: produced per cycle, never persisted.
type SourceSignal struct {
	SourceID   string    `json:"source_id"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"` // [0,1]
}

// ConsensusDecision is the fused output of one consensus evaluation.
// Immutable once produced. A nil *ConsensusDecision means no actionable
// consensus (tie, all-zero votes, or empty signal map).
type ConsensusDecision struct {
	Direction      Direction `json:"direction"`
	ConfidencePct  float64   `json:"confidence_pct"` // [0,100]
	TotalLongVote  float64   `json:"total_long_vote"`
	TotalShortVote float64   `json:"total_short_vote"`
	SourcesCount   int       `json:"sources_count"`
	AgreementPct   float64   `json:"agreement_pct"`
}

// Position is a portfolio holding. Read-only to this core; mutated only by
// the external execution layer.
type Position struct {
	Symbol  string  `json:"symbol"`
	SizePct float64 `json:"size_pct"`
	Sector  *string `json:"sector,omitempty"`
}

// RiskLevel is the risk tier recomputed every monitoring cycle
type RiskLevel int

const (
	RiskNormal RiskLevel = iota
	RiskWarning
	RiskCritical
	RiskBreach
)

func (l RiskLevel) String() string {
	switch l {
	case RiskNormal:
		return "NORMAL"
	case RiskWarning:
		return "WARNING"
	case RiskCritical:
		return "CRITICAL"
	case RiskBreach:
		return "BREACH"
	default:
		return "UNKNOWN"
	}
}

// RiskMetricsSnapshot is one append-only risk metrics sample.
// Produced exclusively by the risk monitor.
type RiskMetricsSnapshot struct {
	Timestamp            time.Time `json:"ts" db:"ts"`
	DrawdownPct          float64   `json:"drawdown_pct" db:"drawdown_pct"`
	DailyPnLPct          float64   `json:"daily_pnl_pct" db:"daily_pnl_pct"`
	AccountEquity        float64   `json:"account_equity" db:"account_equity"`
	PeakEquity           float64   `json:"peak_equity" db:"peak_equity"`
	OpenPositions        int       `json:"open_positions" db:"open_positions"`
	CorrelatedPositions  int       `json:"correlated_positions" db:"correlated_positions"`
	PortfolioCorrelation float64   `json:"portfolio_correlation" db:"portfolio_correlation"`
	RiskLevel            string    `json:"risk_level" db:"risk_level"`
}

// SignalStatus is the lifecycle state of a queued signal
type SignalStatus string

const (
	StatusPending   SignalStatus = "PENDING"
	StatusReady     SignalStatus = "READY"
	StatusExecuting SignalStatus = "EXECUTING"
	StatusExecuted  SignalStatus = "EXECUTED"
	StatusExpired   SignalStatus = "EXPIRED"
	StatusCancelled SignalStatus = "CANCELLED"
)

// ConditionType names an admission condition predicate
type ConditionType string

const (
	NeedsBuyingPower         ConditionType = "NEEDS_BUYING_POWER"
	NeedsBuyingPowerForShort ConditionType = "NEEDS_BUYING_POWER_FOR_SHORT"
	NeedsPosition            ConditionType = "NEEDS_POSITION"
)

// Condition is a typed predicate that must hold against live account state
// before a queued signal may be promoted to executable
type Condition struct {
	Type          ConditionType `json:"type"`
	RequiredValue float64       `json:"required_value"`
	Symbol        string        `json:"symbol,omitempty"`
}

// QueuedSignal is a risk-approved decision buffered until its admission
// conditions are satisfiable. The field set is the cross-process persistence
// contract and must be preserved exactly by any store implementation.
type QueuedSignal struct {
	SignalID    string       `json:"signal_id" db:"signal_id"`
	Symbol      string       `json:"symbol" db:"symbol"`
	Action      string       `json:"action" db:"action"`
	EntryPrice  float64      `json:"entry_price" db:"entry_price"`
	TargetPrice float64      `json:"target_price" db:"target_price"`
	StopPrice   float64      `json:"stop_price" db:"stop_price"`
	Confidence  float64      `json:"confidence" db:"confidence"`
	Conditions  []Condition  `json:"conditions" db:"-"`
	Priority    float64      `json:"priority" db:"priority"`
	Status      SignalStatus `json:"status" db:"status"`
	QueuedAt    time.Time    `json:"queued_at" db:"queued_at"`
	ExpiresAt   time.Time    `json:"expires_at" db:"expires_at"`
	ExecutorID  *string      `json:"executor_id,omitempty" db:"executor_id"`
	RetryCount  int          `json:"retry_count" db:"retry_count"`
}

// Expired reports whether the signal is past its expiry horizon
func (q *QueuedSignal) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// AccountPosition is a holding as reported by an executor's account feed
type AccountPosition struct {
	Symbol string  `json:"symbol"`
	Qty    float64 `json:"qty"`
	Value  float64 `json:"value"`
}

// AccountState is a point-in-time view of one executor's account
type AccountState struct {
	ExecutorID     string            `json:"executor_id"`
	BuyingPower    float64           `json:"buying_power"`
	Cash           float64           `json:"cash"`
	PortfolioValue float64           `json:"portfolio_value"`
	Positions      []AccountPosition `json:"positions"`
}

// HasPosition reports whether the account holds a non-zero position in symbol
func (a *AccountState) HasPosition(symbol string) bool {
	for _, p := range a.Positions {
		if p.Symbol == symbol && p.Qty != 0 {
			return true
		}
	}
	return false
}

// Urgency grades how aggressively the position manager should close
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)
