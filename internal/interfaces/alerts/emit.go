// Package alerts appends risk alert records to a local JSONL artifact so
// operators can tail or ship them without going through the HTTP server.
package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/risk"
)

// Record is one emitted alert line
type Record struct {
	Timestamp   time.Time                  `json:"timestamp"`
	Level       string                     `json:"level"`
	DrawdownPct float64                    `json:"drawdown_pct"`
	DailyPnLPct float64                    `json:"daily_pnl_pct"`
	Equity      float64                    `json:"equity"`
	Snapshot    domain.RiskMetricsSnapshot `json:"snapshot"`
}

// Emitter appends alert records to a JSONL file. Writes are serialized; a
// failed write logs and drops the record rather than blocking the monitor.
type Emitter struct {
	mu   sync.Mutex
	path string
}

// NewEmitter creates an emitter targeting path. The file is created on
// first write.
func NewEmitter(path string) *Emitter {
	return &Emitter{path: path}
}

// Handler adapts the emitter to the risk monitor's callback signature
func (e *Emitter) Handler() risk.AlertHandler {
	return func(level domain.RiskLevel, snapshot domain.RiskMetricsSnapshot) {
		if err := e.emit(level, snapshot); err != nil {
			log.Warn().Err(err).Str("path", e.path).Msg("Alert artifact write failed")
		}
	}
}

func (e *Emitter) emit(level domain.RiskLevel, snapshot domain.RiskMetricsSnapshot) error {
	record := Record{
		Timestamp:   time.Now().UTC(),
		Level:       level.String(),
		DrawdownPct: snapshot.DrawdownPct,
		DailyPnLPct: snapshot.DailyPnLPct,
		Equity:      snapshot.AccountEquity,
		Snapshot:    snapshot,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal alert record: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open alerts file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append alert record: %w", err)
	}
	return nil
}
