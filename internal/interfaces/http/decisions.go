package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/gate"
)

// DecisionRequest carries one evaluation through the full admission
// pipeline: consensus, risk admission, exposure gate, then queueing.
type DecisionRequest struct {
	Symbol      string                         `json:"symbol"`
	Sector      *string                        `json:"sector,omitempty"`
	Regime      string                         `json:"regime"`
	Signals     map[string]domain.SourceSignal `json:"signals"`
	SizePct     float64                        `json:"size_pct"`
	EntryPrice  float64                        `json:"entry_price"`
	TargetPrice float64                        `json:"target_price"`
	StopPrice   float64                        `json:"stop_price"`
	Positions   []domain.Position              `json:"positions"`
	Conditions  []domain.Condition             `json:"conditions"`
	ExecutorID  *string                        `json:"executor_id,omitempty"`
}

// DecisionResponse reports each stage's verdict. Queued is set only when
// every stage passed.
type DecisionResponse struct {
	Consensus    *domain.ConsensusDecision `json:"consensus"`
	Admitted     bool                      `json:"admitted"`
	RejectReason string                    `json:"reject_reason,omitempty"`
	AdjustedSize float64                   `json:"adjusted_size_pct,omitempty"`
	Queued       *domain.QueuedSignal      `json:"queued,omitempty"`
}

// Decide runs the admission pipeline end to end. Stages run cheapest-first
// and the first rejection short-circuits the rest.
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Symbol == "" || len(req.Signals) == 0 {
		writeError(w, http.StatusBadRequest, "symbol and signals are required")
		return
	}

	resp := DecisionResponse{}

	decision := h.engine.CalculateConsensus(req.Signals, req.Regime)
	resp.Consensus = decision
	if decision == nil {
		resp.RejectReason = "no consensus"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if decision.Direction == domain.DirectionNeutral {
		resp.RejectReason = "consensus is neutral"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if ok, reason := h.monitor.CanTrade(); !ok {
		resp.RejectReason = reason
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if ok, reason := h.gate.CanAddPosition(req.Symbol, h.resolveSector(req), req.Positions); !ok {
		resp.RejectReason = reason
		writeJSON(w, http.StatusOK, resp)
		return
	}

	adjusted := h.gate.GetRiskAdjustedSize(req.Symbol, req.SizePct, req.Positions)
	resp.AdjustedSize = adjusted

	action := "BUY"
	if decision.Direction == domain.DirectionShort {
		action = "SELL_SHORT"
	}

	queued, err := h.queue.QueueSignal(r.Context(), domain.QueuedSignal{
		Symbol:      req.Symbol,
		Action:      action,
		EntryPrice:  req.EntryPrice,
		TargetPrice: req.TargetPrice,
		StopPrice:   req.StopPrice,
		Confidence:  decision.ConfidencePct / 100.0,
		Conditions:  req.Conditions,
		ExecutorID:  req.ExecutorID,
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", req.Symbol).Msg("Queueing failed after admission")
		writeError(w, http.StatusInternalServerError, "queue store unavailable")
		return
	}

	resp.Admitted = true
	resp.Queued = queued
	writeJSON(w, http.StatusOK, resp)
}

// resolveSector prefers the caller-supplied sector and falls back to the
// static classification table
func (h *Handlers) resolveSector(req DecisionRequest) *string {
	if req.Sector != nil {
		return req.Sector
	}
	return gate.LookupSector(req.Symbol)
}
