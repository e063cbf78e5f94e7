package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/core/internal/domain"
)

func postDecision(t *testing.T, h *Handlers, req DecisionRequest) (*httptest.ResponseRecorder, DecisionResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Decide(rec, httptest.NewRequest(http.MethodPost, "/decisions", bytes.NewReader(body)))

	var resp DecisionResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestDecideAdmitsAndQueues(t *testing.T) {
	h, store, _ := newTestHandlers(t)

	rec, resp := postDecision(t, h, DecisionRequest{
		Symbol: "AAPL",
		Regime: "normal",
		Signals: map[string]domain.SourceSignal{
			"massive":       {SourceID: "massive", Direction: domain.DirectionLong, Confidence: 0.85},
			"alpha_vantage": {SourceID: "alpha_vantage", Direction: domain.DirectionLong, Confidence: 0.80},
		},
		SizePct:    5.0,
		EntryPrice: 190.0,
		Conditions: []domain.Condition{
			{Type: domain.NeedsBuyingPower, RequiredValue: 950},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Admitted)
	require.NotNil(t, resp.Consensus)
	assert.Equal(t, domain.DirectionLong, resp.Consensus.Direction)
	assert.Equal(t, 5.0, resp.AdjustedSize)

	require.NotNil(t, resp.Queued)
	assert.Equal(t, "BUY", resp.Queued.Action)
	assert.Equal(t, domain.StatusPending, resp.Queued.Status)
	assert.InDelta(t, resp.Consensus.ConfidencePct/100.0, resp.Queued.Confidence, 1e-9)

	stored, err := store.Signals.Get(httptest.NewRequest(http.MethodGet, "/", nil).Context(), resp.Queued.SignalID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", stored.Symbol)
}

func TestDecideCarriesExecutorPin(t *testing.T) {
	h, store, _ := newTestHandlers(t)

	_, resp := postDecision(t, h, DecisionRequest{
		Symbol: "AAPL",
		Regime: "normal",
		Signals: map[string]domain.SourceSignal{
			"massive": {SourceID: "massive", Direction: domain.DirectionLong, Confidence: 0.9},
		},
		SizePct:    5.0,
		ExecutorID: strptr("alpaca-primary"),
	})

	require.True(t, resp.Admitted)
	require.NotNil(t, resp.Queued)
	require.NotNil(t, resp.Queued.ExecutorID)
	assert.Equal(t, "alpaca-primary", *resp.Queued.ExecutorID)

	stored, err := store.Signals.Get(httptest.NewRequest(http.MethodGet, "/", nil).Context(), resp.Queued.SignalID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExecutorID)
	assert.Equal(t, "alpaca-primary", *stored.ExecutorID)
}

func TestDecideRejectsNeutralConsensus(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	_, resp := postDecision(t, h, DecisionRequest{
		Symbol: "AAPL",
		Regime: "normal",
		Signals: map[string]domain.SourceSignal{
			"massive":       {SourceID: "massive", Direction: domain.DirectionNeutral, Confidence: 0.90},
			"alpha_vantage": {SourceID: "alpha_vantage", Direction: domain.DirectionNeutral, Confidence: 0.85},
		},
	})

	assert.False(t, resp.Admitted)
	assert.Contains(t, resp.RejectReason, "neutral")
	assert.Nil(t, resp.Queued)
}

func TestDecideRejectsWhileHalted(t *testing.T) {
	h, _, monitor := newTestHandlers(t)
	monitor.Halt("daily loss limit")

	_, resp := postDecision(t, h, DecisionRequest{
		Symbol: "AAPL",
		Regime: "normal",
		Signals: map[string]domain.SourceSignal{
			"massive": {SourceID: "massive", Direction: domain.DirectionLong, Confidence: 0.9},
		},
	})

	assert.False(t, resp.Admitted)
	assert.Contains(t, resp.RejectReason, "halted")
}

func TestDecideRejectsSectorOverexposure(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	positions := []domain.Position{
		{Symbol: "MSFT", SizePct: 14, Sector: strptr("Technology")},
		{Symbol: "GOOG", SizePct: 13, Sector: strptr("Technology")},
		{Symbol: "NVDA", SizePct: 12, Sector: strptr("Technology")},
	}

	_, resp := postDecision(t, h, DecisionRequest{
		Symbol: "AAPL",
		Sector: strptr("Technology"),
		Regime: "normal",
		Signals: map[string]domain.SourceSignal{
			"massive": {SourceID: "massive", Direction: domain.DirectionLong, Confidence: 0.9},
		},
		SizePct:   5.0,
		Positions: positions,
	})

	assert.False(t, resp.Admitted)
	assert.Contains(t, resp.RejectReason, "sector")
}

func TestDecideValidatesRequest(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec, _ := postDecision(t, h, DecisionRequest{Symbol: "AAPL"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Decide(rec, httptest.NewRequest(http.MethodPost, "/decisions", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func strptr(s string) *string { return &s }
