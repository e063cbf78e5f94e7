package http

import (
	"encoding/json"
	"net/http"
)

// PriceIngestRequest carries a batch of price samples into the correlation
// matrix. External market data publishers post here so the exposure gate's
// pairwise and portfolio correlation checks run against live windows.
type PriceIngestRequest struct {
	Prices []PriceSample `json:"prices"`
}

// PriceSample is one symbol's latest trade or mark price
type PriceSample struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// PriceIngest records each valid sample into the gate's rolling price
// windows. Samples with a missing symbol or non-positive price are dropped
// individually rather than failing the batch.
func (h *Handlers) PriceIngest(w http.ResponseWriter, r *http.Request) {
	var req PriceIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Prices) == 0 {
		writeError(w, http.StatusBadRequest, "prices are required")
		return
	}

	matrix := h.gate.Matrix()
	accepted := 0
	for _, sample := range req.Prices {
		if sample.Symbol == "" || sample.Price <= 0 {
			continue
		}
		matrix.RecordPrice(sample.Symbol, sample.Price)
		accepted++
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"accepted": accepted,
		"dropped":  len(req.Prices) - accepted,
	})
}
