package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/core/internal/consensus"
	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/gate"
	"github.com/tradepulse/core/internal/persistence"
	"github.com/tradepulse/core/internal/queue"
	"github.com/tradepulse/core/internal/risk"
)

// Handlers bundles the monitoring and decision endpoints over the live
// components
type Handlers struct {
	engine    *consensus.Engine
	gate      *gate.ExposureGate
	monitor   *risk.Monitor
	queue     *queue.AdmissionQueue
	incidents persistence.IncidentStore
	startedAt time.Time
	version   string
}

// NewHandlers wires the endpoint set. incidents may be nil when persistence
// is disabled; the endpoint then reports an empty list.
func NewHandlers(engine *consensus.Engine, g *gate.ExposureGate, monitor *risk.Monitor, q *queue.AdmissionQueue, incidents persistence.IncidentStore, version string) *Handlers {
	return &Handlers{
		engine:    engine,
		gate:      g,
		monitor:   monitor,
		queue:     q,
		incidents: incidents,
		startedAt: time.Now().UTC(),
		version:   version,
	}
}

// Health reports liveness and uptime
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    h.version,
		"uptime_sec": int(time.Since(h.startedAt).Seconds()),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// Metrics returns the Prometheus exposition handler
func (h *Handlers) Metrics() http.Handler {
	return promhttp.Handler()
}

// MetricsSummary renders the tradepulse metric families as a flat JSON map
// for dashboards that do not speak the Prometheus text format
func (h *Handlers) MetricsSummary(w http.ResponseWriter, r *http.Request) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "metrics gather failed")
		return
	}

	summary := make(map[string]float64)
	for _, family := range families {
		name := family.GetName()
		if !strings.HasPrefix(name, "tradepulse_") {
			continue
		}
		for _, m := range family.GetMetric() {
			key := name + labelSuffix(m)
			switch family.GetType() {
			case io_prometheus_client.MetricType_COUNTER:
				summary[key] = m.GetCounter().GetValue()
			case io_prometheus_client.MetricType_GAUGE:
				summary[key] = m.GetGauge().GetValue()
			}
		}
	}

	writeJSON(w, http.StatusOK, summary)
}

// labelSuffix renders a metric's labels as {k=v,...}, empty when unlabeled
func labelSuffix(m *io_prometheus_client.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// RiskStatus reports the latest snapshot, halt state, and admission verdict
func (h *Handlers) RiskStatus(w http.ResponseWriter, r *http.Request) {
	canTrade, reason := h.monitor.CanTrade()

	resp := map[string]interface{}{
		"can_trade": canTrade,
	}
	if reason != "" {
		resp["block_reason"] = reason
	}
	if latest := h.monitor.Latest(); latest != nil {
		resp["snapshot"] = latest
	}

	writeJSON(w, http.StatusOK, resp)
}

// QueueStatus reports depth by status plus the current READY head
func (h *Handlers) QueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Depth(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Queue depth query failed")
		writeError(w, http.StatusInternalServerError, "queue store unavailable")
		return
	}

	ready, err := h.queue.ListByStatus(r.Context(), domain.StatusReady, 20)
	if err != nil {
		log.Warn().Err(err).Msg("Ready listing failed")
		writeError(w, http.StatusInternalServerError, "queue store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"depth": counts,
		"ready": ready,
	})
}

// Incidents lists recent incident records, newest first
func (h *Handlers) Incidents(w http.ResponseWriter, r *http.Request) {
	if h.incidents == nil {
		writeJSON(w, http.StatusOK, []persistence.Incident{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	incidents, err := h.incidents.ListRecent(r.Context(), limit)
	if err != nil {
		log.Warn().Err(err).Msg("Incident listing failed")
		writeError(w, http.StatusInternalServerError, "incident store unavailable")
		return
	}
	if incidents == nil {
		incidents = []persistence.Incident{}
	}

	writeJSON(w, http.StatusOK, incidents)
}

// NotFound is the JSON 404 handler
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
