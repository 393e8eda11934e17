package handler

import (
	"net/http"

	"github.com/ricirt/message-dispatch/internal/worker"
)

// StatsSource exposes the dispatcher's live counters.
type StatsSource interface {
	AggregateLoad() int64
	InFlight() int64
	Stats() []worker.Stats
}

// StatsHandler serves a human-readable JSON dispatch snapshot.
// Raw Prometheus metrics are available at /metrics and are separate from
// this endpoint.
type StatsHandler struct {
	src StatsSource
}

func NewStatsHandler(src StatsSource) *StatsHandler {
	return &StatsHandler{src: src}
}

// GetStats handles GET /api/v1/dispatch/stats
//
// @Summary  Real-time per-worker dispatch snapshot
// @Tags     dispatch
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/dispatch/stats [get]
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := h.src.Stats()
	var depth int
	for _, s := range stats {
		depth += s.Depth
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"aggregate_load": h.src.AggregateLoad(),
		"in_flight":      h.src.InFlight(),
		"queue_depth":    depth,
		"workers":        stats,
	})
}
