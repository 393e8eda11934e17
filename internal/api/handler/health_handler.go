package handler

import "net/http"

// HealthHandler serves the liveness probe endpoint.
type HealthHandler struct {
	src StatsSource
}

func NewHealthHandler(src StatsSource) *HealthHandler { return &HealthHandler{src: src} }

// Health handles GET /health
//
// @Summary  Liveness probe with the current dispatch load
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"aggregate_load": h.src.AggregateLoad(),
		"in_flight":      h.src.InFlight(),
	})
}
