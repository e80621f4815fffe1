package handlers

import (
	"net/http"
)

// StatsHandler exposes the aggregator's derived per-category counts.
type StatsHandler struct {
	aggregator contextBuilder
}

func NewStatsHandler(aggregator contextBuilder) *StatsHandler {
	return &StatsHandler{aggregator: aggregator}
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	siteCtx, err := h.aggregator.BuildContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("CONTEXT_UNAVAILABLE", "Failed to assemble site context", r))
		return
	}

	writeJSON(w, http.StatusOK, siteCtx.Stats)
}
