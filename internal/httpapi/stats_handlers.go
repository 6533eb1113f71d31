// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/a2aregistry/registry/internal/store"
)

// StatsHandlers serves GET /stats (supplemented, §8 of SPEC_FULL.md).
type StatsHandlers struct {
	pool   *store.Pool
	logger *zap.Logger
}

// NewStatsHandlers builds the stats handler.
func NewStatsHandlers(pool *store.Pool, logger *zap.Logger) *StatsHandlers {
	return &StatsHandlers{pool: pool, logger: logger}
}

// HandleStats serves GET /stats: aggregate counts only, safe to expose
// unauthenticated since no per-tenant breakdown is included.
func (h *StatsHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := store.GatherStats(r.Context(), h.pool)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
