// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package store

import (
	"context"

	"github.com/a2aregistry/registry/types"
)

// Stats is the aggregate counts backing GET /stats: safe to expose
// unauthenticated since it carries no per-tenant breakdown that could
// leak a tenant's existence.
type Stats struct {
	Agents        int64 `json:"agents"`
	PublicAgents  int64 `json:"publicAgents"`
	Versions      int64 `json:"versions"`
	Publishers    int64 `json:"publishers"`
	Entitlements  int64 `json:"entitlements"`
	ActivePeers   int64 `json:"activePeers"`
}

// GatherStats runs the small set of COUNT queries GET /stats needs. It is
// intentionally not wired through the Cache Layer: stats are cheap and
// operators expect them fresh.
func GatherStats(ctx context.Context, pool *Pool) (Stats, error) {
	db := pool.DB().WithContext(ctx)
	var s Stats

	queries := []struct {
		model any
		dest  *int64
		where string
		args  []any
	}{
		{&AgentRecord{}, &s.Agents, "hidden_at IS NULL", nil},
		{&AgentRecord{}, &s.PublicAgents, "hidden_at IS NULL AND public = ?", []any{true}},
		{&AgentVersion{}, &s.Versions, "", nil},
		{&Publisher{}, &s.Publishers, "", nil},
		{&Entitlement{}, &s.Entitlements, "revoked_at IS NULL", nil},
		{&PeerRegistry{}, &s.ActivePeers, "status = ?", []any{PeerStatusActive}},
	}

	for _, q := range queries {
		tx := db.Model(q.model)
		if q.where != "" {
			tx = tx.Where(q.where, q.args...)
		}
		if err := tx.Count(q.dest).Error; err != nil {
			return Stats{}, types.NewError(types.ErrInternal, "failed gathering stats").WithCause(err)
		}
	}

	return s, nil
}
