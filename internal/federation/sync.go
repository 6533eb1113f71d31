// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/a2aregistry/registry/internal/card"
	"github.com/a2aregistry/registry/internal/discovery"
	"github.com/a2aregistry/registry/internal/fetch"
	"github.com/a2aregistry/registry/internal/search"
	"github.com/a2aregistry/registry/internal/store"
	"github.com/a2aregistry/registry/types"
)

// localName namespaces a remote agent under its own remote publisher, so
// two different publishers on the same peer that happen to share an
// agent name never collide under the shared peer:<name> local publisher
// (whose (tenant, publisher, name) triple must be unique).
func localName(remotePublisherID, remoteName string) string {
	return remotePublisherID + "/" + remoteName
}

// remoteEntry is one item off a peer's well-known index, keyed by its
// agent_key (§4.10 step 2): (peer_id implicit in the call, remote
// publisher, remote name).
type remoteEntry struct {
	view discovery.AgentView
}

// sync runs one full pull-sync against peerID: fetch the peer's public
// index, diff it against the locally federated set, and apply adds,
// updates, and removals. Once the run has started it records a Sync Run
// row whatever the outcome; a disabled peer is skipped without one.
func (m *Manager) sync(ctx context.Context, peerID string) error {
	peer, err := m.peers.GetPeer(ctx, peerID)
	if err != nil {
		return err
	}
	if peer.Status == store.PeerStatusDisabled {
		return nil
	}

	if err := m.peers.SetPeerStatus(ctx, peerID, store.PeerStatusSyncing); err != nil {
		return err
	}

	run, err := m.peers.StartSyncRun(ctx, peerID)
	if err != nil {
		return err
	}

	remote, fetchErr := m.fetchIndex(ctx, peer)
	if fetchErr != nil {
		errMsg := fetchErr.Error()
		_ = m.peers.FinishSyncRun(ctx, run.ID, store.SyncOutcomeError, 0, 0, 0, &errMsg)
		_ = m.peers.UpdatePeerAfterSync(ctx, peerID, time.Now(), nil, store.PeerStatusError, &errMsg)
		return fetchErr
	}

	publisher, err := m.agents.GetOrCreatePublisher(ctx, SystemTenantID, store.PublisherFederatedNamespace+peer.Name)
	if err != nil {
		errMsg := err.Error()
		_ = m.peers.FinishSyncRun(ctx, run.ID, store.SyncOutcomeError, 0, 0, 0, &errMsg)
		_ = m.peers.UpdatePeerAfterSync(ctx, peerID, time.Now(), nil, store.PeerStatusError, &errMsg)
		return err
	}

	local, err := m.agents.ListFederatedForPeer(ctx, SystemTenantID, publisher.ID)
	if err != nil {
		errMsg := err.Error()
		_ = m.peers.FinishSyncRun(ctx, run.ID, store.SyncOutcomeError, 0, 0, 0, &errMsg)
		_ = m.peers.UpdatePeerAfterSync(ctx, peerID, time.Now(), nil, store.PeerStatusError, &errMsg)
		return err
	}
	localByName := make(map[string]store.AgentRecord, len(local))
	for _, rec := range local {
		localByName[rec.Name] = rec
	}

	added, updated, removed, itemErrs := 0, 0, 0, 0
	cancelled := false

	for key, entry := range remote {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		existing, exists := localByName[key]
		delete(localByName, key) // whatever remains after this loop is L \ R

		changed := true
		if exists {
			if latest, err := m.agents.GetLatest(ctx, existing.ID); err == nil {
				changed = latest.ContentHash != entry.view.ContentHash
			}
		}
		if !changed {
			continue
		}

		if err := m.applyEntry(ctx, peer.BaseURL, publisher.ID, key, entry); err != nil {
			m.logger.Warn("federation item failed", zap.String("peer_id", peerID), zap.String("agent_key", key), zap.Error(err))
			itemErrs++
			continue
		}
		if exists {
			updated++
		} else {
			added++
		}
	}

	if !cancelled {
		for _, rec := range localByName { // L \ R
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			if err := m.agents.Hide(ctx, rec.ID); err != nil {
				itemErrs++
				continue
			}
			if err := m.indexer.EnqueueDelete(ctx, rec.ID); err != nil {
				m.logger.Warn("federation retraction index delete failed", zap.String("agent_id", rec.ID), zap.Error(err))
			}
			removed++
		}
	}

	outcome := store.SyncOutcomeOK
	var errMsg *string
	switch {
	case cancelled:
		outcome = store.SyncOutcomeCancelled
	case itemErrs > 0:
		outcome = store.SyncOutcomePartial
		msg := fmt.Sprintf("%d item(s) failed", itemErrs)
		errMsg = &msg
	}

	if err := m.peers.FinishSyncRun(ctx, run.ID, outcome, added, updated, removed, errMsg); err != nil {
		m.logger.Warn("failed finishing sync run", zap.String("peer_id", peerID), zap.Error(err))
	}

	finalStatus := store.PeerStatusActive
	if outcome == store.SyncOutcomeCancelled {
		finalStatus = store.PeerStatusDisabled
	}
	if err := m.peers.UpdatePeerAfterSync(ctx, peerID, time.Now(), nil, finalStatus, nil); err != nil {
		m.logger.Warn("failed updating peer after sync", zap.String("peer_id", peerID), zap.Error(err))
	}

	if !cancelled && (added > 0 || updated > 0 || removed > 0) && m.disco != nil {
		m.disco.InvalidateTenant(ctx, SystemTenantID)
	}

	return nil
}

// fetchIndex pages through a peer's well-known index (§4.10 step 1),
// returning the remote set R keyed by agent_key.
func (m *Manager) fetchIndex(ctx context.Context, peer *store.PeerRegistry) (map[string]remoteEntry, error) {
	remote := make(map[string]remoteEntry)
	skip := 0
	for page := 0; page < m.cfg.MaxPages; page++ {
		url := fmt.Sprintf("%s/.well-known/agents/index.json?skip=%d&top=%d", peer.BaseURL, skip, m.cfg.PageSize)
		result, err := m.fetcher.Fetch(ctx, url, peer.AuthToken, fetch.SameHostOnly)
		if err != nil {
			return nil, err
		}
		var resp indexResponse
		if err := json.Unmarshal(result.Body, &resp); err != nil {
			return nil, types.NewError(types.ErrUpstream, "peer index response is not valid json").WithCause(err)
		}
		for _, item := range resp.Items {
			key := localName(item.PublisherID, item.Name)
			remote[key] = remoteEntry{view: item}
		}
		skip += len(resp.Items)
		if len(resp.Items) < m.cfg.PageSize || skip >= resp.Total {
			break
		}
	}
	return remote, nil
}

// applyEntry validates and upserts one remote agent under the peer's
// synthetic publisher, then enqueues it for indexing.
func (m *Manager) applyEntry(ctx context.Context, peerBaseURL, publisherID, name string, entry remoteEntry) error {
	if entry.view.Card == nil {
		return types.NewError(types.ErrUpstream, "peer index entry missing card")
	}
	rawCard, err := json.Marshal(entry.view.Card)
	if err != nil {
		return err
	}
	// Recompute validation and content hash locally rather than trusting
	// the peer's claim — entry.view.ContentHash is only used above to
	// short-circuit unchanged entries before this point.
	result := card.Validate(rawCard)
	if !result.OK() {
		return result.AsError()
	}

	sourceURL := fmt.Sprintf("%s/agents/%s/card", peerBaseURL, entry.view.AgentID)
	upsertResult, err := m.agents.UpsertVersion(ctx, SystemTenantID, publisherID, name, result.Card, rawCard, result.ContentHash, result.Card.Version, store.SourceFederated, &sourceURL)
	if err != nil {
		return err
	}
	if !upsertResult.Created {
		return nil
	}
	if err := m.agents.SetVisibility(ctx, upsertResult.AgentID, true); err != nil {
		return err
	}

	record, err := m.agents.GetByID(ctx, upsertResult.AgentID)
	if err != nil {
		return err
	}
	doc := search.DocumentFor(record, result.Card)
	if err := m.indexer.EnqueueIndex(ctx, doc); err != nil {
		return err
	}
	return nil
}
