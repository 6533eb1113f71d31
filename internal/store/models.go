// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package store persists Agent Records, Agent Versions, Publishers,
// Entitlements, Peer Registries, and Sync Runs via GORM, and enforces the
// record-level invariants (unique keys, latest-version consistency,
// federated-entry immutability) inside SERIALIZABLE transactions with
// retry on contention.
package store

import (
	"time"

	"gorm.io/gorm"
)

// SourceKind distinguishes how an Agent Version entered the registry.
type SourceKind string

const (
	SourceByValue   SourceKind = "by_value"
	SourceByURL     SourceKind = "by_url"
	SourceFederated SourceKind = "federated"
)

// PeerStatus is the operational state of a Peer Registry.
type PeerStatus string

const (
	PeerStatusActive   PeerStatus = "active"
	PeerStatusSyncing  PeerStatus = "syncing"
	PeerStatusDisabled PeerStatus = "disabled"
	PeerStatusError    PeerStatus = "error"
)

// SyncOutcome summarizes how a federation Sync Run ended.
type SyncOutcome string

const (
	SyncOutcomeOK        SyncOutcome = "ok"
	SyncOutcomePartial   SyncOutcome = "partial"
	SyncOutcomeError     SyncOutcome = "error"
	SyncOutcomeCancelled SyncOutcome = "cancelled" // peer disabled mid-run
)

// Publisher is the logical producer identity an agent is filed under,
// derived from the authenticated principal or named by an Administrator.
// Federated entries are filed under a synthetic "peer:<peer name>" publisher.
type Publisher struct {
	ID          string `gorm:"primaryKey;size:36"`
	TenantID    string `gorm:"size:64;not null;index:idx_publisher_tenant"`
	DisplayName string `gorm:"size:200;not null"`
	CreatedAt   time.Time
}

// AgentRecord is the mutable head pointer for an agent within a tenant:
// which publisher owns it, which version is current, and whether it is
// publicly visible.
type AgentRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	TenantID        string `gorm:"size:64;not null;uniqueIndex:idx_agent_identity"`
	PublisherID     string `gorm:"size:36;not null;uniqueIndex:idx_agent_identity"`
	Name            string `gorm:"size:200;not null;uniqueIndex:idx_agent_identity"`
	LatestVersionID string `gorm:"size:36"`
	Public          bool   `gorm:"not null;default:false"`
	FederatedFrom   *string `gorm:"size:36"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	HiddenAt        *time.Time // soft-delete marker; set on explicit delete or federation retraction
}

// AgentVersion is one immutable, content-addressed publication of a card.
type AgentVersion struct {
	ID          string `gorm:"primaryKey;size:36"`
	AgentID     string `gorm:"size:36;not null;uniqueIndex:idx_version_number;uniqueIndex:idx_version_hash"`
	Version     string `gorm:"size:64;not null;uniqueIndex:idx_version_number"`
	ContentHash string `gorm:"size:64;not null;uniqueIndex:idx_version_hash"`
	CardJSON    []byte `gorm:"type:blob;not null"`
	Source      SourceKind `gorm:"size:16;not null"`
	SourceURL   *string    `gorm:"size:2048"`
	Signature   *string    `gorm:"type:text"`
	CreatedAt   time.Time
}

// Entitlement is a positive grant making an otherwise non-public agent
// visible to a subject (a consumer, a principal, or a role) within a
// tenant. Grants are additive and resolved by union at query time;
// revocation sets RevokedAt rather than deleting the row, preserving an
// audit trail.
type Entitlement struct {
	ID         string `gorm:"primaryKey;size:36"`
	TenantID   string `gorm:"size:64;not null;index:idx_entitlement_lookup"`
	Subject    string `gorm:"size:200;not null;index:idx_entitlement_lookup"` // "consumer:<id>" | "principal:<id>" | "role:<name>"
	AgentID    string `gorm:"size:36;not null;index:idx_entitlement_lookup"`
	GrantedAt  time.Time
	RevokedAt  *time.Time
}

// PeerRegistry is a remote registry this instance federates with.
type PeerRegistry struct {
	ID           string `gorm:"primaryKey;size:36"`
	Name         string `gorm:"size:200;not null"`
	BaseURL      string `gorm:"size:2048;not null"`
	AuthToken    string `gorm:"size:500"` // opaque; never logged
	SyncInterval time.Duration
	LastSyncAt   *time.Time
	LastCursor   *string `gorm:"size:500"`
	Status       PeerStatus `gorm:"size:16;not null;default:'active'"`
	LastError    *string    `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SyncRun is an append-only record of one federation pull against a peer.
type SyncRun struct {
	ID         string `gorm:"primaryKey;size:36"`
	PeerID     string `gorm:"size:36;not null;index:idx_syncrun_peer"`
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    SyncOutcome `gorm:"size:16;not null"`
	Added      int
	Updated    int
	Removed    int
	Error      *string `gorm:"type:text"`
}

// RepairLogEntry records a search-index write that failed after its
// database transaction committed, so the indexer's reconciler can retry
// it durably instead of relying on in-memory queue state alone.
type RepairLogEntry struct {
	ID        string `gorm:"primaryKey;size:36"`
	AgentID   string `gorm:"size:36;not null;index:idx_repair_agent"`
	Operation string `gorm:"size:16;not null"` // "index" | "delete"
	CreatedAt time.Time
	Attempts  int
	LastError *string `gorm:"type:text"`
}

// AutoMigrate creates or updates every table this package owns. Schema
// evolution in production goes through internal/migration instead; this
// exists for tests and for the sqlite quick-start path.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Publisher{},
		&AgentRecord{},
		&AgentVersion{},
		&Entitlement{},
		&PeerRegistry{},
		&SyncRun{},
		&RepairLogEntry{},
	)
}
