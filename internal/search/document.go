// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package search projects Agent Records into a queryable full-text and
// filtered index, kept eventually consistent with the store through a
// bounded worker queue with per-agent ordering and a durable repair log
// for writes that fail after their transaction already committed.
package search

import (
	"time"

	"github.com/a2aregistry/registry/internal/store"
	"github.com/a2aregistry/registry/pkg/a2acard"
)

// SkillDoc is the indexed subset of a card skill.
type SkillDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Document is what gets indexed for one agent's current version. It is a
// deliberately narrow projection of the card plus the record-level
// fields discovery filters on (tenant, publisher, visibility).
type Document struct {
	AgentID         string          `json:"agentId"`
	TenantID        string          `json:"tenantId"`
	PublisherID     string          `json:"publisherId"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Version         string          `json:"version"`
	Public          bool            `json:"public"`
	Skills          []SkillDoc      `json:"skills"`
	Tags            []string        `json:"tags"`
	Extensions      map[string]bool `json:"capabilities"`
	Transport       string          `json:"transport"`
	SecuritySchemes []string        `json:"securitySchemes"`
	FederatedFrom   string          `json:"federatedFrom"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Filter narrows a search to a slice of the index. The indexer does not
// consult the entitlement store; it takes an already-resolved set of
// visible agent ids as VisibleAgentIDs when it is not nil,
// distinguishing "unrestricted" (nil) from "restricted to nothing" (empty
// non-nil slice).
type Filter struct {
	TenantID        string
	PublisherID     string
	Capabilities    []string
	Tags            []string
	Transport       string
	Security        []string
	PublicOnly      bool
	VisibleAgentIDs []string
}

// Query is one search request.
type Query struct {
	Text   string
	Filter Filter
	Offset int
	Size   int
}

// Hit is one scored search result.
type Hit struct {
	AgentID string
	Score   float64
}

// Result is a page of search hits plus the total match count.
type Result struct {
	Hits  []Hit
	Total int
}

// DocumentFor projects an Agent Record and its current card into the
// Document the indexer stores — the single place that decides which
// card fields are searchable, shared by the Publish Service (C7) after
// every write and by the reconciler's DocumentLoader when replaying a
// failed write from the repair log.
func DocumentFor(record *store.AgentRecord, c *a2acard.Card) Document {
	skills := make([]SkillDoc, 0, len(c.Skills))
	tagSet := make(map[string]bool)
	for _, sk := range c.Skills {
		skills = append(skills, SkillDoc{Name: sk.Name, Description: sk.Description})
		for _, t := range sk.Tags {
			tagSet[t] = true
		}
	}
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}

	extensions := map[string]bool{
		"streaming":              c.Capabilities.Streaming,
		"pushNotifications":      c.Capabilities.PushNotifications,
		"stateTransitionHistory": c.Capabilities.StateTransitionHistory,
	}
	for name, v := range c.Capabilities.Extra {
		extensions[name] = v
	}

	schemes := make([]string, 0, len(c.SecuritySchemes))
	for _, sec := range c.SecuritySchemes {
		schemes = append(schemes, string(sec.Type))
	}

	var federatedFrom string
	if record.FederatedFrom != nil {
		federatedFrom = *record.FederatedFrom
	}

	return Document{
		AgentID:         record.ID,
		TenantID:        record.TenantID,
		PublisherID:     record.PublisherID,
		Name:            c.Name,
		Description:     c.Description,
		Version:         c.Version,
		Public:          record.Public,
		Skills:          skills,
		Tags:            tags,
		Extensions:      extensions,
		Transport:       string(c.Interface.PreferredTransport),
		SecuritySchemes: schemes,
		FederatedFrom:   federatedFrom,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}
