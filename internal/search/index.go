package search

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Indexer is the port the worker pool and reconciler write through, and
// the discovery service reads through. BleveIndex satisfies it, either on
// disk or memory-only when opened with an empty path.
type Indexer interface {
	Index(ctx context.Context, doc Document) error
	Delete(ctx context.Context, agentID string) error
	Search(ctx context.Context, q Query) (Result, error)
	Close() error
}

// BleveIndex is the production Indexer, backed by an on-disk or in-memory
// bleve index.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex opens the index at path, creating it with the registry's
// field mapping if it does not exist yet. path == "" builds a
// memory-only index, used for tests and single-node ephemeral setups.
func NewBleveIndex(path string) (*BleveIndex, error) {
	mappingIndex := buildIndexMapping()

	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(mappingIndex)
	} else {
		idx, err = bleve.Open(path)
		if err != nil {
			idx, err = bleve.New(path, mappingIndex)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("search: failed to open index: %w", err)
	}
	return &BleveIndex{index: idx}, nil
}

// buildIndexMapping maps agent documents the way name/description/skill
// text gets analyzed for BM25 search while tenant/publisher/capability
// fields stay exact-match keywords.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	keyword := bleve.NewKeywordFieldMapping()
	boolField := bleve.NewBooleanFieldMapping()
	dateField := bleve.NewDateTimeFieldMapping()

	docMapping.AddFieldMappingsAt("name", text)
	docMapping.AddFieldMappingsAt("description", text)
	docMapping.AddFieldMappingsAt("tenantId", keyword)
	docMapping.AddFieldMappingsAt("publisherId", keyword)
	docMapping.AddFieldMappingsAt("public", boolField)
	docMapping.AddFieldMappingsAt("tags", keyword)
	docMapping.AddFieldMappingsAt("transport", keyword)
	docMapping.AddFieldMappingsAt("securitySchemes", keyword)
	docMapping.AddFieldMappingsAt("federatedFrom", keyword)
	docMapping.AddFieldMappingsAt("createdAt", dateField)
	docMapping.AddFieldMappingsAt("updatedAt", dateField)

	skillMapping := bleve.NewDocumentMapping()
	skillMapping.AddFieldMappingsAt("name", text)
	skillMapping.AddFieldMappingsAt("description", text)
	docMapping.AddSubDocumentMapping("skills", skillMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

func (b *BleveIndex) Index(_ context.Context, doc Document) error {
	return b.index.Index(doc.AgentID, doc)
}

func (b *BleveIndex) Delete(_ context.Context, agentID string) error {
	return b.index.Delete(agentID)
}

func (b *BleveIndex) Search(_ context.Context, q Query) (Result, error) {
	contentQuery := buildContentQuery(q.Text)
	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(contentQuery)
	boolQuery.AddMust(tenantQuery(q.Filter.TenantID))

	if q.Filter.PublisherID != "" {
		pq := bleve.NewTermQuery(q.Filter.PublisherID)
		pq.SetField("publisherId")
		boolQuery.AddMust(pq)
	}
	for _, cap := range q.Filter.Capabilities {
		cq := bleve.NewBoolFieldQuery(true)
		cq.SetField("capabilities." + cap)
		boolQuery.AddMust(cq)
	}
	for _, tag := range q.Filter.Tags {
		tq := bleve.NewTermQuery(tag)
		tq.SetField("tags")
		boolQuery.AddMust(tq)
	}
	if q.Filter.Transport != "" {
		tq := bleve.NewTermQuery(q.Filter.Transport)
		tq.SetField("transport")
		boolQuery.AddMust(tq)
	}
	if len(q.Filter.Security) > 0 {
		schemeQueries := make([]query.Query, 0, len(q.Filter.Security))
		for _, scheme := range q.Filter.Security {
			sq := bleve.NewTermQuery(scheme)
			sq.SetField("securitySchemes")
			schemeQueries = append(schemeQueries, sq)
		}
		boolQuery.AddMust(bleve.NewDisjunctionQuery(schemeQueries...))
	}
	if q.Filter.PublicOnly {
		pq := bleve.NewBoolFieldQuery(true)
		pq.SetField("public")
		boolQuery.AddMust(pq)
	} else if q.Filter.VisibleAgentIDs != nil {
		if len(q.Filter.VisibleAgentIDs) == 0 {
			return Result{}, nil
		}
		visible := bleve.NewDocIDQuery(q.Filter.VisibleAgentIDs)
		publicAlso := bleve.NewBoolFieldQuery(true)
		publicAlso.SetField("public")
		either := bleve.NewDisjunctionQuery(visible, publicAlso)
		boolQuery.AddMust(either)
	}

	req := bleve.NewSearchRequestOptions(boolQuery, q.Size, q.Offset, false)
	req.Fields = []string{"*"}

	res, err := b.index.Search(req)
	if err != nil {
		return Result{}, fmt.Errorf("search: query failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{AgentID: h.ID, Score: h.Score})
	}
	return Result{Hits: hits, Total: int(res.Total)}, nil
}

func (b *BleveIndex) Close() error {
	return b.index.Close()
}

func buildContentQuery(text string) query.Query {
	if text == "" {
		return bleve.NewMatchAllQuery()
	}
	nameQuery := bleve.NewMatchQuery(text)
	nameQuery.SetField("name")
	nameQuery.SetBoost(3)

	descQuery := bleve.NewMatchQuery(text)
	descQuery.SetField("description")
	descQuery.SetBoost(2)

	skillQuery := bleve.NewMatchQuery(text)
	skillQuery.SetField("skills.name")

	return bleve.NewDisjunctionQuery(nameQuery, descQuery, skillQuery)
}

func tenantQuery(tenantID string) query.Query {
	tq := bleve.NewTermQuery(tenantID)
	tq.SetField("tenantId")
	return tq
}
