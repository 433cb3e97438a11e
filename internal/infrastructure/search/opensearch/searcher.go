package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/pkg/errors"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// EntityQuery selects documents containing an entity. Label and Text are
// both optional; when both are set they must hold on the same entity.
type EntityQuery struct {
	Label string
	Text  string
	Size  int
}

// SearchResult is one page of matching documents.
type SearchResult struct {
	Total     int64               `json:"total"`
	TookMs    int64               `json:"took_ms"`
	Documents []AnnotatedDocument `json:"documents"`
}

// Searcher queries the annotated-document index.
type Searcher struct {
	client *Client
	index  string
	logger logging.Logger
}

func NewSearcher(client *Client, index string, log logging.Logger) *Searcher {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Searcher{client: client, index: index, logger: log}
}

// SearchEntities returns documents with an entity matching q.
func (s *Searcher) SearchEntities(ctx context.Context, q EntityQuery) (*SearchResult, error) {
	size := q.Size
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	resp, err := s.do(ctx, map[string]interface{}{
		"size":  size,
		"query": buildEntityQuery(q),
		"sort":  []interface{}{map[string]interface{}{"annotated_at": map[string]interface{}{"order": "desc"}}},
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source AnnotatedDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode search response")
	}
	result := &SearchResult{Total: raw.Hits.Total.Value, TookMs: raw.Took, Documents: make([]AnnotatedDocument, 0, len(raw.Hits.Hits))}
	for _, h := range raw.Hits.Hits {
		result.Documents = append(result.Documents, h.Source)
	}
	return result, nil
}

// LabelCounts returns how many entities of each label are indexed.
func (s *Searcher) LabelCounts(ctx context.Context) (map[string]int64, error) {
	resp, err := s.do(ctx, map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"entities": map[string]interface{}{
				"nested": map[string]interface{}{"path": "entities"},
				"aggs": map[string]interface{}{
					"labels": map[string]interface{}{
						"terms": map[string]interface{}{"field": "entities.label", "size": 100},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		Aggregations struct {
			Entities struct {
				Labels struct {
					Buckets []struct {
						Key      string `json:"key"`
						DocCount int64  `json:"doc_count"`
					} `json:"buckets"`
				} `json:"labels"`
			} `json:"entities"`
		} `json:"aggregations"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode aggregation response")
	}
	counts := make(map[string]int64, len(raw.Aggregations.Entities.Labels.Buckets))
	for _, b := range raw.Aggregations.Entities.Labels.Buckets {
		counts[b.Key] = b.DocCount
	}
	return counts, nil
}

func (s *Searcher) do(ctx context.Context, dsl map[string]interface{}) ([]byte, error) {
	body, err := json.Marshal(dsl)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal query")
	}
	start := time.Now()
	resp, err := opensearchapi.SearchRequest{Index: []string{s.index}, Body: bytes.NewReader(body)}.Do(ctx, s.client.SDK())
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "search request cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "search request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return nil, handleErrorResponse(resp, errors.New(errors.ErrCodeExternalService, "search failed"))
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "failed to read search response")
	}
	s.logger.Debug("search executed", logging.String("index", s.index), logging.Duration("elapsed", time.Since(start)))
	return buf.Bytes(), nil
}

func buildEntityQuery(q EntityQuery) map[string]interface{} {
	var must []interface{}
	if q.Label != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"entities.label": q.Label}})
	}
	if q.Text != "" {
		must = append(must, map[string]interface{}{"term": map[string]interface{}{"entities.text": q.Text}})
	}
	if len(must) == 0 {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	return map[string]interface{}{
		"nested": map[string]interface{}{
			"path":  "entities",
			"query": map[string]interface{}{"bool": map[string]interface{}{"must": must}},
		},
	}
}
