package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/pkg/errors"
	"github.com/turtacn/nerruler/pkg/types/annotation"
)

var (
	ErrIndexCreationFailed = errors.New(errors.ErrCodeExternalService, "index creation failed")
	ErrDocumentIndexFailed = errors.New(errors.ErrCodeExternalService, "document index failed")
)

// AnnotatedDocument is the indexed form of one annotation.
type AnnotatedDocument struct {
	ID               string              `json:"id"`
	Text             string              `json:"text"`
	Entities         []annotation.Entity `json:"entities"`
	Labels           []string            `json:"labels"`
	StoreFingerprint string              `json:"store_fingerprint"`
	AnnotatedAt      time.Time           `json:"annotated_at"`
}

// BulkItemError describes one rejected document.
type BulkItemError struct {
	DocID     string
	ErrorType string
	Reason    string
}

// BulkResult summarizes a bulk call.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// Indexer writes AnnotatedDocuments into one index.
type Indexer struct {
	client    *Client
	index     string
	refresh   string
	batchSize int
	logger    logging.Logger
}

type IndexerOption func(*Indexer)

// WithRefresh sets the refresh policy: "true", "false" or "wait_for".
func WithRefresh(policy string) IndexerOption {
	return func(i *Indexer) { i.refresh = policy }
}

func WithBatchSize(n int) IndexerOption {
	return func(i *Indexer) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

func NewIndexer(client *Client, index string, log logging.Logger, opts ...IndexerOption) *Indexer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	i := &Indexer{client: client, index: index, refresh: "false", batchSize: 500, logger: log}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Indexer) Index() string { return i.index }

// EnsureIndex creates the index with AnnotationIndexMapping unless it exists.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := i.IndexExists(ctx)
	if err != nil || exists {
		return err
	}
	body, err := json.Marshal(AnnotationIndexMapping())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}
	resp, err := opensearchapi.IndicesCreateRequest{Index: i.index, Body: bytes.NewReader(body)}.Do(ctx, i.client.SDK())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "create index request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return handleErrorResponse(resp, ErrIndexCreationFailed)
	}
	i.logger.Info("index created", logging.String("index", i.index))
	return nil
}

func (i *Indexer) IndexExists(ctx context.Context) (bool, error) {
	resp, err := opensearchapi.IndicesExistsRequest{Index: []string{i.index}}.Do(ctx, i.client.SDK())
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeExternalService, "index exists request failed")
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, handleErrorResponse(resp, errors.New(errors.ErrCodeExternalService, "index exists check failed"))
	}
}

// IndexDocument writes one document under doc.ID.
func (i *Indexer) IndexDocument(ctx context.Context, doc AnnotatedDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal document")
	}
	resp, err := opensearchapi.IndexRequest{
		Index:      i.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
		Refresh:    i.refresh,
	}.Do(ctx, i.client.SDK())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "index request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return handleErrorResponse(resp, ErrDocumentIndexFailed)
	}
	return nil
}

// BulkIndex writes docs in batches. Per-document rejections are reported in
// the result; a transport failure aborts.
func (i *Indexer) BulkIndex(ctx context.Context, docs []AnnotatedDocument) (*BulkResult, error) {
	result := &BulkResult{}
	for start := 0; start < len(docs); start += i.batchSize {
		end := start + i.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := i.bulkBatch(ctx, docs[start:end], result); err != nil {
			return result, err
		}
	}
	i.logger.Info("bulk index completed",
		logging.String("index", i.index),
		logging.Int("total", len(docs)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

func (i *Indexer) bulkBatch(ctx context.Context, batch []AnnotatedDocument, result *BulkResult) error {
	var buf bytes.Buffer
	for _, doc := range batch {
		data, err := json.Marshal(doc)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{DocID: doc.ID, ErrorType: "serialization_error", Reason: err.Error()})
			continue
		}
		fmt.Fprintf(&buf, `{"index":{"_index":%q,"_id":%q}}`+"\n", i.index, doc.ID)
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if buf.Len() == 0 {
		return nil
	}

	resp, err := opensearchapi.BulkRequest{Body: &buf, Refresh: i.refresh}.Do(ctx, i.client.SDK())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "bulk request failed")
	}
	defer resp.Body.Close()
	if resp.IsError() {
		err := handleErrorResponse(resp, errors.New(errors.ErrCodeExternalService, "bulk batch failed"))
		result.Failed += len(batch)
		result.Errors = append(result.Errors, BulkItemError{DocID: "batch", ErrorType: "http_error", Reason: err.Error()})
		return nil
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode bulk response")
	}
	for _, item := range bulkResp.Items {
		for _, v := range item {
			if v.Status >= 200 && v.Status < 300 {
				result.Succeeded++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{DocID: v.ID, ErrorType: v.Error.Type, Reason: v.Error.Reason})
			}
		}
	}
	return nil
}

// handleErrorResponse folds the OpenSearch error body into base.
func handleErrorResponse(resp *opensearchapi.Response, base *errors.AppError) error {
	var errResp struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Reason != "" {
		return base.WithDetail(fmt.Sprintf("status=%d type=%s reason=%s", resp.StatusCode, errResp.Error.Type, errResp.Error.Reason))
	}
	return base.WithDetail(fmt.Sprintf("status=%d", resp.StatusCode))
}

// AnnotationIndexMapping stores entities as nested objects so a label and a
// text match on the same entity.
func AnnotationIndexMapping() map[string]interface{} {
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 1,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id":                map[string]interface{}{"type": "keyword"},
				"text":              map[string]interface{}{"type": "text"},
				"labels":            map[string]interface{}{"type": "keyword"},
				"store_fingerprint": map[string]interface{}{"type": "keyword"},
				"annotated_at":      map[string]interface{}{"type": "date"},
				"entities": map[string]interface{}{
					"type": "nested",
					"properties": map[string]interface{}{
						"text":       map[string]interface{}{"type": "keyword"},
						"label":      map[string]interface{}{"type": "keyword"},
						"source":     map[string]interface{}{"type": "keyword"},
						"start":      map[string]interface{}{"type": "integer"},
						"end":        map[string]interface{}{"type": "integer"},
						"start_char": map[string]interface{}{"type": "integer"},
						"end_char":   map[string]interface{}{"type": "integer"},
					},
				},
			},
		},
	}
}
