package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/turtacn/nerruler/pkg/errors"
	"github.com/turtacn/nerruler/pkg/types/annotation"
)

// AnnotateRequest is one document to annotate. Tokens are optional; the
// server tokenizes Text when they are absent.
type AnnotateRequest struct {
	ID     string             `json:"id,omitempty"`
	Text   string             `json:"text"`
	Tokens []annotation.Token `json:"tokens,omitempty"`
	Index  bool               `json:"index,omitempty"`
}

// AlignmentWarning reports a regex match that no token boundary could hold.
type AlignmentWarning struct {
	Label     string `json:"label"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Text      string `json:"text"`
}

// Annotation is the server's answer for one document.
type Annotation struct {
	ID               string              `json:"id"`
	Spans            []annotation.Span   `json:"spans"`
	Entities         []annotation.Entity `json:"entities"`
	PhraseCandidates int                 `json:"phrase_candidates"`
	RegexCandidates  int                 `json:"regex_candidates"`
	Warnings         []AlignmentWarning  `json:"alignment_warnings,omitempty"`
	StoreFingerprint string              `json:"store_fingerprint"`
	Tokens           []annotation.Token  `json:"tokens,omitempty"`
	Cached           bool                `json:"cached"`
	Indexed          bool                `json:"indexed"`
}

// EvaluateRequest scores Predicted against Gold. Leave Predicted nil to
// have the server annotate Text and score its own prediction; a non-nil
// empty slice scores an empty prediction.
type EvaluateRequest struct {
	Text      string             `json:"text,omitempty"`
	Tokens    []annotation.Token `json:"tokens,omitempty"`
	Predicted []annotation.Span  `json:"predicted"`
	Gold      []annotation.Span  `json:"gold"`
	NTokens   int                `json:"n_tokens,omitempty"`
}

// Example is one gold-annotated document of a corpus.
type Example struct {
	Text   string             `json:"text"`
	Tokens []annotation.Token `json:"tokens,omitempty"`
	Gold   []annotation.Span  `json:"gold"`
}

type Counts struct {
	TruePositives  int `json:"tp"`
	FalsePositives int `json:"fp"`
	FalseNegatives int `json:"fn"`
}

type LabelScore struct {
	Label     string  `json:"label"`
	Counts    Counts  `json:"counts"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

type Average struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation holds per-label and aggregate scores.
type Evaluation struct {
	Labels []LabelScore `json:"labels"`
	Counts Counts       `json:"counts"`
	Micro  Average      `json:"micro_avg"`
	Macro  Average      `json:"macro_avg"`
}

// Label returns the score row of one label.
func (e *Evaluation) Label(name string) (LabelScore, bool) {
	for _, s := range e.Labels {
		if s.Label == name {
			return s, true
		}
	}
	return LabelScore{}, false
}

type PhraseInfo struct {
	Label   string   `json:"label"`
	Surface []string `json:"surface"`
}

type RegexInfo struct {
	Label      string `json:"label"`
	Expression string `json:"expression"`
}

// Patterns describes the pattern store the server is annotating with.
type Patterns struct {
	Fingerprint     string       `json:"fingerprint"`
	CaseInsensitive bool         `json:"case_insensitive"`
	Labels          []string     `json:"labels"`
	Phrases         []PhraseInfo `json:"phrases"`
	Regexes         []RegexInfo  `json:"regexes"`
}

// Document is an indexed annotation.
type Document struct {
	ID               string              `json:"id"`
	Text             string              `json:"text"`
	Entities         []annotation.Entity `json:"entities"`
	Labels           []string            `json:"labels"`
	StoreFingerprint string              `json:"store_fingerprint"`
	AnnotatedAt      time.Time           `json:"annotated_at"`
}

// SearchQuery filters indexed documents. Empty fields are not sent.
type SearchQuery struct {
	Label string
	Text  string
	Size  int
}

type SearchResult struct {
	Total     int64      `json:"total"`
	TookMs    int64      `json:"took_ms"`
	Documents []Document `json:"documents"`
}

// Annotate annotates one document.
func (c *Client) Annotate(ctx context.Context, req *AnnotateRequest) (*Annotation, error) {
	if req == nil || req.Text == "" && len(req.Tokens) == 0 {
		return nil, errors.InvalidParam("text or tokens are required")
	}
	var out Annotation
	if err := c.post(ctx, apiPrefix+"/annotate", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnnotateBatch annotates documents in order. The server rejects the whole
// batch when one document fails.
func (c *Client) AnnotateBatch(ctx context.Context, docs []AnnotateRequest) ([]*Annotation, error) {
	if len(docs) == 0 {
		return nil, errors.InvalidParam("documents must not be empty")
	}
	var out struct {
		Results []*Annotation `json:"results"`
	}
	body := struct {
		Documents []AnnotateRequest `json:"documents"`
	}{Documents: docs}
	if err := c.post(ctx, apiPrefix+"/annotate/batch", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Evaluate scores one document.
func (c *Client) Evaluate(ctx context.Context, req *EvaluateRequest) (*Evaluation, error) {
	if req == nil {
		return nil, errors.InvalidParam("evaluate request is required")
	}
	var out Evaluation
	if err := c.post(ctx, apiPrefix+"/evaluate", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EvaluateReport is Evaluate rendered as the server's plain-text
// classification report.
func (c *Client) EvaluateReport(ctx context.Context, req *EvaluateRequest) (string, error) {
	if req == nil {
		return "", errors.InvalidParam("evaluate request is required")
	}
	var report string
	err := c.post(ctx, apiPrefix+"/evaluate", url.Values{"format": {"table"}}, req, &report)
	return report, err
}

// EvaluateCorpus scores a corpus with counts pooled across documents.
func (c *Client) EvaluateCorpus(ctx context.Context, examples []Example) (*Evaluation, error) {
	var out Evaluation
	body := struct {
		Examples []Example `json:"examples"`
	}{Examples: examples}
	if err := c.post(ctx, apiPrefix+"/evaluate/corpus", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Patterns returns the active pattern store.
func (c *Client) Patterns(ctx context.Context) (*Patterns, error) {
	var out Patterns
	if err := c.get(ctx, apiPrefix+"/patterns", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Detect returns every substring of text matched by the regex of label.
func (c *Client) Detect(ctx context.Context, label, text string) ([]string, error) {
	if label == "" {
		return nil, errors.InvalidParam("label is required")
	}
	var out struct {
		Matches []string `json:"matches"`
	}
	body := map[string]string{"label": label, "text": text}
	if err := c.post(ctx, apiPrefix+"/detect", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// SearchDocuments queries the document index.
func (c *Client) SearchDocuments(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	query := url.Values{}
	if q.Label != "" {
		query.Set("label", q.Label)
	}
	if q.Text != "" {
		query.Set("text", q.Text)
	}
	if q.Size > 0 {
		query.Set("size", strconv.Itoa(q.Size))
	}
	var out SearchResult
	if err := c.get(ctx, apiPrefix+"/documents/search", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LabelCounts returns the number of indexed documents per label.
func (c *Client) LabelCounts(ctx context.Context) (map[string]int64, error) {
	var out struct {
		Labels map[string]int64 `json:"labels"`
	}
	if err := c.get(ctx, apiPrefix+"/documents/labels", nil, &out); err != nil {
		return nil, err
	}
	return out.Labels, nil
}

// Liveness is the /healthz body.
type Liveness struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Readiness is the /readyz body.
type Readiness struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

// Health calls the liveness probe.
func (c *Client) Health(ctx context.Context) (*Liveness, error) {
	var out Liveness
	if err := c.get(ctx, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready calls the readiness probe. A not-ready server yields both the
// decoded component report and an *APIError.
func (c *Client) Ready(ctx context.Context) (*Readiness, error) {
	var out Readiness
	err := c.get(ctx, "/readyz", nil, &out)
	if err == nil {
		return &out, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		if jerr := json.Unmarshal(apiErr.body, &out); jerr == nil && out.Status != "" {
			apiErr.Message = "server not ready"
			return &out, apiErr
		}
	}
	return nil, err
}
