package handlers

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/nerruler/internal/application/annotate"
	"github.com/turtacn/nerruler/internal/intelligence/evaluation"
	"github.com/turtacn/nerruler/pkg/errors"
)

// MaxBatchSize bounds the documents accepted by one batch request.
const MaxBatchSize = 100

// AnnotationHandler exposes the annotation service over HTTP.
type AnnotationHandler struct {
	svc annotate.Service
}

// NewAnnotationHandler creates a new AnnotationHandler.
func NewAnnotationHandler(svc annotate.Service) *AnnotationHandler {
	return &AnnotationHandler{svc: svc}
}

// RegisterRoutes registers the /api/v1 annotation routes.
func (h *AnnotationHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/annotate", h.Annotate)
	r.POST("/annotate/batch", h.AnnotateBatch)
	r.POST("/evaluate", h.Evaluate)
	r.POST("/evaluate/corpus", h.EvaluateCorpus)
	r.GET("/patterns", h.Patterns)
	r.POST("/detect", h.Detect)
	r.GET("/documents/search", h.SearchDocuments)
	r.GET("/documents/labels", h.LabelCounts)
}

// BatchRequest is the body of POST /annotate/batch.
type BatchRequest struct {
	Documents []annotate.AnnotateInput `json:"documents"`
}

// BatchResponse holds one result per request document, in order.
type BatchResponse struct {
	Results []*annotate.AnnotateResult `json:"results"`
}

// CorpusRequest is the body of POST /evaluate/corpus.
type CorpusRequest struct {
	Examples []annotate.Example `json:"examples"`
}

// DetectRequest is the body of POST /detect.
type DetectRequest struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// DetectResponse lists the regex matches for one label.
type DetectResponse struct {
	Label   string   `json:"label"`
	Matches []string `json:"matches"`
}

// Annotate handles POST /api/v1/annotate.
func (h *AnnotationHandler) Annotate(c *gin.Context) {
	var in annotate.AnnotateInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.svc.Annotate(c.Request.Context(), &in)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AnnotateBatch handles POST /api/v1/annotate/batch. The first failing
// document fails the request.
func (h *AnnotationHandler) AnnotateBatch(c *gin.Context) {
	var req BatchRequest
	if !bindJSON(c, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeAppError(c, errors.InvalidParam("documents must not be empty"))
		return
	}
	if len(req.Documents) > MaxBatchSize {
		writeAppError(c, errors.Newf(errors.ErrCodeBadRequest, "batch exceeds %d documents", MaxBatchSize))
		return
	}

	resp := BatchResponse{Results: make([]*annotate.AnnotateResult, 0, len(req.Documents))}
	for i := range req.Documents {
		res, err := h.svc.Annotate(c.Request.Context(), &req.Documents[i])
		if err != nil {
			writeAppError(c, errors.Wrap(err, errors.CodeUnknown, "batch annotate failed").
				WithDetail("document="+strconv.Itoa(i)))
			return
		}
		resp.Results = append(resp.Results, res)
	}
	c.JSON(http.StatusOK, resp)
}

// Evaluate handles POST /api/v1/evaluate. ?format=table returns the
// plain-text classification report.
func (h *AnnotationHandler) Evaluate(c *gin.Context) {
	var in annotate.EvaluateInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.svc.Evaluate(c.Request.Context(), &in)
	if err != nil {
		writeAppError(c, err)
		return
	}
	h.writeResult(c, res)
}

// EvaluateCorpus handles POST /api/v1/evaluate/corpus.
func (h *AnnotationHandler) EvaluateCorpus(c *gin.Context) {
	var req CorpusRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.EvaluateCorpus(c.Request.Context(), req.Examples)
	if err != nil {
		writeAppError(c, err)
		return
	}
	h.writeResult(c, res)
}

func (h *AnnotationHandler) writeResult(c *gin.Context, res *evaluation.Result) {
	if c.Query("format") != "table" {
		c.JSON(http.StatusOK, res)
		return
	}
	var buf bytes.Buffer
	if err := evaluation.FormatTable(&buf, res.Report()); err != nil {
		writeAppError(c, errors.Wrap(err, errors.ErrCodeInternal, "render report"))
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
}

// Patterns handles GET /api/v1/patterns.
func (h *AnnotationHandler) Patterns(c *gin.Context) {
	info, err := h.svc.Patterns(c.Request.Context())
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Detect handles POST /api/v1/detect.
func (h *AnnotationHandler) Detect(c *gin.Context) {
	var req DetectRequest
	if !bindJSON(c, &req) {
		return
	}
	matches, err := h.svc.DetectByType(c.Request.Context(), req.Label, req.Text)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, DetectResponse{Label: req.Label, Matches: matches})
}

// SearchDocuments handles GET /api/v1/documents/search?label=&text=&size=.
func (h *AnnotationHandler) SearchDocuments(c *gin.Context) {
	in := annotate.SearchInput{Label: c.Query("label"), Text: c.Query("text")}
	if raw := c.Query("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 0 {
			writeAppError(c, errors.InvalidParam("size must be a non-negative integer").WithDetail(raw))
			return
		}
		in.Size = size
	}
	res, err := h.svc.SearchDocuments(c.Request.Context(), &in)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// LabelCounts handles GET /api/v1/documents/labels.
func (h *AnnotationHandler) LabelCounts(c *gin.Context) {
	counts, err := h.svc.LabelCounts(c.Request.Context())
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"labels": counts})
}
