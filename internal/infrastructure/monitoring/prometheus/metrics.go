package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every metric nerruler records.
type AppMetrics struct {
	// Engine
	AnnotateDuration  HistogramVec // transport
	AnnotateTotal     CounterVec   // transport, status
	CandidatesTotal   CounterVec   // source
	SpansTotal        CounterVec   // label, source
	AlignmentWarnings CounterVec
	PatternStoreSize  GaugeVec // kind
	PatternReloads    CounterVec

	// Evaluation
	EvaluationsTotal CounterVec
	EvaluationF1     GaugeVec // label

	// Infrastructure
	HTTPRequestsTotal   CounterVec   // method, path, status
	HTTPRequestDuration HistogramVec // method, path
	GRPCRequestsTotal   CounterVec   // service, method, code
	GRPCRequestDuration HistogramVec // service, method
	CacheRequestsTotal  CounterVec   // result
	JobsTotal           CounterVec   // status
}

// Default buckets.
var (
	DefaultAnnotateBuckets     = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}
	DefaultHTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
)

// NewAppMetrics registers all metrics on collector.
func NewAppMetrics(c MetricsCollector) *AppMetrics {
	return &AppMetrics{
		AnnotateDuration:  c.RegisterHistogram("annotate_duration_seconds", "Time spent annotating one document.", DefaultAnnotateBuckets, "transport"),
		AnnotateTotal:     c.RegisterCounter("annotate_total", "Annotate calls by transport and outcome.", "transport", "status"),
		CandidatesTotal:   c.RegisterCounter("candidate_spans_total", "Candidate spans produced before resolution.", "source"),
		SpansTotal:        c.RegisterCounter("resolved_spans_total", "Resolved spans emitted.", "label", "source"),
		AlignmentWarnings: c.RegisterCounter("alignment_warnings_total", "Regex matches dropped because they did not align to tokens."),
		PatternStoreSize:  c.RegisterGauge("pattern_store_patterns", "Patterns held by the active store.", "kind"),
		PatternReloads:    c.RegisterCounter("pattern_reloads_total", "Pattern store reload attempts.", "status"),

		EvaluationsTotal: c.RegisterCounter("evaluations_total", "Evaluation calls by outcome.", "status"),
		EvaluationF1:     c.RegisterGauge("evaluation_f1", "F1 of the most recent evaluation.", "label"),

		HTTPRequestsTotal:   c.RegisterCounter("http_requests_total", "HTTP requests.", "method", "path", "status"),
		HTTPRequestDuration: c.RegisterHistogram("http_request_duration_seconds", "HTTP request latency.", DefaultHTTPDurationBuckets, "method", "path"),
		GRPCRequestsTotal:   c.RegisterCounter("grpc_requests_total", "gRPC requests.", "service", "method", "code"),
		GRPCRequestDuration: c.RegisterHistogram("grpc_request_duration_seconds", "gRPC request latency.", DefaultHTTPDurationBuckets, "service", "method"),
		CacheRequestsTotal:  c.RegisterCounter("cache_requests_total", "Annotation cache lookups.", "result"),
		JobsTotal:           c.RegisterCounter("jobs_total", "Queued annotation jobs processed.", "status"),
	}
}

// NewNoopAppMetrics returns metrics that record nothing.
func NewNoopAppMetrics() *AppMetrics {
	return &AppMetrics{
		AnnotateDuration:    noopHistogramVec{},
		AnnotateTotal:       noopCounterVec{},
		CandidatesTotal:     noopCounterVec{},
		SpansTotal:          noopCounterVec{},
		AlignmentWarnings:   noopCounterVec{},
		PatternStoreSize:    noopGaugeVec{},
		PatternReloads:      noopCounterVec{},
		EvaluationsTotal:    noopCounterVec{},
		EvaluationF1:        noopGaugeVec{},
		HTTPRequestsTotal:   noopCounterVec{},
		HTTPRequestDuration: noopHistogramVec{},
		GRPCRequestsTotal:   noopCounterVec{},
		GRPCRequestDuration: noopHistogramVec{},
		CacheRequestsTotal:  noopCounterVec{},
		JobsTotal:           noopCounterVec{},
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordAnnotate records one annotate call.
func (m *AppMetrics) RecordAnnotate(transport string, d time.Duration, err error) {
	m.AnnotateDuration.WithLabelValues(transport).Observe(d.Seconds())
	m.AnnotateTotal.WithLabelValues(transport, statusLabel(err)).Inc()
}

// RecordCandidates records pre-resolution candidate counts.
func (m *AppMetrics) RecordCandidates(phrase, regex, warnings int) {
	m.CandidatesTotal.WithLabelValues("PHRASE").Add(float64(phrase))
	m.CandidatesTotal.WithLabelValues("REGEX").Add(float64(regex))
	if warnings > 0 {
		m.AlignmentWarnings.WithLabelValues().Add(float64(warnings))
	}
}

// RecordSpan records one resolved span.
func (m *AppMetrics) RecordSpan(label, source string) {
	m.SpansTotal.WithLabelValues(label, source).Inc()
}

// RecordStoreSize publishes the active store's pattern counts.
func (m *AppMetrics) RecordStoreSize(phrase, regex int) {
	m.PatternStoreSize.WithLabelValues("phrase").Set(float64(phrase))
	m.PatternStoreSize.WithLabelValues("regex").Set(float64(regex))
}

// RecordReload records a pattern store reload attempt.
func (m *AppMetrics) RecordReload(err error) {
	m.PatternReloads.WithLabelValues(statusLabel(err)).Inc()
}

// RecordEvaluation records an evaluation call and, on success, per-label F1.
func (m *AppMetrics) RecordEvaluation(f1ByLabel map[string]float64, err error) {
	m.EvaluationsTotal.WithLabelValues(statusLabel(err)).Inc()
	for label, f1 := range f1ByLabel {
		m.EvaluationF1.WithLabelValues(label).Set(f1)
	}
}

// RecordHTTPRequest records one HTTP request.
func (m *AppMetrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordGRPCRequest records one unary or stream call.
func (m *AppMetrics) RecordGRPCRequest(service, method, code string, d time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(service, method, code).Inc()
	m.GRPCRequestDuration.WithLabelValues(service, method).Observe(d.Seconds())
}

// RecordCache records a cache lookup; result is "hit", "miss" or "error".
func (m *AppMetrics) RecordCache(result string) {
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordJob records one processed queue job; status is "ok", "retry" or "dlq".
func (m *AppMetrics) RecordJob(status string) {
	m.JobsTotal.WithLabelValues(status).Inc()
}
