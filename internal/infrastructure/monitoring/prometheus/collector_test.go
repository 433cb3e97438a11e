package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
)

func newTestCollector(t *testing.T) MetricsCollector {
	t.Helper()
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", Subsystem: "unit"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func scrapeMetrics(t *testing.T, collector MetricsCollector) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	collector.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewMetricsCollector_EmptyNamespace(t *testing.T) {
	_, err := NewMetricsCollector(CollectorConfig{Subsystem: "unit"}, nil)
	assert.Error(t, err)
}

func TestNewMetricsCollector_RuntimeCollectors(t *testing.T) {
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", EnableGoMetrics: true}, nil)
	require.NoError(t, err)
	assert.Contains(t, scrapeMetrics(t, c), "go_goroutines")
}

func TestRegisterCounter_Scrape(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("spans_total", "help", "label").WithLabelValues("TOOL").Add(3)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_spans_total{label="TOOL"} 3`)
}

func TestRegisterGaugeAndHistogram_Scrape(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterGauge("store_size", "help", "kind").WithLabelValues("phrase").Set(29)
	c.RegisterHistogram("latency_seconds", "help", []float64{0.1, 1}).WithLabelValues().Observe(0.05)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_store_size{kind="phrase"} 29`)
	assert.Contains(t, out, `test_unit_latency_seconds_bucket{le="0.1"} 1`)
}

func TestRegister_Idempotent(t *testing.T) {
	c := newTestCollector(t)
	a := c.RegisterCounter("dup_total", "help")
	b := c.RegisterCounter("dup_total", "help")
	a.WithLabelValues().Inc()
	b.WithLabelValues().Inc()

	assert.Contains(t, scrapeMetrics(t, c), "test_unit_dup_total 2")
}

func TestRegister_TypeMismatchReturnsNoop(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("clash", "help")
	g := c.RegisterGauge("clash", "help")
	assert.IsType(t, noopGaugeVec{}, g)
	g.WithLabelValues().Set(1)
}

func TestRegister_Concurrent(t *testing.T) {
	c := newTestCollector(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RegisterCounter("concurrent_total", "help").WithLabelValues().Inc()
		}()
	}
	wg.Wait()
	assert.Contains(t, scrapeMetrics(t, c), "test_unit_concurrent_total 16")
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := newTestCollector(t)
	h := c.RegisterHistogram("timer_seconds", "help", nil)
	timer := NewTimer(h.WithLabelValues())
	time.Sleep(time.Millisecond)
	assert.Greater(t, timer.ObserveDuration(), time.Duration(0))

	assert.NotPanics(t, func() { (&Timer{start: time.Now()}).ObserveDuration() })
}

func TestAppMetrics_Record(t *testing.T) {
	c := newTestCollector(t)
	m := NewAppMetrics(c)

	m.RecordAnnotate("http", 2*time.Millisecond, nil)
	m.RecordAnnotate("http", time.Millisecond, errors.New("x"))
	m.RecordCandidates(3, 2, 1)
	m.RecordSpan("TOOL", "PHRASE")
	m.RecordStoreSize(29, 2)
	m.RecordReload(nil)
	m.RecordEvaluation(map[string]float64{"TOOL": 0.5}, nil)
	m.RecordHTTPRequest("POST", "/api/v1/annotate", 200, time.Millisecond)
	m.RecordCache("hit")
	m.RecordJob("ok")

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_annotate_total{status="ok",transport="http"} 1`)
	assert.Contains(t, out, `test_unit_annotate_total{status="error",transport="http"} 1`)
	assert.Contains(t, out, `test_unit_candidate_spans_total{source="PHRASE"} 3`)
	assert.Contains(t, out, `test_unit_alignment_warnings_total 1`)
	assert.Contains(t, out, `test_unit_resolved_spans_total{label="TOOL",source="PHRASE"} 1`)
	assert.Contains(t, out, `test_unit_pattern_store_patterns{kind="regex"} 2`)
	assert.Contains(t, out, `test_unit_evaluation_f1{label="TOOL"} 0.5`)
	assert.Contains(t, out, `test_unit_http_requests_total{method="POST",path="/api/v1/annotate",status="200"} 1`)
	assert.Contains(t, out, `test_unit_cache_requests_total{result="hit"} 1`)
	assert.Contains(t, out, `test_unit_jobs_total{status="ok"} 1`)
}

func TestNoopAppMetrics_NoPanic(t *testing.T) {
	m := NewNoopAppMetrics()
	assert.NotPanics(t, func() {
		m.RecordAnnotate("cli", time.Millisecond, nil)
		m.RecordCandidates(1, 1, 1)
		m.RecordSpan("X", "REGEX")
		m.RecordStoreSize(1, 1)
		m.RecordReload(errors.New("x"))
		m.RecordEvaluation(map[string]float64{"X": 1}, nil)
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		m.RecordCache("miss")
		m.RecordJob("dlq")
	})
}
