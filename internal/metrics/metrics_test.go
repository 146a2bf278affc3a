package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinishJob(t *testing.T) {
	m := New()

	m.StartJob()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsInFlight))

	m.FinishJob("completed", 2*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("failed")))
}

func TestRecordStage(t *testing.T) {
	m := New()

	m.RecordStage("tables", 100*time.Millisecond, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("tables")))

	m.RecordStage("tables", 100*time.Millisecond, fmt.Errorf("degraded"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageFailures.WithLabelValues("tables")))
}

func TestObserveQueueDepth(t *testing.T) {
	m := New()
	depth := 3
	m.ObserveQueueDepth(func() int { return depth })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "docuextract_queue_depth 3")
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.RecordRejected()
	m.RecordRequest("POST", "/api/process", 200, 50*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `docuextract_jobs_total{status="rejected"} 1`)
	assert.Contains(t, text, `docuextract_http_requests_total{method="POST",path="/api/process",status="200"} 1`)
}
