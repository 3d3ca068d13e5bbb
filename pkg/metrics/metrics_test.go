package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCounters(t *testing.T) {
	m := NewJob("report1")

	m.FilesRead(3)
	m.RowsExtracted(120)
	m.RowsReported(7)
	m.RowsReported(3)
	m.ObserveStage("extract", 250*time.Millisecond)
	m.RunFinished(StatusSuccess, time.Unix(1619071200, 0))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.filesRead))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.rowsExtracted))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.rowsReported))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1619071200.0, testutil.ToFloat64(m.lastSuccess))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestRunFinished_FailureKeepsLastSuccess(t *testing.T) {
	m := NewJob("report1")
	m.RunFinished(StatusFailure, time.Now())

	assert.Equal(t, 0.0, testutil.ToFloat64(m.lastSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(StatusFailure)))
}

func TestNilJob(t *testing.T) {
	var m *Job
	assert.NotPanics(t, func() {
		m.FilesRead(1)
		m.RowsExtracted(1)
		m.RowsReported(1)
		m.ObserveStage("load", time.Second)
		m.RunFinished(StatusSuccess, time.Now())
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.Push(context.Background(), "http://unused", "xetra"))
}

func TestPush(t *testing.T) {
	var (
		method, path string
		body         string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewJob("report1")
	m.RowsReported(5)
	require.NoError(t, m.Push(context.Background(), srv.URL, "xetra"))

	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/xetra"), path)
	assert.NotEmpty(t, body)
}

func TestTimer(t *testing.T) {
	timer := NewTimer("transform")
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, "transform", timer.Name())
	assert.GreaterOrEqual(t, timer.Stop(), 5*time.Millisecond)
}
