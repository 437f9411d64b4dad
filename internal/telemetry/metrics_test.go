package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesBatchMetrics(t *testing.T) {
	HealthChecks.WithLabelValues("ok").Inc()
	TaskSuccess.Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Contains(t, string(body), "batch_tasks_succeeded_total")
	assert.Contains(t, string(body), `batch_health_checks_total{status="ok"}`)
	assert.GreaterOrEqual(t, testutil.ToFloat64(TaskSuccess), 1.0)
}

func TestPush(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	LastRunFailedTasks.Set(2)
	require.NoError(t, Push(context.Background(), srv.URL, "nightly"))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.True(t, strings.HasSuffix(gotPath, "/metrics/job/nightly"), gotPath)
	assert.NotEmpty(t, gotBody)
}
