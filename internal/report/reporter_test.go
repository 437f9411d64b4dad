package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-batch/internal/healthlog"
	"auction-batch/internal/models"
)

type recordingNotifier struct {
	alerts []Alert
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, a Alert) error {
	n.alerts = append(n.alerts, a)
	return n.err
}

type panickyNotifier struct{}

func (panickyNotifier) Notify(context.Context, Alert) error { panic("webhook client bug") }

var runDate = time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC)

func healthRec(service, status, note string) models.HealthRecord {
	return models.HealthRecord{Service: service, RunDate: "2025-08-22", DataDate: "2025-08-21", Status: status, Note: note, Bytes: 10}
}

func TestSummarizeIsCumulative(t *testing.T) {
	ctx := context.Background()
	hlog := healthlog.NewFileLog(t.TempDir())
	r := New(hlog, nil, nil)
	partial := models.RunSummary{RunID: "r1", Succeeded: []string{"A"}, Outcomes: []models.TaskOutcome{{Task: "A", Status: models.StatusSucceeded, Attempts: 1}}}

	require.NoError(t, hlog.Append(ctx, healthRec("autohub", models.HealthOK, "")))
	first, err := r.Summarize(ctx, runDate, partial)
	require.NoError(t, err)
	require.Len(t, first.Health, 1)

	require.NoError(t, hlog.Append(ctx, healthRec("onbid", models.HealthFail, models.NoteNotFound)))
	require.NoError(t, hlog.Append(ctx, healthRec("autohub", models.HealthOK, "")))
	second, err := r.Summarize(ctx, runDate, partial)
	require.NoError(t, err)
	require.Len(t, second.Health, 3)
	assert.Equal(t, first.Health, second.Health[:1])
	assert.Equal(t, "2025-08-22", second.RunDate)
	assert.Equal(t, []string{"A"}, second.Succeeded)
}

func TestNotifyOnlyWhenNeeded(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	r := New(nil, n, nil)

	clean := models.RunSummary{RunDate: "2025-08-22", Succeeded: []string{"A"}, Health: []models.HealthRecord{healthRec("a", models.HealthOK, "")}}
	assert.False(t, r.NotifyIfNeeded(ctx, clean))
	assert.Empty(t, n.alerts)

	dataOnly := clean
	dataOnly.Health = append(dataOnly.Health, healthRec("b", models.HealthFail, models.NoteZeroBytes))
	assert.True(t, r.NotifyIfNeeded(ctx, dataOnly))
	require.Len(t, n.alerts, 1)
	assert.Len(t, n.alerts[0].Unhealthy, 1)
	assert.Contains(t, n.alerts[0].Text, "note=zero_bytes")

	unknown := clean
	unknown.Health = []models.HealthRecord{healthRec("c", models.HealthUnknown, models.NoteUnsupportedService)}
	assert.True(t, r.NotifyIfNeeded(ctx, unknown))

	taskOnly := models.RunSummary{RunDate: "2025-08-22", Failed: []string{"B"}}
	assert.True(t, r.NotifyIfNeeded(ctx, taskOnly))
	require.Len(t, n.alerts, 3)
	assert.Equal(t, []string{"B"}, n.alerts[2].Failed)
}

func TestNotifyFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	failing := models.RunSummary{RunDate: "2025-08-22", Failed: []string{"B"}}

	n := &recordingNotifier{err: errors.New("webhook 500")}
	assert.True(t, New(nil, n, nil).NotifyIfNeeded(ctx, failing))
	assert.Len(t, n.alerts, 1)

	assert.NotPanics(t, func() {
		New(nil, panickyNotifier{}, nil).NotifyIfNeeded(ctx, failing)
	})

	assert.False(t, New(nil, nil, nil).NotifyIfNeeded(ctx, failing))
}

func TestRender(t *testing.T) {
	s := models.RunSummary{
		RunID:     "r1",
		RunDate:   "2025-08-22",
		Succeeded: []string{"A"},
		Failed:    []string{"B"},
		Outcomes: []models.TaskOutcome{
			{Task: "A", Status: models.StatusSucceeded, Attempts: 1, LogPath: "/logs/A.log"},
			{Task: "B", Status: models.StatusFailed, Attempts: 2, LogPath: "/logs/B.log", LastError: "exit 1"},
		},
		Health: []models.HealthRecord{healthRec("autohub", models.HealthOK, "")},
	}
	out := Render(s)
	assert.Contains(t, out, "run 2025-08-22 (data 2025-08-21) id=r1: 1 succeeded, 1 failed, 1/1 health records ok")
	assert.Contains(t, out, `attempts=2 log=/logs/B.log error="exit 1"`)
	assert.Contains(t, out, "service autohub")
}

func TestWebhookNotifier(t *testing.T) {
	var got Alert
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), Alert{RunDate: "2025-08-22", Text: "B failed", Failed: []string{"B"}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits)
	assert.Equal(t, "B failed", got.Text)
	assert.Equal(t, []string{"B"}, got.Failed)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	assert.Error(t, NewWebhookNotifier(bad.URL, time.Second).Notify(context.Background(), Alert{}))
}
