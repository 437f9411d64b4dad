package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-batch/internal/models"
)

const kindScripted = "scripted"

// script fails the first failures attempts of each named task.
type script struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	order    []string
}

func newScript(failures map[string]int) *script {
	return &script{failures: failures, calls: make(map[string]int)}
}

func (s *script) handle(_ context.Context, task models.Task, _ RunContext, out io.Writer) error {
	s.mu.Lock()
	s.calls[task.Name]++
	n := s.calls[task.Name]
	s.order = append(s.order, task.Name)
	fail := n <= s.failures[task.Name]
	s.mu.Unlock()

	fmt.Fprintf(out, "%s attempt %d output\n", task.Name, n)
	if fail {
		return fmt.Errorf("%s attempt %d failed", task.Name, n)
	}
	return nil
}

func newTask(dir, name string, maxAttempts int) models.Task {
	return models.Task{
		Name:        name,
		Handle:      models.Handle{Kind: kindScripted},
		LogPath:     filepath.Join(dir, name+".log"),
		MaxAttempts: maxAttempts,
		Backoff:     time.Millisecond,
	}
}

func newRunner(s *script, opts ...Option) *Runner {
	rc := RunContext{
		RunID:    "run-1",
		RunDate:  time.Date(2025, 8, 22, 0, 0, 0, 0, time.UTC),
		DataDate: time.Date(2025, 8, 21, 0, 0, 0, 0, time.UTC),
	}
	r := New(nil, rc, opts...)
	r.RegisterHandler(kindScripted, s.handle)
	return r
}

func TestRunSucceedsOnThirdAttempt(t *testing.T) {
	dir := t.TempDir()
	s := newScript(map[string]int{"autohub": 2})
	out := newRunner(s).Run(context.Background(), newTask(dir, "autohub", 3))

	assert.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Empty(t, out.LastError)
	assert.False(t, out.FinishedAt.Before(out.StartedAt))
}

func TestRunFailsAfterAllAttempts(t *testing.T) {
	dir := t.TempDir()
	s := newScript(map[string]int{"autohub": 5})
	out := newRunner(s).Run(context.Background(), newTask(dir, "autohub", 3))

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Contains(t, out.LastError, "attempt 3 failed")
	assert.Equal(t, 3, s.calls["autohub"])
}

func TestRunAppendsAttemptHistory(t *testing.T) {
	dir := t.TempDir()
	task := newTask(dir, "onbid", 2)
	require.NoError(t, os.WriteFile(task.LogPath, []byte("previous run\n"), 0o644))

	s := newScript(map[string]int{"onbid": 1})
	newRunner(s).Run(context.Background(), task)

	data, err := os.ReadFile(task.LogPath)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "previous run\n"))
	assert.Contains(t, text, "onbid attempt 1 output")
	assert.Contains(t, text, "onbid attempt 2 output")
	assert.Contains(t, text, `"message":"attempt failed"`)
	assert.Contains(t, text, `"message":"task succeeded"`)
}

func TestRunAllContinuesOnError(t *testing.T) {
	dir := t.TempDir()
	s := newScript(map[string]int{"B": 10})
	tasks := []models.Task{newTask(dir, "A", 1), newTask(dir, "B", 2), newTask(dir, "C", 1)}

	summary := newRunner(s).RunAll(context.Background(), tasks)

	require.Len(t, summary.Outcomes, 3)
	for i, task := range tasks {
		assert.Equal(t, task.Name, summary.Outcomes[i].Task)
	}
	assert.Equal(t, []string{"A", "C"}, summary.Succeeded)
	assert.Equal(t, []string{"B"}, summary.Failed)
	assert.Equal(t, 2, summary.Outcomes[1].Attempts)
	assert.Equal(t, []string{"A", "B", "B", "C"}, s.order)
	assert.Equal(t, "2025-08-22", summary.RunDate)
	assert.Equal(t, "run-1", summary.RunID)
}

func TestRunAllEveryTaskFails(t *testing.T) {
	dir := t.TempDir()
	s := newScript(map[string]int{"A": 9, "B": 9, "C": 9, "D": 9})
	tasks := []models.Task{newTask(dir, "A", 1), newTask(dir, "B", 1), newTask(dir, "C", 2), newTask(dir, "D", 1)}

	summary := newRunner(s).RunAll(context.Background(), tasks)
	assert.Empty(t, summary.Succeeded)
	assert.Equal(t, []string{"A", "B", "C", "D"}, summary.Failed)
	assert.Len(t, summary.Outcomes, 4)
}

func TestRunAllParallelKeepsDeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	s := newScript(map[string]int{"t1": 1, "t3": 9})
	var tasks []models.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, newTask(dir, fmt.Sprintf("t%d", i), 2))
	}

	summary := newRunner(s, WithParallelism(3)).RunAll(context.Background(), tasks)
	require.Len(t, summary.Outcomes, 6)
	for i, o := range summary.Outcomes {
		assert.Equal(t, fmt.Sprintf("t%d", i), o.Task)
	}
	assert.Equal(t, []string{"t0", "t1", "t2", "t4", "t5"}, summary.Succeeded)
	assert.Equal(t, []string{"t3"}, summary.Failed)
}

func TestRunConvertsPanicToFailure(t *testing.T) {
	dir := t.TempDir()
	r := New(nil, RunContext{})
	r.RegisterHandler("boom", func(context.Context, models.Task, RunContext, io.Writer) error {
		panic("selenium crashed")
	})
	task := newTask(dir, "boom", 2)
	task.Handle.Kind = "boom"

	out := r.Run(context.Background(), task)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.Contains(t, out.LastError, "selenium crashed")
}

func TestRunUnknownKind(t *testing.T) {
	task := newTask(t.TempDir(), "x", 3)
	task.Handle.Kind = "carrier-pigeon"

	out := New(nil, RunContext{}).Run(context.Background(), task)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Equal(t, 0, out.Attempts)
}

func TestRunUnwritableLog(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	task := newTask(dir, "x", 1)
	task.LogPath = filepath.Join(blocker, "x.log")

	s := newScript(nil)
	out := newRunner(s).Run(context.Background(), task)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.LastError, "open task log")
	assert.Zero(t, s.calls["x"])
}

func TestAfterTaskHookSeesEveryOutcome(t *testing.T) {
	dir := t.TempDir()
	s := newScript(map[string]int{"B": 9})
	var seen []string
	r := newRunner(s, WithAfterTask(func(_ context.Context, task models.Task, o models.TaskOutcome) {
		seen = append(seen, task.Name+":"+o.Status)
		if task.Name == "A" {
			panic("hook bug")
		}
	}))

	r.RunAll(context.Background(), []models.Task{newTask(dir, "A", 1), newTask(dir, "B", 1)})
	assert.Equal(t, []string{"A:succeeded", "B:failed"}, seen)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	r := New(nil, RunContext{})
	r.RegisterHandler(kindScripted, func(context.Context, models.Task, RunContext, io.Writer) error {
		atomic.AddInt32(&calls, 1)
		cancel()
		return errors.New("down")
	})
	task := newTask(dir, "x", 5)
	task.Backoff = time.Hour

	out := r.Run(ctx, task)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCommandHandler(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "attempts")
	task := models.Task{
		Name: "autoinside",
		Handle: models.Handle{
			Kind: models.HandleCommand,
			// Fails until the marker file exists, then succeeds.
			Command: []string{"sh", "-c", `echo "date=$DATE run=$RUN_DATE site=$SITE"; if [ -f "$MARKER" ]; then exit 0; fi; touch "$MARKER"; echo boom >&2; exit 3`},
			Env:     map[string]string{"MARKER": marker, "SITE": "autoinside"},
		},
		LogPath:     filepath.Join(dir, "autoinside.log"),
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
	}

	out := newRunner(newScript(nil)).Run(context.Background(), task)
	assert.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, 2, out.Attempts)

	data, err := os.ReadFile(task.LogPath)
	require.NoError(t, err)
	text := string(data)
	assert.Equal(t, 2, strings.Count(text, "date=2025-08-21 run=2025-08-22 site=autoinside"))
	assert.Contains(t, text, "boom")
	assert.Contains(t, text, "exited with code 3")
}

func TestCommandHandlerMissingCommand(t *testing.T) {
	task := models.Task{Name: "empty", Handle: models.Handle{Kind: models.HandleCommand}, LogPath: filepath.Join(t.TempDir(), "e.log"), MaxAttempts: 1}
	out := New(nil, RunContext{}).Run(context.Background(), task)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
}

func TestContainerHandlerUsesRuntimePrefix(t *testing.T) {
	dir := t.TempDir()
	task := models.Task{
		Name: "onbid daily",
		Handle: models.Handle{
			Kind:    models.HandleContainer,
			Command: []string{"echo", "runtime"},
			Image:   "crawler:latest",
			Args:    []string{"onbid_daily"},
		},
		LogPath:     filepath.Join(dir, "onbid.log"),
		MaxAttempts: 1,
	}

	out := newRunner(newScript(nil)).Run(context.Background(), task)
	require.Equal(t, models.StatusSucceeded, out.Status)

	data, err := os.ReadFile(task.LogPath)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "runtime --name batch-onbid-daily-run-1 -e DATE=2025-08-21")
	assert.Contains(t, text, "crawler:latest onbid_daily")
}

func TestHTTPHandler(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		body, _ := io.ReadAll(r.Body)
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream busy"))
			return
		}
		_, _ = w.Write(append([]byte("accepted "), body...))
	}))
	defer srv.Close()

	dir := t.TempDir()
	task := models.Task{
		Name:        "speed",
		Handle:      models.Handle{Kind: models.HandleHTTP, URL: srv.URL},
		LogPath:     filepath.Join(dir, "speed.log"),
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	}
	out := newRunner(newScript(nil)).Run(context.Background(), task)
	assert.Equal(t, models.StatusSucceeded, out.Status)
	assert.Equal(t, 2, out.Attempts)

	data, err := os.ReadFile(task.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "upstream busy")
	assert.Contains(t, string(data), `"data_date":"2025-08-21"`)
}
