package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"

	"auction-batch/internal/models"
)

// taskEnv lists the variables exported to command and container handles.
func taskEnv(task models.Task, rc RunContext) []string {
	env := map[string]string{
		"DATE":      models.FormatDate(rc.DataDate),
		"RUN_DATE":  models.FormatDate(rc.RunDate),
		"RUN_ID":    rc.RunID,
		"TASK_NAME": task.Name,
	}
	for k, v := range task.Handle.Env {
		env[k] = v
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func runCommand(ctx context.Context, task models.Task, rc RunContext, out io.Writer) error {
	if len(task.Handle.Command) == 0 {
		return errors.New("command handle has no command")
	}
	return execute(ctx, task.Handle.Command, task.Handle.Dir, append(os.Environ(), taskEnv(task, rc)...), out)
}

// runContainer starts the task's image with the docker CLI, or with the
// runtime prefix given in Handle.Command (e.g. ["podman", "run", "--rm"]).
func runContainer(ctx context.Context, task models.Task, rc RunContext, out io.Writer) error {
	if task.Handle.Image == "" {
		return errors.New("container handle has no image")
	}
	argv := []string{"docker", "run", "--rm"}
	if len(task.Handle.Command) > 0 {
		argv = append([]string(nil), task.Handle.Command...)
	}
	if rc.RunID != "" {
		argv = append(argv, "--name", containerName(task.Name, rc.RunID))
	}
	for _, kv := range taskEnv(task, rc) {
		argv = append(argv, "-e", kv)
	}
	argv = append(argv, task.Handle.Image)
	argv = append(argv, task.Handle.Args...)
	return execute(ctx, argv, task.Handle.Dir, os.Environ(), out)
}

func containerName(task, runID string) string {
	id := runID
	if len(id) > 8 {
		id = id[:8]
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '-'
	}, task)
	return "batch-" + name + "-" + id
}

func execute(ctx context.Context, argv []string, dir string, env []string, out io.Writer) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with code %d: %w", argv[0], exitErr.ExitCode(), err)
		}
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}

type httpTaskRequest struct {
	Task     string `json:"task"`
	RunID    string `json:"run_id"`
	RunDate  string `json:"run_date"`
	DataDate string `json:"data_date"`
}

// callHTTP triggers a remote unit of work; a 2xx answer is success. The
// response body is appended to the task log.
func (r *Runner) callHTTP(ctx context.Context, task models.Task, rc RunContext, out io.Writer) error {
	if task.Handle.URL == "" {
		return errors.New("http handle has no url")
	}
	method := task.Handle.Method
	if method == "" {
		method = http.MethodPost
	}
	body, err := json.Marshal(httpTaskRequest{
		Task:     task.Name,
		RunID:    rc.RunID,
		RunDate:  models.FormatDate(rc.RunDate),
		DataDate: models.FormatDate(rc.DataDate),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, task.Handle.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", task.Handle.URL, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	_, _ = io.WriteString(out, "\n")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("call %s: status %d", task.Handle.URL, resp.StatusCode)
	}
	return nil
}
