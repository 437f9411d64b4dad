package models

import (
	"time"
)

// Task outcome statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Handle kinds understood by the runner.
const (
	HandleCommand   = "command"
	HandleContainer = "container"
	HandleHTTP      = "http"
)

// Handle references the external unit of work behind a task.
type Handle struct {
	Kind    string            `yaml:"kind" json:"kind"`
	Command []string          `yaml:"command,omitempty" json:"command,omitempty"`
	Dir     string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Image   string            `yaml:"image,omitempty" json:"image,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Task is one independently schedulable unit of data collection within a batch run.
type Task struct {
	Name        string        `yaml:"name" json:"name"`
	Handle      Handle        `yaml:"handle" json:"handle"`
	LogPath     string        `yaml:"log_path" json:"log_path"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff" json:"backoff"`
	// Service names the health-check identity; empty means the task name.
	Service string `yaml:"service,omitempty" json:"service,omitempty"`
}

// ServiceName returns the health-check identity for the task.
func (t Task) ServiceName() string {
	if t.Service != "" {
		return t.Service
	}
	return t.Name
}

// TaskOutcome is produced once per task per run.
type TaskOutcome struct {
	Task       string    `json:"task"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	LogPath    string    `json:"log_path"`
	LastError  string    `json:"last_error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (o TaskOutcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}
