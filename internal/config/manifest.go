package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"auction-batch/internal/models"
)

// Artifact backends a service can be checked against.
const (
	BackendS3   = "s3"
	BackendFile = "file"
)

// ServiceConfig maps a health-check identity to its dated artifact location.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	Backend  string `yaml:"backend"`
	Location string `yaml:"location"`
	MinBytes int64  `yaml:"min_bytes"`
	MinLines int    `yaml:"min_lines"`
}

type taskEntry struct {
	Name        string        `yaml:"name"`
	Handle      models.Handle `yaml:"handle"`
	LogPath     string        `yaml:"log_path"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     string        `yaml:"backoff"`
	Service     string        `yaml:"service"`
}

// Manifest is the static batch definition: the ordered task list and the service registry.
type Manifest struct {
	Tasks    []models.Task
	Services []ServiceConfig
}

type manifestFile struct {
	Tasks    []taskEntry     `yaml:"tasks"`
	Services []ServiceConfig `yaml:"services"`
}

// LoadManifest reads and validates the YAML manifest, applying defaults from cfg.
func LoadManifest(path string, cfg Config) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(b, cfg)
}

// ParseManifest decodes manifest bytes.
func ParseManifest(b []byte, cfg Config) (Manifest, error) {
	var raw manifestFile
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}

	m := Manifest{}
	seen := make(map[string]bool, len(raw.Tasks))
	for i, e := range raw.Tasks {
		if e.Name == "" {
			return Manifest{}, fmt.Errorf("task #%d: name is required", i+1)
		}
		if seen[e.Name] {
			return Manifest{}, fmt.Errorf("task %q declared twice", e.Name)
		}
		seen[e.Name] = true

		t := models.Task{
			Name:        e.Name,
			Handle:      e.Handle,
			LogPath:     e.LogPath,
			MaxAttempts: e.MaxAttempts,
			Backoff:     cfg.DefaultBackoff,
			Service:     e.Service,
		}
		if t.Handle.Kind == "" {
			t.Handle.Kind = models.HandleCommand
		}
		if t.MaxAttempts <= 0 {
			t.MaxAttempts = cfg.DefaultMaxAttempts
		}
		if t.MaxAttempts <= 0 {
			t.MaxAttempts = 1
		}
		if e.Backoff != "" {
			d, err := time.ParseDuration(e.Backoff)
			if err != nil {
				return Manifest{}, fmt.Errorf("task %q: backoff: %w", e.Name, err)
			}
			t.Backoff = d
		}
		if t.LogPath == "" {
			t.LogPath = filepath.Join(cfg.TaskLogDir, e.Name+".log")
		}
		m.Tasks = append(m.Tasks, t)
	}

	names := make(map[string]bool, len(raw.Services))
	for i, s := range raw.Services {
		if s.Name == "" {
			return Manifest{}, fmt.Errorf("service #%d: name is required", i+1)
		}
		if names[s.Name] {
			return Manifest{}, fmt.Errorf("service %q declared twice", s.Name)
		}
		names[s.Name] = true
		switch s.Backend {
		case "":
			s.Backend = BackendS3
		case BackendS3, BackendFile:
		default:
			return Manifest{}, fmt.Errorf("service %q: unknown backend %q", s.Name, s.Backend)
		}
		if s.Location == "" {
			return Manifest{}, fmt.Errorf("service %q: location is required", s.Name)
		}
		if s.MinBytes <= 0 {
			s.MinBytes = 1
		}
		m.Services = append(m.Services, s)
	}
	return m, nil
}

// Select returns the tasks named in order, or every task in declaration order when names is empty.
func (m Manifest) Select(names []string) ([]models.Task, error) {
	if len(names) == 0 {
		return append([]models.Task(nil), m.Tasks...), nil
	}
	byName := make(map[string]models.Task, len(m.Tasks))
	for _, t := range m.Tasks {
		byName[t.Name] = t
	}
	out := make([]models.Task, 0, len(names))
	var errs []error
	for _, n := range names {
		t, ok := byName[n]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown task %q", n))
			continue
		}
		out = append(out, t)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// ServiceNames lists registered service identities in declaration order.
func (m Manifest) ServiceNames() []string {
	out := make([]string, 0, len(m.Services))
	for _, s := range m.Services {
		out = append(out, s.Name)
	}
	return out
}
