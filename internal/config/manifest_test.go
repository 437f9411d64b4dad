package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-batch/internal/models"
)

const sampleManifest = `
tasks:
  - name: autohub
    handle:
      kind: command
      command: ["python", "-u", "sites/autohub_daily_ec2.py"]
    max_attempts: 3
    backoff: 30s
  - name: onbid
    handle:
      kind: container
      image: crawler:latest
      args: ["onbid_daily"]
    service: onbid_raw
  - name: automart
    handle:
      command: ["./automart.sh"]
services:
  - name: autohub
    location: raw/{{.Service}}/{{.Date}}/{{.Service}}-{{.DateCompact}}-raw.csv
    min_bytes: 200
  - name: onbid_raw
    backend: file
    location: /data/onbid/{{.Date}}.csv
`

func testConfig() Config {
	return Config{
		DefaultMaxAttempts: 2,
		DefaultBackoff:     time.Minute,
		TaskLogDir:         "/var/log/batch",
	}
}

func TestParseManifestDefaults(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest), testConfig())
	require.NoError(t, err)
	require.Len(t, m.Tasks, 3)

	assert.Equal(t, 3, m.Tasks[0].MaxAttempts)
	assert.Equal(t, 30*time.Second, m.Tasks[0].Backoff)
	assert.Equal(t, filepath.Join("/var/log/batch", "autohub.log"), m.Tasks[0].LogPath)

	assert.Equal(t, 2, m.Tasks[1].MaxAttempts)
	assert.Equal(t, time.Minute, m.Tasks[1].Backoff)
	assert.Equal(t, "onbid_raw", m.Tasks[1].ServiceName())
	assert.Equal(t, models.HandleContainer, m.Tasks[1].Handle.Kind)

	assert.Equal(t, models.HandleCommand, m.Tasks[2].Handle.Kind)
	assert.Equal(t, "automart", m.Tasks[2].ServiceName())

	require.Len(t, m.Services, 2)
	assert.Equal(t, BackendS3, m.Services[0].Backend)
	assert.Equal(t, int64(200), m.Services[0].MinBytes)
	assert.Equal(t, BackendFile, m.Services[1].Backend)
	assert.Equal(t, int64(1), m.Services[1].MinBytes)
	assert.Equal(t, []string{"autohub", "onbid_raw"}, m.ServiceNames())
}

func TestParseManifestRejectsDuplicates(t *testing.T) {
	_, err := ParseManifest([]byte("tasks:\n  - name: a\n  - name: a\n"), testConfig())
	require.Error(t, err)

	_, err = ParseManifest([]byte("services:\n  - name: s\n    backend: ftp\n    location: x\n"), testConfig())
	require.Error(t, err)
}

func TestManifestSelect(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest), testConfig())
	require.NoError(t, err)

	all, err := m.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	picked, err := m.Select([]string{"automart", "autohub"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "automart", picked[0].Name)
	assert.Equal(t, "autohub", picked[1].Name)

	_, err = m.Select([]string{"nope"})
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TASKS", "b, a,,")
	t.Setenv("PARALLELISM", "4")
	t.Setenv("DEFAULT_BACKOFF", "5s")
	t.Setenv("UPLOAD_TASK_LOGS", "true")
	t.Setenv("RUN_TZ", "Not/AZone")

	cfg := Load()
	assert.Equal(t, []string{"b", "a"}, cfg.Tasks)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, 5*time.Second, cfg.DefaultBackoff)
	assert.True(t, cfg.UploadTaskLogs)
	assert.Equal(t, time.UTC, cfg.Location())
}
