package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "autohub.log")

	for i := 0; i < 2; i++ {
		sink, err := OpenTaskSink(path, 10)
		require.NoError(t, err)
		_, err = sink.Write([]byte("raw output line\n"))
		require.NoError(t, err)
		sink.Log.Info("attempt finished")
		require.NoError(t, sink.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Equal(t, 2, strings.Count(text, "raw output line"))
	assert.Equal(t, 2, strings.Count(text, "attempt finished"))
}

func TestOpenTaskSinkEmptyPath(t *testing.T) {
	_, err := OpenTaskSink("", 1)
	assert.Error(t, err)
}

func TestNewWithWriterLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")
	log.Info("hidden")
	log.Warn("shown")
	_ = log.Sync()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}
