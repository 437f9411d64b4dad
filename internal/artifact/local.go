package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore resolves keys against baseDir; absolute keys are used as-is.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

func (l *LocalStore) Location(key string) string {
	if filepath.IsAbs(key) || l.baseDir == "" {
		return filepath.Clean(key)
	}
	return filepath.Join(l.baseDir, key)
}

func (l *LocalStore) Stat(_ context.Context, key string) (Info, error) {
	path := l.Location(key)
	fi, err := os.Stat(path)
	if err != nil {
		return Info{Location: path, Size: -1}, classifyFSError(err)
	}
	if fi.IsDir() {
		return Info{Location: path, Size: -1}, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	return Info{Location: path, Size: fi.Size()}, nil
}

func (l *LocalStore) ReadPrefix(_ context.Context, key string, n int64) ([]byte, error) {
	f, err := os.Open(l.Location(key))
	if err != nil {
		return nil, classifyFSError(err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, n))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, key, err)
	}
	return b, nil
}

func (l *LocalStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := l.Location(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

func classifyFSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
