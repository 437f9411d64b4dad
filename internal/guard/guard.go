// Package guard keeps two orchestrator processes on the same host from
// running a batch at the same time.
package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrBusy means another live process holds the lock. Callers skip the run.
var ErrBusy = errors.New("guard: lock held by another process")

// Guard is a named, host-local advisory lock backed by flock(2). The kernel
// drops the lock when the owning process exits, however it exits.
type Guard struct {
	path string
}

// Handle is a held lock.
type Handle struct {
	lock *flock.Flock
}

func New(path string) *Guard {
	return &Guard{path: path}
}

func (g *Guard) Path() string {
	return g.path
}

// Acquire tries the lock without waiting and returns ErrBusy when it is taken.
func (g *Guard) Acquire() (*Handle, error) {
	if g.path == "" {
		return nil, errors.New("guard: lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(g.path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("try lock %s: %w", g.path, err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Handle{lock: fl}, nil
}

// Release unlocks early; it is safe to call more than once.
func (h *Handle) Release() error {
	if h == nil || h.lock == nil {
		return nil
	}
	return h.lock.Unlock()
}
