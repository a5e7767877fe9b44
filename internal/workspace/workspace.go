// Package workspace provides request-scoped temporary directories so that
// concurrent pipeline runs never share temporary file names.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const dirPrefix = "lipsync-"

// Workspace is a uniquely named directory owned by a single request
type Workspace struct {
	ID  string
	Dir string
}

// New creates a workspace under base (os.TempDir() when empty)
func New(base string) (*Workspace, error) {
	if base == "" {
		base = os.TempDir()
	}

	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir %s: %w", base, err)
	}

	id := uuid.NewString()
	dir := filepath.Join(base, dirPrefix+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	return &Workspace{ID: id, Dir: dir}, nil
}

// MkdirTemp creates a uniquely named subdirectory
func (w *Workspace) MkdirTemp(pattern string) (string, error) {
	return os.MkdirTemp(w.Dir, pattern)
}

// Remove deletes the workspace and everything in it. Removing twice is not an error.
func (w *Workspace) Remove() error {
	if err := os.RemoveAll(w.Dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove workspace %s: %w", w.Dir, err)
	}
	return nil
}

type contextKey struct{}

// NewContext returns a context carrying ws
func NewContext(ctx context.Context, ws *Workspace) context.Context {
	return context.WithValue(ctx, contextKey{}, ws)
}

// FromContext returns the workspace stored by NewContext, if any
func FromContext(ctx context.Context) (*Workspace, bool) {
	ws, ok := ctx.Value(contextKey{}).(*Workspace)
	return ws, ok && ws != nil
}
