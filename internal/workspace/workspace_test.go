package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWorkspace(t *testing.T) {
	base := t.TempDir()

	a, err := New(base)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New(base)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if a.ID == b.ID || a.Dir == b.Dir {
		t.Errorf("Expected unique workspaces, got %s and %s", a.Dir, b.Dir)
	}

	if !strings.HasPrefix(filepath.Base(a.Dir), "lipsync-") {
		t.Errorf("Unexpected workspace name %s", a.Dir)
	}

	if fi, err := os.Stat(a.Dir); err != nil || !fi.IsDir() {
		t.Errorf("Workspace directory missing: %v", err)
	}
}

func TestWorkspaceRemove(t *testing.T) {
	ws, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sub, err := ws.MkdirTemp("segment-0-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "input.wav"), []byte("data"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := ws.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Errorf("Expected workspace to be gone, stat err = %v", err)
	}

	if err := ws.Remove(); err != nil {
		t.Errorf("Second Remove should be a no-op, got %v", err)
	}
}

func TestWorkspaceContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("Expected no workspace on background context")
	}

	ws := &Workspace{ID: "abc", Dir: "/tmp/lipsync-abc"}
	got, ok := FromContext(NewContext(context.Background(), ws))
	if !ok || got != ws {
		t.Errorf("Expected workspace from context, got %v (%v)", got, ok)
	}
}
