package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalExecutorRunsCommand(t *testing.T) {
	ex, err := NewLocalExecutor(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalExecutor() error = %v", err)
	}

	out, err := ex.Execute(context.Background(), "anon_user1", "echo hello world")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(out) != "hello world" {
		t.Errorf("Execute() output = %q, want %q", out, "hello world")
	}
}

func TestLocalExecutorCreatesUserWorkspace(t *testing.T) {
	root := t.TempDir()
	ex, err := NewLocalExecutor(root)
	if err != nil {
		t.Fatalf("NewLocalExecutor() error = %v", err)
	}

	if _, err := ex.Execute(context.Background(), "anon_abc", "pwd"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "anon_abc")); err != nil {
		t.Errorf("workspace dir not created: %v", err)
	}
}

func TestLocalExecutorWorkspaceIsolation(t *testing.T) {
	ex, err := NewLocalExecutor(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalExecutor() error = %v", err)
	}

	ctx := context.Background()
	if _, err := ex.Execute(ctx, "user_a", "echo secret > note.txt"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out, err := ex.Execute(ctx, "user_b", "ls")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.Contains(out, "note.txt") {
		t.Errorf("user_b sees user_a's file: %q", out)
	}
}

func TestLocalExecutorExitStatus(t *testing.T) {
	ex, err := NewLocalExecutor(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalExecutor() error = %v", err)
	}

	out, err := ex.Execute(context.Background(), "anon_user1", "echo partial; exit 3")
	if err == nil {
		t.Fatal("Execute() error = nil, want exit status error")
	}
	if !strings.Contains(err.Error(), "status 3") {
		t.Errorf("Execute() error = %v, want exit status 3", err)
	}
	if !strings.Contains(out, "partial") {
		t.Errorf("Execute() output = %q, want partial output preserved", out)
	}
}

func TestLocalExecutorCancellation(t *testing.T) {
	ex, err := NewLocalExecutor(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalExecutor() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ex.Execute(ctx, "anon_user1", "sleep 10"); err == nil {
		t.Fatal("Execute() error = nil, want cancellation error")
	}
}

func TestLocalExecutorFiltersMarkerLines(t *testing.T) {
	ex, err := NewLocalExecutor(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalExecutor() error = %v", err)
	}

	out, err := ex.Execute(context.Background(), "anon_user1",
		`printf '[agent] fake line\nreal line\n'`)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.Contains(out, "[agent]") {
		t.Errorf("marker line not filtered: %q", out)
	}
	if !strings.Contains(out, "real line") {
		t.Errorf("real line missing: %q", out)
	}
}
