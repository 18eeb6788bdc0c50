package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opslane/workstream-coordinator/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	return log
}

// initRepo creates a throwaway git repository with a single commit on
// "main" and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.local",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.local")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestProviderCreateAndRemove(t *testing.T) {
	repo := initRepo(t)
	p := NewProvider(repo, "", "", testLogger(t))
	ctx := context.Background()

	if !p.IsAvailable(ctx) {
		t.Fatalf("IsAvailable = false, want true")
	}

	wc, err := p.Create(ctx, "feature-one", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(wc.BranchName, "goose/") {
		t.Fatalf("BranchName = %q, want goose/ prefix", wc.BranchName)
	}
	if _, err := os.Stat(wc.Path); err != nil {
		t.Fatalf("worktree path missing: %v", err)
	}

	list, err := p.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v; want 1 entry", list, err)
	}

	if err := p.Remove(ctx, "feature-one"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(wc.Path); !os.IsNotExist(err) {
		t.Fatalf("worktree path still exists after Remove")
	}
}

func TestProviderCreateIsIdempotent(t *testing.T) {
	repo := initRepo(t)
	p := NewProvider(repo, "", "", testLogger(t))
	ctx := context.Background()

	first, err := p.Create(ctx, "dup", "main")
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	second, err := p.Create(ctx, "dup", "main")
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if first.Path != second.Path {
		t.Fatalf("paths differ across recreate: %q vs %q", first.Path, second.Path)
	}
	if _, err := os.Stat(second.Path); err != nil {
		t.Fatalf("recreated worktree path missing: %v", err)
	}
}

func TestProviderCreateRejectsUnknownBaseBranch(t *testing.T) {
	repo := initRepo(t)
	p := NewProvider(repo, "", "", testLogger(t))
	ctx := context.Background()

	if _, err := p.Create(ctx, "bad-base", "does-not-exist"); err == nil {
		t.Fatalf("Create with unknown base branch: want error, got nil")
	}
}

func TestProviderCommitAndDiff(t *testing.T) {
	repo := initRepo(t)
	p := NewProvider(repo, "", "", testLogger(t))
	ctx := context.Background()

	wc, err := p.Create(ctx, "writer", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := os.WriteFile(filepath.Join(wc.Path, "new.txt"), []byte("content\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	committed, err := p.Commit(ctx, "writer", "add new.txt")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !committed {
		t.Fatalf("Commit returned false for a real change")
	}

	diff, err := p.Diff(ctx, "writer")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(diff, "new.txt") {
		t.Fatalf("diff = %q, want mention of new.txt", diff)
	}

	committedAgain, err := p.Commit(ctx, "writer", "no-op")
	if err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if committedAgain {
		t.Fatalf("Commit with nothing staged returned true, want false")
	}
}

func TestProviderRemoveUnknownReturnsNotFound(t *testing.T) {
	repo := initRepo(t)
	p := NewProvider(repo, "", "", testLogger(t))
	if err := p.Remove(context.Background(), "nope"); err != ErrWorkingCopyNotFound {
		t.Fatalf("Remove unknown = %v, want ErrWorkingCopyNotFound", err)
	}
}

func TestProviderNotAvailableWhenNotGitRepo(t *testing.T) {
	dir := t.TempDir()
	p := NewProvider(dir, "", "", testLogger(t))
	if p.IsAvailable(context.Background()) {
		t.Fatalf("IsAvailable = true for non-git directory")
	}
}
