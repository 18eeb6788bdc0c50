package worktree

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/opslane/workstream-coordinator/internal/common/logger"
	"go.uber.org/zap"
)

const (
	defaultBranchPrefix = "goose/"
	defaultWorktreeDir  = ".goose-worktrees"
	maxDiffBytes        = 10 * 1024 * 1024
	fetchTimeout        = 30 * time.Second
	gitOpTimeout        = 60 * time.Second
	maxNameLen          = 50
)

var invalidBranchChar = regexp.MustCompile(`[^a-z0-9-]`)

// WorkingCopy describes one isolated worktree bound to a named workstream.
type WorkingCopy struct {
	Name       string
	Path       string
	BranchName string
	BaseBranch string
	CreatedAt  time.Time
}

// Provider is the Working-Copy Provider (C3). It is bound to a single
// repository root and keeps an in-memory index of the worktrees it has
// created under that root; nothing here persists across process restarts.
type Provider struct {
	repoRoot     string
	worktreeBase string
	branchPrefix string
	log          *logger.Logger

	mu        sync.Mutex
	worktrees map[string]*WorkingCopy
}

// NewProvider builds a Provider rooted at repoRoot. worktreeBase is the
// directory (relative to repoRoot, or absolute) that holds created
// worktrees; branchPrefix names the branches created for them.
func NewProvider(repoRoot, worktreeBase, branchPrefix string, log *logger.Logger) *Provider {
	if worktreeBase == "" {
		worktreeBase = defaultWorktreeDir
	}
	if branchPrefix == "" {
		branchPrefix = defaultBranchPrefix
	}
	if !filepath.IsAbs(worktreeBase) {
		worktreeBase = filepath.Join(repoRoot, worktreeBase)
	}
	return &Provider{
		repoRoot:     repoRoot,
		worktreeBase: worktreeBase,
		branchPrefix: branchPrefix,
		log:          log.WithFields(zap.String("component", "worktree-provider")),
		worktrees:    make(map[string]*WorkingCopy),
	}
}

// IsAvailable reports whether the configured repository root is usable: it
// exists and is a git repository.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return isGitRepo(p.repoRoot)
}

// Ensure verifies the repository root is a git repository, creates the
// worktree base directory if needed, and appends it to .gitignore so
// generated worktrees don't show up as untracked changes in the main copy.
func (p *Provider) Ensure(ctx context.Context) error {
	if !isGitRepo(p.repoRoot) {
		return ErrNotGitRepo
	}
	if err := os.MkdirAll(p.worktreeBase, 0o755); err != nil {
		return err
	}
	p.appendIgnoreEntry()
	return nil
}

// appendIgnoreEntry is best-effort: a failure to update .gitignore never
// fails Ensure, and concurrent processes racing on the same file are not
// synchronized (documented limitation, not a correctness requirement here).
func (p *Provider) appendIgnoreEntry() {
	entry := filepath.Base(p.worktreeBase) + "/"
	if !filepath.IsAbs(p.worktreeBase) || filepath.Dir(p.worktreeBase) != p.repoRoot {
		entry = defaultWorktreeDir + "/"
	}

	ignorePath := filepath.Join(p.repoRoot, ".gitignore")
	existing, err := os.ReadFile(ignorePath)
	if err == nil && strings.Contains(string(existing), entry) {
		return
	}

	f, err := os.OpenFile(ignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		p.log.Warn("failed to open .gitignore", zap.Error(err))
		return
	}
	defer f.Close()

	prefix := ""
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + entry + "\n"); err != nil {
		p.log.Warn("failed to append .gitignore entry", zap.Error(err))
	}
}

// Create provisions a new worktree named name, branched off baseBranch, at
// <worktreeBase>/<name> on branch <branchPrefix><name>. Create is idempotent:
// an existing worktree of the same name is torn down and recreated, matching
// the coordinator's "start fresh" semantics for a restarted workstream.
func (p *Provider) Create(ctx context.Context, name, baseBranch string) (*WorkingCopy, error) {
	if err := p.Ensure(ctx); err != nil {
		return nil, err
	}
	if baseBranch == "" {
		baseBranch = currentBranch(ctx, p.repoRoot)
	}
	if baseBranch == "" {
		baseBranch = "main"
	}
	if !branchExists(ctx, p.repoRoot, baseBranch) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseBranch, baseBranch)
	}

	p.mu.Lock()
	existing, hasExisting := p.worktrees[name]
	p.mu.Unlock()
	if hasExisting {
		if err := p.removeWorktree(ctx, existing); err != nil {
			p.log.Warn("failed to remove stale worktree before recreate",
				zap.String("name", name), zap.Error(err))
		}
	}

	branch := p.branchPrefix + sanitizeForBranch(name)
	path := filepath.Join(p.worktreeBase, sanitizeForBranch(name))

	createCtx, cancel := context.WithTimeout(ctx, gitOpTimeout)
	defer cancel()

	args := []string{"worktree", "add", "-b", branch, path, baseBranch}
	if branchExists(ctx, p.repoRoot, branch) {
		// The branch already exists: check it out instead of creating it.
		args = []string{"worktree", "add", path, branch}
	}

	cmd := newNonInteractiveGitCmd(createCtx, p.repoRoot, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git worktree add: %w: %s", err, stderr.String())
	}

	wc := &WorkingCopy{
		Name:       name,
		Path:       path,
		BranchName: branch,
		BaseBranch: baseBranch,
		CreatedAt:  time.Now().UTC(),
	}

	p.mu.Lock()
	p.worktrees[name] = wc
	p.mu.Unlock()

	return wc, nil
}

// Remove tears down the worktree and its branch.
func (p *Provider) Remove(ctx context.Context, name string) error {
	p.mu.Lock()
	wc, ok := p.worktrees[name]
	p.mu.Unlock()
	if !ok {
		return ErrWorkingCopyNotFound
	}

	if err := p.removeWorktree(ctx, wc); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.worktrees, name)
	p.mu.Unlock()
	return nil
}

func (p *Provider) removeWorktree(ctx context.Context, wc *WorkingCopy) error {
	removeCtx, cancel := context.WithTimeout(ctx, gitOpTimeout)
	defer cancel()

	cmd := newNonInteractiveGitCmd(removeCtx, p.repoRoot, "worktree", "remove", "--force", wc.Path)
	if err := cmd.Run(); err != nil {
		p.log.Warn("git worktree remove failed, forcing directory removal",
			zap.String("path", wc.Path), zap.Error(err))
		if rmErr := forceRemoveDir(removeCtx, wc.Path); rmErr != nil {
			return fmt.Errorf("remove worktree dir: %w", rmErr)
		}
		_ = newNonInteractiveGitCmd(removeCtx, p.repoRoot, "worktree", "prune").Run()
	}

	if branchExists(ctx, p.repoRoot, wc.BranchName) {
		if err := newNonInteractiveGitCmd(removeCtx, p.repoRoot, "branch", "-D", wc.BranchName).Run(); err != nil {
			p.log.Warn("failed to delete branch after worktree removal",
				zap.String("branch", wc.BranchName), zap.Error(err))
		}
	}
	return nil
}

// List returns every working copy currently tracked by the provider.
func (p *Provider) List(ctx context.Context) ([]*WorkingCopy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*WorkingCopy, 0, len(p.worktrees))
	for _, wc := range p.worktrees {
		out = append(out, wc)
	}
	return out, nil
}

// Diff returns the unified diff of the working copy against its base
// branch. A diff larger than maxDiffBytes yields an empty string and a nil
// error, which bounds memory use on runaway agent output.
func (p *Provider) Diff(ctx context.Context, name string) (string, error) {
	wc, err := p.get(name)
	if err != nil {
		return "", err
	}

	cmd := newNonInteractiveGitCmd(ctx, wc.Path, "diff", wc.BaseBranch, "--")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("diff pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("diff start: %w", err)
	}

	limited := io.LimitReader(stdout, maxDiffBytes+1)
	data, readErr := io.ReadAll(limited)
	if readErr == nil && len(data) > maxDiffBytes {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return "", nil
	}
	waitErr := cmd.Wait()
	if readErr != nil {
		return "", fmt.Errorf("diff read: %w", readErr)
	}
	if waitErr != nil {
		return "", fmt.Errorf("git diff: %w", waitErr)
	}
	return string(data), nil
}

// Status returns the short-form `git status` output for the working copy.
func (p *Provider) Status(ctx context.Context, name string) (string, error) {
	wc, err := p.get(name)
	if err != nil {
		return "", err
	}
	cmd := newNonInteractiveGitCmd(ctx, wc.Path, "status", "--short")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	return string(output), nil
}

// Commit stages all changes in the working copy and commits them with
// message. It reports false, nil when there is nothing to commit rather
// than treating an empty working tree as an error.
func (p *Provider) Commit(ctx context.Context, name, message string) (bool, error) {
	wc, err := p.get(name)
	if err != nil {
		return false, err
	}

	if err := newNonInteractiveGitCmd(ctx, wc.Path, "add", "-A").Run(); err != nil {
		return false, fmt.Errorf("git add: %w", err)
	}

	statusOut, err := newNonInteractiveGitCmd(ctx, wc.Path, "status", "--porcelain").Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	if len(bytes.TrimSpace(statusOut)) == 0 {
		return false, nil
	}

	var stderr bytes.Buffer
	cmd := newNonInteractiveGitCmd(ctx, wc.Path, "commit", "-m", message)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("git commit: %w: %s", err, stderr.String())
	}

	return true, nil
}

func (p *Provider) get(name string) (*WorkingCopy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wc, ok := p.worktrees[name]
	if !ok {
		return nil, ErrWorkingCopyNotFound
	}
	return wc, nil
}

// sanitizeForBranch lowercases name and replaces each character outside
// [a-z0-9-] with its own hyphen, without collapsing runs, then truncates to
// maxNameLen. Callers pass in names already sanitized by model.SanitizeName,
// so in practice this is idempotent; it stays here as a defensive fallback
// for the rare path that doesn't go through the coordinator.
func sanitizeForBranch(name string) string {
	lower := strings.ToLower(name)
	sanitized := invalidBranchChar.ReplaceAllString(lower, "-")
	if len(sanitized) > maxNameLen {
		sanitized = sanitized[:maxNameLen]
	}
	if sanitized == "" {
		sanitized = "workstream"
	}
	return sanitized
}
