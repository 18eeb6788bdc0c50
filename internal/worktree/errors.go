// Package worktree implements the Working-Copy Provider (C3): isolated git
// worktrees, one per workstream, each on its own branch.
package worktree

import "errors"

var (
	// ErrNotGitRepo is returned when the configured repository root is not a git repository.
	ErrNotGitRepo = errors.New("repository root is not a git repository")

	// ErrInvalidBaseBranch is returned when the base branch does not exist.
	ErrInvalidBaseBranch = errors.New("base branch does not exist")

	// ErrWorkingCopyNotFound is returned when the named working copy is unknown to the provider.
	ErrWorkingCopyNotFound = errors.New("working copy not found")
)
