// File: internal/vcs/vcs.go

// Package vcs pins a run to the commit of the checkout it ran from, so a
// result in the history store can be traced back to the code under test.
package vcs

import (
	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// Describe reads HEAD, the branch name and the worktree dirty flag for the
// repository containing path. A nil return means "not a git checkout", which
// is a normal way to run the suite, not an error.
func Describe(path string, logger *zap.Logger) *schemas.VCSInfo {
	log := logger.Named("vcs")

	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		log.Debug("No git repository found.", zap.String("path", path), zap.Error(err))
		return nil
	}

	head, err := repo.Head()
	if err != nil {
		log.Debug("Cannot resolve HEAD.", zap.Error(err))
		return nil
	}

	info := &schemas.VCSInfo{
		Commit: head.Hash().String(),
		Branch: head.Name().Short(),
	}

	worktree, err := repo.Worktree()
	if err != nil {
		// Bare repository; commit and branch are still worth reporting.
		return info
	}
	status, err := worktree.Status()
	if err != nil {
		log.Debug("Cannot read worktree status.", zap.Error(err))
		return info
	}
	info.Dirty = !status.IsClean()
	return info
}
