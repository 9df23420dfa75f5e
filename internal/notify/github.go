// File: internal/notify/github.go

// Package notify publishes run outcomes to external systems. The only
// notifier today is a GitHub commit status, so a red suite blocks the merge
// of the commit it ran against.
package notify

import (
	"context"
	"fmt"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

// GitHubNotifier sets a commit status on the run's commit.
type GitHubNotifier struct {
	cfg    config.GitHubConfig
	client *github.Client
	logger *zap.Logger
}

// NewGitHubNotifier builds a notifier authenticated with the configured
// token.
func NewGitHubNotifier(cfg config.GitHubConfig, logger *zap.Logger) *GitHubNotifier {
	return &GitHubNotifier{
		cfg:    cfg,
		client: github.NewClient(nil).WithAuthToken(cfg.Token),
		logger: logger.Named("notify"),
	}
}

// Publish sets success when every case passed and the run completed, failure
// otherwise. A run outside a git checkout has nothing to attach a status to.
func (n *GitHubNotifier) Publish(ctx context.Context, rec *schemas.RunRecord) error {
	if rec.Git == nil || rec.Git.Commit == "" {
		return fmt.Errorf("run has no commit to attach a status to")
	}

	state := "success"
	if rec.Stats.Failed > 0 || rec.HaltedModule != "" {
		state = "failure"
	}
	description := fmt.Sprintf("%d/%d passed", rec.Stats.Passed, rec.Stats.Total)
	if rec.HaltedModule != "" {
		description = fmt.Sprintf("halted in %s, %s", rec.HaltedModule, description)
	}

	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(n.cfg.Context),
	}
	_, _, err := n.client.Repositories.CreateStatus(ctx, n.cfg.RepoOwner, n.cfg.RepoName, rec.Git.Commit, status)
	if err != nil {
		return fmt.Errorf("setting commit status on %s: %w", rec.Git.Commit, err)
	}

	n.logger.Info("Commit status set.",
		zap.String("commit", rec.Git.Commit),
		zap.String("state", state),
		zap.String("description", description))
	return nil
}
