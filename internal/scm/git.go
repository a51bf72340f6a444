package scm

import (
	"context"
	"fmt"
	"log/slog"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	provErrors "provkit/internal/errors"
)

// GitCloner implements Cloner with go-git.
type GitCloner struct {
	// Depth limits history; 1 keeps only the branch tip.
	Depth int
}

// NewGitCloner creates a cloner for shallow clones.
func NewGitCloner() *GitCloner {
	return &GitCloner{Depth: 1}
}

// Clone clones src.Branch of src.URL into dir.
func (g *GitCloner) Clone(ctx context.Context, src Source, dir string) error {
	if src.URL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if src.Branch == "" {
		return fmt.Errorf("branch cannot be empty for %s", src.URL)
	}

	slog.Info("Cloning repository", "url", src.URL, "branch", src.Branch, "dir", dir)

	opts := &git.CloneOptions{
		URL:           src.URL,
		ReferenceName: plumbing.NewBranchReferenceName(src.Branch),
		SingleBranch:  true,
		Depth:         g.Depth,
		Tags:          git.NoTags,
	}
	if src.Token != "" {
		opts.Auth = &http.BasicAuth{
			Username: "oauth2", // GitLab uses oauth2 as username for token auth
			Password: src.Token,
		}
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return provErrors.NewSCMError(
			fmt.Sprintf("Cannot clone %s", src.URL),
			err.Error(),
			fmt.Sprintf("Check that %s is reachable and has a branch named %s.", src.URL, src.Branch),
			fmt.Errorf("failed to clone %s (branch %s): %w", src.URL, src.Branch, err),
		)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD of %s: %w", src.URL, err)
	}

	slog.Info("Cloned repository", "url", src.URL, "commit", head.Hash().String())
	return nil
}
