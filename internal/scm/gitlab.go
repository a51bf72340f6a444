package scm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	gitlab "github.com/xanzy/go-gitlab"

	provErrors "provkit/internal/errors"
)

// GitLabResolver implements Resolver for projects hosted on GitLab.
type GitLabResolver struct {
	client *gitlab.Client
	token  string
}

// NewGitLabResolver creates a resolver against the GitLab instance at
// baseURL. GITLAB_PRIVATE_TOKEN is used when present; public projects
// resolve without it.
func NewGitLabResolver(baseURL string) (*GitLabResolver, error) {
	token := os.Getenv("GITLAB_PRIVATE_TOKEN")
	return newGitLabResolver(baseURL, token)
}

func newGitLabResolver(baseURL, token string) (*GitLabResolver, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("GitLab URL cannot be empty")
	}
	apiURL := strings.TrimSuffix(baseURL, "/") + "/api/v4"

	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(apiURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}

	return &GitLabResolver{
		client: client,
		token:  token,
	}, nil
}

// Resolve looks up project (a "namespace/name" path) and returns its HTTPS
// clone URL. An empty branch selects the project's default branch.
func (g *GitLabResolver) Resolve(ctx context.Context, project, branch string) (Source, error) {
	if project == "" {
		return Source{}, fmt.Errorf("GitLab project path cannot be empty")
	}

	slog.Info("Resolving GitLab project", "project", project)

	p, _, err := g.client.Projects.GetProject(project, nil, gitlab.WithContext(ctx))
	if err != nil {
		return Source{}, provErrors.NewSCMError(
			fmt.Sprintf("Cannot look up GitLab project %s", project),
			err.Error(),
			"Check the project path and set GITLAB_PRIVATE_TOKEN for private projects.",
			fmt.Errorf("failed to look up GitLab project %s: %w", project, err),
		)
	}
	if p.HTTPURLToRepo == "" {
		return Source{}, fmt.Errorf("GitLab project %s has no HTTPS clone URL", project)
	}

	if branch == "" {
		branch = p.DefaultBranch
	}
	if branch == "" {
		return Source{}, fmt.Errorf("GitLab project %s has no default branch", project)
	}

	slog.Info("Resolved GitLab project", "project", project, "url", p.HTTPURLToRepo, "branch", branch)
	return Source{
		URL:    p.HTTPURLToRepo,
		Branch: branch,
		Token:  g.token,
	}, nil
}
