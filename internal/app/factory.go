package app

import (
	"fmt"

	"github.com/spf13/afero"

	"provkit/internal/artifact"
	"provkit/internal/config"
	"provkit/internal/homes"
	"provkit/internal/provisioner"
	"provkit/internal/recipe"
	"provkit/internal/runtime"
	"provkit/internal/scm"
)

// DepsFactory builds the host collaborators recipes bind their steps to.
// Tests substitute their own factory to avoid touching the host.
type DepsFactory func(cfg *config.Config) (recipe.Deps, error)

// NewHostDeps wires the real implementations for cfg: subprocesses through
// ExecRuntime, apt through AptProvisioner, downloads over a pooled HTTP
// client, clones through go-git and home links on the local filesystem.
func NewHostDeps(cfg *config.Config) (recipe.Deps, error) {
	fs := afero.NewOsFs()
	commander := runtime.NewExecRuntime(cfg.Exec.Timeout)

	deps := recipe.Deps{
		Packages: provisioner.NewAptProvisioner(commander, fs),
		Fetcher:  artifact.NewDownloader(cfg.Download.Timeout),
		Cloner:   scm.NewGitCloner(),
		Homes:    homes.New(cfg.Links.UseraddFile, config.Fields(cfg.Links.Reserved)),
		FS:       fs,
	}

	if cfg.Source.GitLabProject != "" {
		resolver, err := scm.NewGitLabResolver(cfg.Source.GitLabURL)
		if err != nil {
			return recipe.Deps{}, fmt.Errorf("failed to create GitLab resolver: %w", err)
		}
		deps.Resolver = resolver
	}

	return deps, nil
}
