package recipe

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"provkit/internal/action"
	"provkit/internal/config"
	"provkit/internal/scm"
	"provkit/pkg/provision"
)

func init() {
	register(Recipe{Name: "r-base", Label: "R base system", Build: buildRBase})
	register(Recipe{Name: "r-jags", Label: "R with JAGS", Build: buildRJags})
	register(Recipe{Name: "rstudio-server", Label: "RStudio Server", Build: buildRStudioServer})
	register(Recipe{Name: "code-links", Label: "Course code links", Build: buildCodeLinks})
}

// helperTemplate installs R packages into the shared site library.
var helperTemplate = template.Must(template.New("helper").Parse(`#!/bin/sh
# Generated by provkit. Installs R packages into the site library.
# Usage: {{.Name}} pkg [pkg...]
exec Rscript -e 'install.packages(commandArgs(TRUE), lib = "{{.LibDir}}", repos = "{{.Mirror}}")' "$@"
`))

type helperData struct {
	Name   string
	LibDir string
	Mirror string
}

// SourceLine is the apt source entry for the CRAN Ubuntu repository.
func SourceLine(cfg *config.Config) string {
	return fmt.Sprintf("deb %s/bin/linux/ubuntu %s-cran40/", strings.TrimSuffix(cfg.Apt.Mirror, "/"), cfg.Apt.Release)
}

// SourceFile is the apt sources file provkit manages.
func SourceFile(cfg *config.Config) string {
	return filepath.Join(cfg.Apt.SourcesDir, "provkit-cran.list")
}

// aptSetup registers the CRAN repository, trusts its key and refreshes the
// index. Every apt-based recipe starts with it.
func aptSetup(cfg *config.Config, deps Deps) []provision.Step {
	return []provision.Step{
		{
			Description: fmt.Sprintf("Registering the CRAN repository in %s", SourceFile(cfg)),
			Action:      action.RegisterPackageSource(deps.Packages, SourceFile(cfg), SourceLine(cfg)),
		},
		{
			Description: fmt.Sprintf("Trusting signing key %s from %s", cfg.Apt.KeyID, cfg.Apt.Keyserver),
			Action:      action.TrustSigningKey(deps.Packages, cfg.Apt.Keyserver, cfg.Apt.KeyID),
		},
		{
			Description: "Refreshing the package index",
			Action:      action.RefreshPackageIndex(deps.Packages),
		},
	}
}

func installStep(deps Deps, what string, lists ...string) provision.Step {
	var pkgs []string
	for _, l := range lists {
		pkgs = append(pkgs, config.Fields(l)...)
	}
	pkgs = action.Dedupe(pkgs)
	return provision.Step{
		Description: fmt.Sprintf("Installing %s (%s)", what, strings.Join(pkgs, " ")),
		Action:      action.InstallPackages(deps.Packages, pkgs),
	}
}

func buildRBase(cfg *config.Config, deps Deps) []provision.Step {
	helperPath := filepath.Join(cfg.Helper.BinDir, cfg.Helper.Name)
	steps := aptSetup(cfg, deps)
	return append(steps,
		installStep(deps, "R packages", cfg.Packages.Base, cfg.Packages.Extra),
		provision.Step{
			Description: "Reconfiguring R for Java",
			Action:      action.ReconfigureRuntime(deps.Packages),
		},
		provision.Step{
			Description: fmt.Sprintf("Writing helper script %s", helperPath),
			Action: action.WriteGeneratedFile(deps.FS, helperPath, helperTemplate, helperData{
				Name:   cfg.Helper.Name,
				LibDir: cfg.Helper.LibDir,
				Mirror: cfg.Apt.Mirror,
			}),
		},
	)
}

func buildRJags(cfg *config.Config, deps Deps) []provision.Step {
	steps := aptSetup(cfg, deps)
	return append(steps,
		installStep(deps, "R and JAGS packages", cfg.Packages.Base, cfg.Packages.Jags),
	)
}

func buildRStudioServer(cfg *config.Config, deps Deps) []provision.Step {
	steps := aptSetup(cfg, deps)
	return append(steps,
		installStep(deps, "R packages and gdebi", cfg.Packages.Base, "gdebi-core"),
		provision.Step{
			Description: fmt.Sprintf("Downloading %s", cfg.Download.URL),
			Action:      action.DownloadArtifact(deps.Fetcher, cfg.Download.URL, cfg.Download.File),
		},
		provision.Step{
			Description: fmt.Sprintf("Installing %s", cfg.Download.File),
			Action:      action.InstallArtifact(deps.Packages, cfg.Download.File),
		},
	)
}

func buildCodeLinks(cfg *config.Config, deps Deps) []provision.Step {
	clone := provision.Step{
		Description: fmt.Sprintf("Copying %s from %s (%s) to %s", cfg.Source.Subdir, cfg.Source.Repo, cfg.Source.Branch, cfg.Links.DestDir),
		Action: action.CloneRepositorySubtree(deps.Cloner, scm.Source{
			URL:    cfg.Source.Repo,
			Branch: cfg.Source.Branch,
			Subdir: cfg.Source.Subdir,
		}, cfg.Links.DestDir),
	}
	if cfg.Source.GitLabProject != "" {
		clone = provision.Step{
			Description: fmt.Sprintf("Copying %s from GitLab project %s to %s", cfg.Source.Subdir, cfg.Source.GitLabProject, cfg.Links.DestDir),
			Action: action.CloneProjectSubtree(deps.Resolver, deps.Cloner,
				cfg.Source.GitLabProject, cfg.Source.Branch, cfg.Source.Subdir, cfg.Links.DestDir),
		}
	}

	return []provision.Step{
		clone,
		{
			Description: fmt.Sprintf("Linking %s into every home directory as %s", cfg.Links.DestDir, cfg.Links.Alias),
			Action:      action.SymlinkIntoHomeDirectories(deps.Homes, cfg.Links.DestDir, cfg.Links.Alias),
		},
	}
}
