package action

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"github.com/spf13/afero"

	"provkit/internal/provisioner"
	"provkit/internal/scm"
	"provkit/internal/subtree"
	"provkit/pkg/provision"
)

// Fetcher downloads a URL into a directory.
type Fetcher interface {
	Download(ctx context.Context, url, dir, fileName string) (string, error)
}

// HomeLinker places a link in every user home directory.
type HomeLinker interface {
	LinkAll(target, linkName string) ([]string, error)
}

// RegisterPackageSource appends line to the apt sources file at path.
func RegisterPackageSource(pm provisioner.PackageManager, path, line string) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		return pm.AddSource(path, line)
	}
}

// TrustSigningKey imports keyID from keyserver.
func TrustSigningKey(pm provisioner.PackageManager, keyserver, keyID string) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		return pm.TrustKey(ctx, keyserver, keyID)
	}
}

// RefreshPackageIndex re-reads the package lists.
func RefreshPackageIndex(pm provisioner.PackageManager) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		return pm.RefreshIndex(ctx)
	}
}

// InstallPackages installs packages, each at most once, in first-seen order.
func InstallPackages(pm provisioner.PackageManager, packages []string) provision.Action {
	pkgs := Dedupe(packages)
	return func(ctx context.Context, ws *provision.Workspace) error {
		if len(pkgs) == 0 {
			return fmt.Errorf("no packages to install")
		}
		return pm.Install(ctx, pkgs)
	}
}

// ReconfigureRuntime re-detects the Java setup of the R runtime.
func ReconfigureRuntime(pm provisioner.PackageManager) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		return pm.ReconfigureRuntime(ctx)
	}
}

// DownloadArtifact fetches url into the run's scratch directory as fileName.
func DownloadArtifact(f Fetcher, url, fileName string) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		dir, err := ws.ScratchDir()
		if err != nil {
			return err
		}
		_, err = f.Download(ctx, url, dir, fileName)
		return err
	}
}

// InstallArtifact installs the package file previously downloaded into the
// scratch directory as fileName.
func InstallArtifact(pm provisioner.PackageManager, fileName string) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		dir, err := ws.ScratchDir()
		if err != nil {
			return err
		}
		return pm.InstallLocal(ctx, filepath.Join(dir, fileName))
	}
}

// WriteGeneratedFile renders tmpl with data and writes the result to path
// as an executable file, replacing any previous content.
func WriteGeneratedFile(fs afero.Fs, path string, tmpl *template.Template, data any) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return fmt.Errorf("failed to render %s: %w", path, err)
		}
		if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := afero.WriteFile(fs, path, buf.Bytes(), 0755); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		// WriteFile only applies the mode when it creates the file.
		if err := fs.Chmod(path, 0755); err != nil {
			return fmt.Errorf("failed to make %s executable: %w", path, err)
		}
		slog.Info("Wrote generated file", "path", path)
		return nil
	}
}

// CloneRepositorySubtree copies src.Subdir of the repository to dest. It
// refuses before contacting the remote if dest already exists.
func CloneRepositorySubtree(cloner scm.Cloner, src scm.Source, dest string) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		if err := ensureAbsent(dest); err != nil {
			return err
		}
		return cloneSubtree(ctx, ws, cloner, src, dest)
	}
}

// CloneProjectSubtree is CloneRepositorySubtree for a project whose clone URL
// and default branch are looked up through resolver.
func CloneProjectSubtree(resolver scm.Resolver, cloner scm.Cloner, project, branch, subdir, dest string) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		if err := ensureAbsent(dest); err != nil {
			return err
		}
		src, err := resolver.Resolve(ctx, project, branch)
		if err != nil {
			return err
		}
		src.Subdir = subdir
		return cloneSubtree(ctx, ws, cloner, src, dest)
	}
}

func ensureAbsent(dest string) error {
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("destination already exists: %s", dest)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to inspect destination %s: %w", dest, err)
	}
	return nil
}

func cloneSubtree(ctx context.Context, ws *provision.Workspace, cloner scm.Cloner, src scm.Source, dest string) error {
	scratch, err := ws.ScratchDir()
	if err != nil {
		return err
	}
	checkout := filepath.Join(scratch, "checkout")

	if err := cloner.Clone(ctx, src, checkout); err != nil {
		return err
	}

	subdir := filepath.Join(checkout, filepath.FromSlash(src.Subdir))
	info, err := os.Stat(subdir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("subdirectory %s not found in %s", src.Subdir, src.URL)
	}

	if paths, err := subtree.Plan(subdir, dest); err == nil {
		slog.Debug("Copying subtree", "source", src.Subdir, "dest", dest, "entries", len(paths))
	}
	return subtree.Copy(subdir, dest)
}

// SymlinkIntoHomeDirectories links linkName to target in every home
// directory.
func SymlinkIntoHomeDirectories(linker HomeLinker, target, linkName string) provision.Action {
	return func(ctx context.Context, ws *provision.Workspace) error {
		links, err := linker.LinkAll(target, linkName)
		if err != nil {
			return err
		}
		slog.Info("Linked home directories", "count", len(links), "target", target)
		return nil
	}
}

// Dedupe returns list without repeated or empty entries, keeping the first
// occurrence of each.
func Dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
