package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provkit/internal/config"
	provErrors "provkit/internal/errors"
	"provkit/internal/recipe"
	"provkit/internal/scm"
	"provkit/internal/ui"
	"provkit/pkg/provision"
	"provkit/pkg/runtime"
)

// fakePackages records package manager calls and can fail Install.
type fakePackages struct {
	calls      []string
	installErr error
}

func (f *fakePackages) AddSource(path, line string) error {
	f.calls = append(f.calls, "source "+path)
	return nil
}

func (f *fakePackages) TrustKey(ctx context.Context, keyserver, keyID string) error {
	f.calls = append(f.calls, "key "+keyID)
	return nil
}

func (f *fakePackages) RefreshIndex(ctx context.Context) error {
	f.calls = append(f.calls, "update")
	return nil
}

func (f *fakePackages) Install(ctx context.Context, packages []string) error {
	f.calls = append(f.calls, "install "+strings.Join(packages, " "))
	return f.installErr
}

func (f *fakePackages) ReconfigureRuntime(ctx context.Context) error {
	f.calls = append(f.calls, "javareconf")
	return nil
}

func (f *fakePackages) InstallLocal(ctx context.Context, path string) error {
	f.calls = append(f.calls, "gdebi "+filepath.Base(path))
	return nil
}

type fakeCloner struct {
	calls int
}

func (f *fakeCloner) Clone(ctx context.Context, src scm.Source, dir string) error {
	f.calls++
	path := filepath.Join(dir, src.Subdir, "lesson.R")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("x <- 1"), 0644)
}

type fakeLinker struct {
	calls int
}

func (f *fakeLinker) LinkAll(target, linkName string) ([]string, error) {
	f.calls++
	return []string{"/home/a/" + linkName}, nil
}

type appFixture struct {
	app      *App
	root     string
	packages *fakePackages
	cloner   *fakeCloner
	linker   *fakeLinker
	stderr   *bytes.Buffer
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	root := t.TempDir()
	t.Setenv("PROVKIT_PATHS_LOG_DIR", filepath.Join(root, "log"))
	t.Setenv("PROVKIT_PATHS_CONFIG_DIR", filepath.Join(root, "etc"))
	t.Setenv("PROVKIT_LINKS_DEST_DIR", filepath.Join(root, "opt", "code"))

	f := &appFixture{
		root:     root,
		packages: &fakePackages{},
		cloner:   &fakeCloner{},
		linker:   &fakeLinker{},
		stderr:   &bytes.Buffer{},
	}
	f.app = New(Options{
		Console: ui.NewConsoleWithWriters(&bytes.Buffer{}, f.stderr),
		Deps: func(cfg *config.Config) (recipe.Deps, error) {
			return recipe.Deps{
				Packages: f.packages,
				Cloner:   f.cloner,
				Homes:    f.linker,
				FS:       afero.NewMemMapFs(),
			}, nil
		},
		Runner: RunnerOptions{
			ScratchParent: t.TempDir(),
			Clock:         func() time.Time { return fixedStart },
		},
	})
	return f
}

func (f *appFixture) statusPath(name string) string {
	return filepath.Join(f.root, "etc", name+".done")
}

func (f *appFixture) logContent(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, "log", name+".log"))
	require.NoError(t, err)
	return string(data)
}

func TestProvision_SucceedsThenSkips(t *testing.T) {
	f := newAppFixture(t)

	result, err := f.app.Provision(context.Background(), "r-jags")
	require.NoError(t, err)
	assert.Equal(t, provision.ResultSucceeded, result.Kind)
	assert.Equal(t, []string{
		"source " + "/etc/apt/sources.list.d/provkit-cran.list",
		"key E298A3A825C0D65DFD57CBB651716619E084DAB9",
		"update",
		"install r-base r-base-dev jags r-cran-rjags",
	}, f.packages.calls)
	assert.FileExists(t, f.statusPath("r-jags"))

	f.packages.calls = nil
	result, err = f.app.Provision(context.Background(), "r-jags")
	require.NoError(t, err)
	assert.Equal(t, provision.ResultSkipped, result.Kind)
	assert.Empty(t, f.packages.calls, "a completed recipe must not run again")

	log := f.logContent(t, "r-jags")
	assert.Equal(t, 1, strings.Count(log, "already been provisioned"))
}

func TestProvision_InstallFailure(t *testing.T) {
	f := newAppFixture(t)
	f.packages.installErr = &runtime.ExitError{
		Command: "apt-get install -y --no-install-recommends r-base r-base-dev jags r-cran-rjags",
		Code:    100,
		Err:     errors.New("exit status 100"),
	}

	result, err := f.app.Provision(context.Background(), "r-jags")
	require.NoError(t, err)
	assert.Equal(t, provision.ResultFailed, result.Kind)
	assert.Equal(t, 100, result.ExitCode)
	assert.NoFileExists(t, f.statusPath("r-jags"))

	lines := strings.Split(strings.TrimSpace(f.logContent(t, "r-jags")), "\n")
	last := lines[len(lines)-1]
	assert.Contains(t, last, "** Installing R and JAGS packages (r-base r-base-dev jags r-cran-rjags) failed")
	assert.Contains(t, f.stderr.String(), "** Installing R and JAGS packages")
}

func TestProvision_DestinationExistsBeforeClone(t *testing.T) {
	f := newAppFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "opt", "code"), 0755))

	result, err := f.app.Provision(context.Background(), "code-links")
	require.NoError(t, err)
	assert.Equal(t, provision.ResultFailed, result.Kind)
	assert.Contains(t, result.Message, "destination already exists")
	assert.Equal(t, 0, f.cloner.calls, "the clone must not start when the destination exists")
	assert.Equal(t, 0, f.linker.calls)
	assert.NoFileExists(t, f.statusPath("code-links"))
}

func TestProvision_CodeLinks(t *testing.T) {
	f := newAppFixture(t)

	result, err := f.app.Provision(context.Background(), "code-links")
	require.NoError(t, err)
	assert.Equal(t, provision.ResultSucceeded, result.Kind)
	assert.Equal(t, 1, f.cloner.calls)
	assert.Equal(t, 1, f.linker.calls)
	assert.FileExists(t, filepath.Join(f.root, "opt", "code", "lesson.R"))
}

func TestProvision_UnknownRecipe(t *testing.T) {
	f := newAppFixture(t)

	_, err := f.app.Provision(context.Background(), "r-python")
	require.Error(t, err)
	assert.ErrorIs(t, err, provErrors.ErrRecipeNotFound)
}

func TestProvision_InvalidConfig(t *testing.T) {
	f := newAppFixture(t)
	t.Setenv("PROVKIT_APT_MIRROR", "not a url")

	_, err := f.app.Provision(context.Background(), "r-base")
	require.Error(t, err)
	assert.ErrorIs(t, err, provErrors.ErrConfigInvalid)

	_, statErr := os.Stat(filepath.Join(f.root, "log"))
	assert.True(t, os.IsNotExist(statErr), "nothing is prepared for an invalid configuration")
}

func TestPlan(t *testing.T) {
	f := newAppFixture(t)

	plan, err := f.app.Plan("rstudio-server")
	require.NoError(t, err)
	assert.Equal(t, "rstudio-server", plan.Recipe.Name)
	assert.Len(t, plan.Descriptions(), 6)
	assert.Equal(t, "Installing rstudio-server-2023.12.1-402-amd64.deb", plan.Descriptions()[5])
	assert.Empty(t, f.packages.calls, "planning must not execute steps")
}

func TestStatusAndReset(t *testing.T) {
	f := newAppFixture(t)

	result, err := f.app.Provision(context.Background(), "r-base")
	require.NoError(t, err)
	require.Equal(t, provision.ResultSucceeded, result.Kind)

	entries, err := f.app.Status()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	byName := map[string]StatusEntry{}
	for _, e := range entries {
		byName[e.Recipe] = e
	}
	assert.True(t, byName["r-base"].Done)
	assert.NotEmpty(t, byName["r-base"].RunID)
	assert.False(t, byName["r-base"].CompletedAt.IsZero())
	assert.False(t, byName["r-jags"].Done)
	assert.Equal(t, f.statusPath("r-jags"), byName["r-jags"].StatusPath)

	path, removed, err := f.app.Reset("r-base")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, f.statusPath("r-base"), path)
	assert.NoFileExists(t, path)

	_, removed, err = f.app.Reset("r-base")
	require.NoError(t, err)
	assert.False(t, removed)
}
