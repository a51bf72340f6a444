package recipe

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"provkit/internal/config"
	"provkit/pkg/provision"
)

type MockPackageManager struct {
	mock.Mock
}

func (m *MockPackageManager) AddSource(path, line string) error {
	return m.Called(path, line).Error(0)
}

func (m *MockPackageManager) TrustKey(ctx context.Context, keyserver, keyID string) error {
	return m.Called(keyserver, keyID).Error(0)
}

func (m *MockPackageManager) RefreshIndex(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockPackageManager) Install(ctx context.Context, packages []string) error {
	return m.Called(packages).Error(0)
}

func (m *MockPackageManager) ReconfigureRuntime(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockPackageManager) InstallLocal(ctx context.Context, path string) error {
	return m.Called(path).Error(0)
}

func load(t *testing.T, name string) (Recipe, *config.Config) {
	t.Helper()
	r, err := Get(name)
	require.NoError(t, err)
	cfg, err := config.Load(r.Defaults(), "")
	require.NoError(t, err)
	return r, cfg
}

func descriptions(steps []provision.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Description
	}
	return out
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"code-links", "r-base", "r-jags", "rstudio-server"}, Names())

	_, err := Get("r-python")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown recipe "r-python"`)

	r, err := Get("rstudio-server")
	require.NoError(t, err)
	assert.Equal(t, config.Defaults{Name: "rstudio-server", Label: "RStudio Server"}, r.Defaults())
}

func TestRecipes_StepPlans(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{
			name: "r-base",
			want: []string{
				"Registering the CRAN repository in /etc/apt/sources.list.d/provkit-cran.list",
				"Trusting signing key E298A3A825C0D65DFD57CBB651716619E084DAB9 from keyserver.ubuntu.com",
				"Refreshing the package index",
				"Installing R packages (r-base r-base-dev libcurl4-openssl-dev libssl-dev libxml2-dev mesa-common-dev libglu1-mesa-dev)",
				"Reconfiguring R for Java",
				"Writing helper script /usr/local/bin/Rsite",
			},
		},
		{
			name: "r-jags",
			want: []string{
				"Registering the CRAN repository in /etc/apt/sources.list.d/provkit-cran.list",
				"Trusting signing key E298A3A825C0D65DFD57CBB651716619E084DAB9 from keyserver.ubuntu.com",
				"Refreshing the package index",
				"Installing R and JAGS packages (r-base r-base-dev jags r-cran-rjags)",
			},
		},
		{
			name: "rstudio-server",
			want: []string{
				"Registering the CRAN repository in /etc/apt/sources.list.d/provkit-cran.list",
				"Trusting signing key E298A3A825C0D65DFD57CBB651716619E084DAB9 from keyserver.ubuntu.com",
				"Refreshing the package index",
				"Installing R packages and gdebi (r-base r-base-dev gdebi-core)",
				"Downloading https://download2.rstudio.org/server/jammy/amd64/rstudio-server-2023.12.1-402-amd64.deb",
				"Installing rstudio-server-2023.12.1-402-amd64.deb",
			},
		},
		{
			name: "code-links",
			want: []string{
				"Copying code from https://github.com/rstudio/rstudio-conf.git (master) to /opt/provkit/code",
				"Linking /opt/provkit/code into every home directory as code",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, cfg := load(t, tt.name)
			steps := r.Build(cfg, Deps{})
			assert.Equal(t, tt.want, descriptions(steps))
			for _, s := range steps {
				assert.NotNil(t, s.Action, "step %q has no action", s.Description)
			}
		})
	}
}

func TestCodeLinks_GitLabProject(t *testing.T) {
	t.Setenv("PROVKIT_SOURCE_GITLAB_PROJECT", "teaching/r-course")
	r, cfg := load(t, "code-links")

	steps := r.Build(cfg, Deps{})
	require.Len(t, steps, 2)
	assert.Equal(t, "Copying code from GitLab project teaching/r-course to /opt/provkit/code", steps[0].Description)
}

func TestInstallStep_DeduplicatesPackages(t *testing.T) {
	t.Setenv("PROVKIT_PACKAGES_EXTRA", "mesa-common-dev libglu1-mesa-dev mesa-common-dev r-base")
	r, cfg := load(t, "r-base")

	pm := new(MockPackageManager)
	pm.On("Install", []string{"r-base", "r-base-dev", "mesa-common-dev", "libglu1-mesa-dev"}).Return(nil)

	steps := r.Build(cfg, Deps{Packages: pm})
	install := steps[3]
	assert.Equal(t, "Installing R packages (r-base r-base-dev mesa-common-dev libglu1-mesa-dev)", install.Description)

	ws := provision.NewWorkspace(t.TempDir(), "")
	defer ws.Close()
	require.NoError(t, install.Action(context.Background(), ws))
	pm.AssertExpectations(t)
}

func TestRBase_ExecutesAgainstPackageManager(t *testing.T) {
	r, cfg := load(t, "r-base")
	fs := afero.NewMemMapFs()

	pm := new(MockPackageManager)
	pm.On("AddSource", "/etc/apt/sources.list.d/provkit-cran.list", "deb https://cloud.r-project.org/bin/linux/ubuntu jammy-cran40/").Return(nil)
	pm.On("TrustKey", "keyserver.ubuntu.com", "E298A3A825C0D65DFD57CBB651716619E084DAB9").Return(nil)
	pm.On("RefreshIndex").Return(nil)
	pm.On("Install", mock.Anything).Return(nil)
	pm.On("ReconfigureRuntime").Return(nil)

	ws := provision.NewWorkspace(t.TempDir(), "")
	defer ws.Close()
	for _, step := range r.Build(cfg, Deps{Packages: pm, FS: fs}) {
		require.NoError(t, step.Action(context.Background(), ws), step.Description)
	}
	pm.AssertExpectations(t)

	script, err := afero.ReadFile(fs, "/usr/local/bin/Rsite")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(script), "#!/bin/sh\n"))
	assert.Contains(t, string(script), `lib = "/usr/local/lib/R/site-library"`)
	assert.Contains(t, string(script), `repos = "https://cloud.r-project.org"`)

	info, err := fs.Stat("/usr/local/bin/Rsite")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestSourceLine(t *testing.T) {
	cfg := &config.Config{Apt: config.AptConfig{Mirror: "https://mirror.example.org/cran/", Release: "noble"}}
	assert.Equal(t, "deb https://mirror.example.org/cran/bin/linux/ubuntu noble-cran40/", SourceLine(cfg))
}
