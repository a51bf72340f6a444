package provisioner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"provkit/pkg/runtime"
)

// MockCommander is a mock implementation of the Commander interface
type MockCommander struct {
	*mock.Mock
}

func NewMockCommander() *MockCommander {
	return &MockCommander{Mock: &mock.Mock{}}
}

func (m *MockCommander) Run(ctx context.Context, cmd runtime.Command) (io.ReadCloser, error) {
	args := m.Called(ctx, cmd)
	if rc, ok := args.Get(0).(io.ReadCloser); ok {
		return rc, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockReadCloser returns fixed output and a fixed close error.
type MockReadCloser struct {
	io.Reader
	closeErr error
}

func newOutput(data string, closeErr error) *MockReadCloser {
	return &MockReadCloser{Reader: strings.NewReader(data), closeErr: closeErr}
}

func (m *MockReadCloser) Close() error {
	return m.closeErr
}

func commandNamed(name string, args ...string) interface{} {
	return mock.MatchedBy(func(cmd runtime.Command) bool {
		if cmd.Name != name {
			return false
		}
		for _, a := range args {
			found := false
			for _, got := range cmd.Args {
				if got == a {
					found = true
				}
			}
			if !found {
				return false
			}
		}
		return true
	})
}

func TestAptProvisioner_Commands(t *testing.T) {
	tests := []struct {
		name          string
		call          func(p *AptProvisioner) error
		setupMock     func(*MockCommander)
		expectError   bool
		errorContains string
		exitCode      int
	}{
		{
			name: "trust key",
			call: func(p *AptProvisioner) error {
				return p.TrustKey(context.Background(), "keyserver.ubuntu.com", "ABCDEF")
			},
			setupMock: func(m *MockCommander) {
				m.On("Run", mock.Anything, commandNamed("apt-key", "--recv-keys", "ABCDEF", "keyserver.ubuntu.com")).
					Return(newOutput("gpg: key imported\n", nil), nil)
			},
		},
		{
			name: "refresh index",
			call: func(p *AptProvisioner) error { return p.RefreshIndex(context.Background()) },
			setupMock: func(m *MockCommander) {
				m.On("Run", mock.Anything, commandNamed("apt-get", "update")).
					Return(newOutput("Reading package lists... Done\n", nil), nil)
			},
		},
		{
			name: "install packages",
			call: func(p *AptProvisioner) error {
				return p.Install(context.Background(), []string{"r-base", "r-base-dev"})
			},
			setupMock: func(m *MockCommander) {
				m.On("Run", mock.Anything, commandNamed("apt-get", "install", "-y", "r-base", "r-base-dev")).
					Return(newOutput("", nil), nil)
			},
		},
		{
			name: "install failure keeps exit code",
			call: func(p *AptProvisioner) error {
				return p.Install(context.Background(), []string{"no-such-package"})
			},
			setupMock: func(m *MockCommander) {
				m.On("Run", mock.Anything, commandNamed("apt-get", "no-such-package")).
					Return(newOutput("E: Unable to locate package no-such-package\n", &runtime.ExitError{Command: "apt-get", Code: 100}), nil)
			},
			expectError:   true,
			errorContains: "exited with code 100",
			exitCode:      100,
		},
		{
			name: "command cannot start",
			call: func(p *AptProvisioner) error { return p.ReconfigureRuntime(context.Background()) },
			setupMock: func(m *MockCommander) {
				m.On("Run", mock.Anything, commandNamed("R", "CMD", "javareconf")).
					Return(nil, errors.New("executable file not found"))
			},
			expectError:   true,
			errorContains: "failed to run R",
			exitCode:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockCommander()
			tt.setupMock(m)

			p := NewAptProvisioner(m, afero.NewMemMapFs())
			err := tt.call(p)

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				assert.Equal(t, tt.exitCode, runtime.ExitCode(err))
			} else {
				assert.NoError(t, err)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestAptProvisioner_InstallRequiresPackages(t *testing.T) {
	m := NewMockCommander()
	p := NewAptProvisioner(m, afero.NewMemMapFs())

	err := p.Install(context.Background(), nil)
	require.Error(t, err)
	m.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestAptProvisioner_AddSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := NewAptProvisioner(NewMockCommander(), fs)
	path := "/etc/apt/sources.list.d/cran.list"
	line := "deb https://cloud.r-project.org/bin/linux/ubuntu jammy-cran40/"

	require.NoError(t, p.AddSource(path, line))
	require.NoError(t, p.AddSource(path, line))

	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, line+"\n", string(content))

	require.NoError(t, p.AddSource(path, "deb http://example.org jammy main"))
	content, err = afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(content), "\n"))
}

func TestAptProvisioner_AddSource_Errors(t *testing.T) {
	p := NewAptProvisioner(NewMockCommander(), afero.NewMemMapFs())
	assert.Error(t, p.AddSource("/etc/apt/sources.list.d/x.list", "   "))

	ro := NewAptProvisioner(NewMockCommander(), afero.NewReadOnlyFs(afero.NewMemMapFs()))
	err := ro.AddSource("/etc/apt/sources.list.d/x.list", "deb http://example.org jammy main")
	assert.Error(t, err)
}

func TestAptProvisioner_InstallLocal(t *testing.T) {
	dir := t.TempDir()
	deb := filepath.Join(dir, "rstudio-server.deb")
	require.NoError(t, os.WriteFile(deb, []byte("deb"), 0644))

	m := NewMockCommander()
	m.On("Run", mock.Anything, commandNamed("gdebi", "--non-interactive", deb)).Return(newOutput("", nil), nil)

	p := NewAptProvisioner(m, afero.NewMemMapFs())
	require.NoError(t, p.InstallLocal(context.Background(), deb))
	m.AssertExpectations(t)

	err := p.InstallLocal(context.Background(), filepath.Join(dir, "missing.deb"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package file not found")
}

func TestAptProvisioner_LongOutputLines(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{name: "progress redraw over 64KB", output: strings.Repeat("Progress: 42%\r", 6000) + "done\n"},
		{name: "line over the buffer limit", output: strings.Repeat("x", maxOutputLine+10) + "\nSetting up r-base\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := newOutput(tt.output, nil)
			m := NewMockCommander()
			m.On("Run", mock.Anything, commandNamed("apt-get", "update")).Return(output, nil)

			p := NewAptProvisioner(m, afero.NewMemMapFs())
			require.NoError(t, p.RefreshIndex(context.Background()))
			m.AssertExpectations(t)

			rest, err := io.ReadAll(output)
			require.NoError(t, err)
			assert.Empty(t, rest, "all output should be consumed before the command is closed")
		})
	}
}

func TestCleanOutputLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  plain line  ", "plain line"},
		{"\x1b[32mgreen\x1b[0m", "green"},
		{"Progress: 10%\rProgress: 100%", "Progress: 100%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanOutputLine(tt.in))
	}
}
