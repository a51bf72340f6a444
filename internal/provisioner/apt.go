package provisioner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"provkit/pkg/runtime"
)

// AptProvisioner implements PackageManager with apt-get, apt-key and gdebi.
type AptProvisioner struct {
	commander runtime.Commander
	fs        afero.Fs
}

// NewAptProvisioner creates a new AptProvisioner. Source files are written
// through fs so tests can substitute an in-memory filesystem.
func NewAptProvisioner(commander runtime.Commander, fs afero.Fs) *AptProvisioner {
	return &AptProvisioner{
		commander: commander,
		fs:        fs,
	}
}

var nonInteractive = map[string]string{"DEBIAN_FRONTEND": "noninteractive"}

// AddSource appends line to the sources file at path. A line that is already
// present is not written twice.
func (p *AptProvisioner) AddSource(path, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return fmt.Errorf("package source line cannot be empty")
	}

	if err := p.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create sources directory for %s: %w", path, err)
	}

	existing, err := afero.ReadFile(p.fs, path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read package source file %s: %w", path, err)
	}
	for _, l := range bytes.Split(existing, []byte("\n")) {
		if strings.TrimSpace(string(l)) == line {
			slog.Info("Package source already registered", "path", path)
			return nil
		}
	}

	f, err := p.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open package source file %s: %w", path, err)
	}
	defer f.Close()

	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		line = "\n" + line
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write package source file %s: %w", path, err)
	}

	slog.Info("Registered package source", "path", path)
	return nil
}

// TrustKey imports keyID from keyserver into the apt trust store.
func (p *AptProvisioner) TrustKey(ctx context.Context, keyserver, keyID string) error {
	return p.run(ctx, runtime.Command{
		Name: "apt-key",
		Args: []string{"adv", "--keyserver", keyserver, "--recv-keys", keyID},
	})
}

// RefreshIndex runs apt-get update.
func (p *AptProvisioner) RefreshIndex(ctx context.Context) error {
	return p.run(ctx, runtime.Command{
		Name: "apt-get",
		Args: []string{"update"},
		Env:  nonInteractive,
	})
}

// Install installs packages without recommended extras.
func (p *AptProvisioner) Install(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return fmt.Errorf("no packages to install")
	}
	args := append([]string{"install", "-y", "--no-install-recommends"}, packages...)
	return p.run(ctx, runtime.Command{
		Name: "apt-get",
		Args: args,
		Env:  nonInteractive,
	})
}

// ReconfigureRuntime runs R CMD javareconf.
func (p *AptProvisioner) ReconfigureRuntime(ctx context.Context) error {
	return p.run(ctx, runtime.Command{
		Name: "R",
		Args: []string{"CMD", "javareconf"},
	})
}

// InstallLocal installs a local package file with gdebi.
func (p *AptProvisioner) InstallLocal(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("package file not found: %s", path)
	}
	return p.run(ctx, runtime.Command{
		Name: "gdebi",
		Args: []string{"--non-interactive", path},
		Env:  nonInteractive,
	})
}

// run executes a command and streams its output to the diagnostic log.
func (p *AptProvisioner) run(ctx context.Context, cmd runtime.Command) error {
	reader, err := p.commander.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to run %s: %w", cmd.Name, err)
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxOutputLine)
	for scanner.Scan() {
		if line := cleanOutputLine(scanner.Text()); line != "" {
			slog.Debug("Command output", "command", cmd.Name, "line", line)
		}
	}

	// The command keeps writing after a scan error; drain so it is not cut
	// off by a closed pipe, and let its exit status decide the outcome.
	if err := scanner.Err(); err != nil {
		slog.Warn("Stopped logging command output", "command", cmd.Name, "error", err)
		if _, err := io.Copy(io.Discard, reader); err != nil {
			slog.Warn("Failed to drain command output", "command", cmd.Name, "error", err)
		}
	}

	if err := reader.Close(); err != nil {
		return err
	}

	slog.Info("Command completed successfully", "command", cmd.String())
	return nil
}

// maxOutputLine bounds a single line of logged command output.
const maxOutputLine = 1024 * 1024

// ansiRegex is a compiled regex for ANSI escape sequences
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// cleanOutputLine strips progress redraws and ANSI sequences from a line of
// package manager output.
func cleanOutputLine(line string) string {
	// apt progress bars redraw with carriage returns; keep the final frame.
	if i := strings.LastIndex(line, "\r"); i >= 0 {
		line = line[i+1:]
	}
	line = ansiRegex.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}
