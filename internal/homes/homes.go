package homes

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// FallbackRoot is used when the useradd defaults do not name a home root.
const FallbackRoot = "/home"

// Directory enumerates user home directories under the system's default
// home root.
type Directory struct {
	// UseraddFile is the KEY=VALUE defaults file consulted for HOME.
	UseraddFile string
	// Reserved names under the root that are never treated as homes.
	Reserved []string
}

// New creates a Directory reading useraddFile and skipping reserved names.
func New(useraddFile string, reserved []string) *Directory {
	return &Directory{UseraddFile: useraddFile, Reserved: reserved}
}

// Root returns the default home root. A missing defaults file or one without
// an active HOME entry selects FallbackRoot.
func (d *Directory) Root() (string, error) {
	if d.UseraddFile == "" {
		return FallbackRoot, nil
	}

	values, err := godotenv.Read(d.UseraddFile)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Useradd defaults not found, using fallback home root", "file", d.UseraddFile)
			return FallbackRoot, nil
		}
		return "", fmt.Errorf("failed to read useradd defaults %s: %w", d.UseraddFile, err)
	}

	if home := values["HOME"]; home != "" {
		return filepath.Clean(home), nil
	}
	return FallbackRoot, nil
}

// Entries lists the home directories under Root, excluding reserved names,
// dangling symlinks and anything that is not a directory.
func (d *Directory) Entries() ([]string, error) {
	root, err := d.Root()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list home directories in %s: %w", root, err)
	}

	var homes []string
	for _, entry := range entries {
		if d.reserved(entry.Name()) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			slog.Warn("Skipping dangling entry in home root", "path", path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to inspect home directory %s: %w", path, err)
		}
		if !info.IsDir() {
			slog.Warn("Skipping non-directory entry in home root", "path", path)
			continue
		}
		homes = append(homes, path)
	}
	return homes, nil
}

func (d *Directory) reserved(name string) bool {
	for _, r := range d.Reserved {
		if name == r {
			return true
		}
	}
	return false
}

// LinkAll creates linkName -> target inside every home directory and returns
// the links it created. Every link path is checked first; if any already
// exists nothing is created.
func (d *Directory) LinkAll(target, linkName string) ([]string, error) {
	homes, err := d.Entries()
	if err != nil {
		return nil, err
	}

	links := make([]string, 0, len(homes))
	for _, home := range homes {
		link := filepath.Join(home, linkName)
		if _, err := os.Lstat(link); err == nil {
			return nil, fmt.Errorf("link already exists: %s", link)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to inspect %s: %w", link, err)
		}
		links = append(links, link)
	}

	for _, link := range links {
		if err := os.Symlink(target, link); err != nil {
			return nil, fmt.Errorf("failed to create link %s: %w", link, err)
		}
		slog.Info("Linked home directory", "link", link, "target", target)
	}
	return links, nil
}
