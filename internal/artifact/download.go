package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	provErrors "provkit/internal/errors"
)

// DefaultTimeout bounds a single artifact download.
const DefaultTimeout = 10 * time.Minute

// Downloader fetches installer artifacts over HTTP.
type Downloader struct {
	client *http.Client
}

// NewDownloader creates a Downloader with a pooled client that gives up after
// timeout. A non-positive timeout selects DefaultTimeout.
func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	return &Downloader{client: client}
}

// NewDownloaderWithClient wraps an existing client.
func NewDownloaderWithClient(client *http.Client) *Downloader {
	return &Downloader{client: client}
}

// FileName derives the artifact file name from the last path element of rawURL.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid download URL %s: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("download URL %s has no file name", rawURL)
	}
	return name, nil
}

// Download fetches rawURL into dir/fileName and returns the written path.
// The body is written to a temporary file that is renamed into place once
// complete, so a failed transfer never leaves a partial artifact.
func (d *Downloader) Download(ctx context.Context, rawURL, dir, fileName string) (string, error) {
	if fileName == "" || strings.ContainsAny(fileName, `/\`) {
		return "", fmt.Errorf("invalid artifact file name %q", fileName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid download URL %s: %w", rawURL, err)
	}

	slog.Info("Downloading artifact", "url", rawURL, "dir", dir)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", provErrors.NewNetworkError(
			fmt.Sprintf("Cannot download %s", rawURL),
			err.Error(),
			"Check network access to the download host.",
			fmt.Errorf("failed to download %s: %w", rawURL, err),
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", provErrors.NewNetworkError(
			fmt.Sprintf("Cannot download %s", rawURL),
			"server returned "+resp.Status,
			"Check that download.url points at an existing artifact.",
			fmt.Errorf("failed to download %s: server returned %s", rawURL, resp.Status),
		)
	}

	dest := filepath.Join(dir, fileName)
	tmp := dest + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	written, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		if err := os.Remove(tmp); err != nil {
			slog.Warn("Failed to remove partial download", "path", tmp, "error", err)
		}
		if copyErr != nil {
			return "", provErrors.NewNetworkError(
				fmt.Sprintf("Cannot download %s", rawURL),
				copyErr.Error(),
				"Retry the run; the transfer was interrupted.",
				fmt.Errorf("failed to download %s: %w", rawURL, copyErr),
			)
		}
		return "", fmt.Errorf("failed to write %s: %w", tmp, closeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to move %s into place: %w", dest, err)
	}

	slog.Info("Downloaded artifact", "path", dest, "bytes", written)
	return dest, nil
}
