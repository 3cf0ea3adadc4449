// ABOUTME: Album art downloader for track metadata
// ABOUTME: Fetches albumArtURI images into a content-addressed cache directory
package artwork

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxSize bounds a single artwork download
const MaxSize = 10 << 20

// Downloader manages artwork downloads
type Downloader struct {
	cacheDir string
	client   *http.Client

	mu          sync.Mutex
	currentPath string
}

// NewDownloader creates a downloader caching into dir, or into a
// directory under the system temp dir when dir is empty
func NewDownloader(dir string) (*Downloader, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "ohreceiver-artwork")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &Downloader{
		cacheDir: dir,
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Download fetches artwork from url into the cache and returns its path.
// An empty url returns an empty path.
func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", nil
	}

	hash := sha256.Sum256([]byte(url))
	cachePath := filepath.Join(d.cacheDir, fmt.Sprintf("%x%s", hash[:8], getExtension(url)))
	log := logrus.WithFields(logrus.Fields{"url": url, "path": cachePath})

	if _, err := os.Stat(cachePath); err == nil {
		log.Debug("Artwork cache hit")
		d.setCurrent(cachePath)
		return cachePath, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid artwork URL: %w", err)
	}

	log.Debug("Downloading artwork")
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artwork download failed: HTTP %d", resp.StatusCode)
	}

	// Write under a temporary name so a partial file is never a cache hit
	tmp, err := os.CreateTemp(d.cacheDir, "partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, MaxSize+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > MaxSize {
		err = fmt.Errorf("larger than %d bytes", MaxSize)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to save artwork: %w", err)
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to save artwork: %w", err)
	}

	log.WithField("bytes", n).Info("Artwork saved")
	d.setCurrent(cachePath)
	return cachePath, nil
}

func (d *Downloader) setCurrent(path string) {
	d.mu.Lock()
	d.currentPath = path
	d.mu.Unlock()
}

// CurrentPath returns the path to the current artwork
func (d *Downloader) CurrentPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentPath
}

// getExtension extracts file extension from URL
func getExtension(url string) string {
	url = strings.Split(url, "?")[0]

	ext := filepath.Ext(url)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "/:") {
		ext = ".jpg"
	}

	return ext
}

// Cleanup removes the cache directory
func (d *Downloader) Cleanup() error {
	return os.RemoveAll(d.cacheDir)
}
