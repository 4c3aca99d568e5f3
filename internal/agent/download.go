package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const maxDownloadBytes = 512 << 20

// Downloader fetches generated media. Hosts that need credentials are
// registered with Authorize.
type Downloader struct {
	client   *http.Client
	maxBytes int64

	mu   sync.RWMutex
	auth map[string]map[string]string
}

func NewDownloader() *Downloader {
	return &Downloader{
		client:   &http.Client{Timeout: 10 * time.Minute},
		maxBytes: maxDownloadBytes,
		auth:     make(map[string]map[string]string),
	}
}

// Authorize attaches headers to every request sent to host.
func (d *Downloader) Authorize(host string, headers map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auth[host] = headers
}

// Download returns the body and Content-Type of rawURL.
func (d *Downloader) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("invalid download url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	d.mu.RLock()
	for k, v := range d.auth[u.Host] {
		req.Header.Set(k, v)
	}
	d.mu.RUnlock()

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading %s: %w", u.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("downloading %s: status %d", u.Host, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading download: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("download exceeds %d bytes", d.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("downloading %s: empty body", u.Host)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
