package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
)

// Fetcher performs HTTP GETs with a bounded retry budget and exponential
// backoff. The observed build recipes retried nothing; here every transfer
// gets the same small, configurable budget.
type Fetcher struct {
	Client  *http.Client
	Retries int           // attempts after the first failure
	Backoff time.Duration // initial backoff, doubled per retry
}

// NewFetcher returns a Fetcher over a hardened client with the given policy.
func NewFetcher(retries int, backoff, timeout time.Duration) *Fetcher {
	return &Fetcher{
		Client:  NewSecureHTTPClientWithTimeout(timeout),
		Retries: retries,
		Backoff: backoff,
	}
}

// Bytes fetches url and returns the response body.
func (f *Fetcher) Bytes(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := f.withRetry(ctx, url, func() error {
		var err error
		data, err = f.get(ctx, url, nil)
		return err
	})
	return data, err
}

// ToFile fetches url into destPath, creating parent directories. When sink is
// non-nil the body is additionally copied through it (progress reporting).
func (f *Fetcher) ToFile(ctx context.Context, url, destPath string, sink io.Writer) error {
	dir := filepath.Dir(destPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return f.withRetry(ctx, url, func() error {
		out, err := os.Create(destPath)
		if err != nil {
			return err
		}
		defer out.Close()

		var w io.Writer = out
		if sink != nil {
			w = io.MultiWriter(out, sink)
		}
		_, err = f.get(ctx, url, w)
		return err
	})
}

func (f *Fetcher) get(ctx context.Context, url string, w io.Writer) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := f.Client
	if client == nil {
		client = NewSecureHTTPClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status fetching %s: %s", url, resp.Status)
	}

	if w != nil {
		if _, err := io.Copy(w, resp.Body); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return io.ReadAll(resp.Body)
}

func (f *Fetcher) withRetry(ctx context.Context, url string, attempt func() error) error {
	log := logger.Logger()

	backoff := f.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var err error
	for try := 0; try <= f.Retries; try++ {
		if try > 0 {
			log.Warnf("retrying %s (attempt %d/%d) after: %v", url, try, f.Retries, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		if err = attempt(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("fetching %s after %d attempts: %w", url, f.Retries+1, err)
}
