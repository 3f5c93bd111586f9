package binary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 5 * time.Minute
	// DefaultRetries is the number of download attempts for transient
	// failures before giving up.
	DefaultRetries = 3
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "toolpin/1.0"

	backoffBase = 1 * time.Second
	backoffMax  = 30 * time.Second
)

// errPermanent marks HTTP failures that a retry cannot fix.
var errPermanent = errors.New("permanent download failure")

// backoff is the retry delay state machine: an attempt counter and the
// next delay, doubling up to a cap. Keeping it explicit (rather than
// sleeping inline) lets tests drive it without wall-clock waits.
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(base, maxDelay time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &backoff{base: base, max: maxDelay, current: base}
}

// Next returns the delay to wait before the next attempt and advances the
// state machine.
func (b *backoff) Next() time.Duration {
	delay := b.current
	next := b.current * 2
	if next > b.max {
		next = b.max
	}
	b.current = next
	return delay
}

// Downloader performs streaming HTTP retrieval with bounded retry.
type Downloader struct {
	client    *http.Client
	userAgent string
	retries   int
	sleeper   Sleeper
	logger    Logger
}

// NewDownloader creates a downloader with the default client, retry
// ceiling, and a real sleeper.
func NewDownloader() *Downloader {
	return &Downloader{
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
		retries:   DefaultRetries,
		sleeper:   RealSleeper{},
		logger:    defaultLogger(),
	}
}

// Fetch downloads url to destPath, streaming the response body rather
// than buffering it. Transient failures (transport errors, 5xx) are
// retried with exponential backoff up to the retry ceiling; 4xx statuses
// are permanent and surface immediately as ErrNotFound, ErrForbidden, or a
// generic permanent error. Exhausting retries yields ErrFetchExhausted
// wrapping the last underlying error.
func (d *Downloader) Fetch(ctx context.Context, url string, headers map[string]string, destPath string) (int64, error) {
	bo := newBackoff(backoffBase, backoffMax)
	var lastErr error

	for attempt := 1; attempt <= d.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		n, err := d.fetchOnce(ctx, url, headers, destPath)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if isPermanent(err) {
			return 0, err
		}

		lastErr = err
		d.logger.Warn("download attempt failed", "url", url, "attempt", attempt, "error", err)

		if attempt < d.retries {
			if err := d.sleeper.Sleep(ctx, bo.Next()); err != nil {
				return 0, err
			}
		}
	}

	return 0, fmt.Errorf("%w: %d attempts, last error: %v", ErrFetchExhausted, d.retries, lastErr)
}

// fetchOnce performs a single attempt: stream to a temporary sibling,
// flush, then rename onto destPath so a partial body is never visible.
func (d *Downloader) fetchOnce(ctx context.Context, url string, headers map[string]string, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %v", errPermanent, err)
	}

	req.Header.Set("User-Agent", d.userAgent)
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode, url); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, fmt.Errorf("%w: create dest dir: %v", errPermanent, err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("%w: create temp file: %v", errPermanent, err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("copy response body: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return 0, fmt.Errorf("flush temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("rename temp file: %w", err)
	}

	cleanupNeeded = false
	return written, nil
}

// checkStatus classifies an HTTP status: success, permanent client
// errors, or retryable server errors.
func checkStatus(code int, url string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s (status %d)", ErrForbidden, url, code)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: unexpected status %d for %s", errPermanent, code, url)
	default:
		return fmt.Errorf("unexpected status %d for %s", code, url)
	}
}

// isPermanent reports whether a fetch error should not be retried.
func isPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, errPermanent)
}
