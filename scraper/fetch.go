package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

const maxPageBytes = 20 << 20

// PageFetcher retrieves one page of listing markup.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError reports a page that could not be retrieved. StatusCode is zero
// for transport failures.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s", e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	return body, nil
}

type retryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// fetchWithRetry retries transient failures with exponential backoff plus
// jitter. Client errors other than 408 and 429 are returned at once.
func fetchWithRetry(ctx context.Context, f PageFetcher, url string, policy retryPolicy) ([]byte, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := f.Fetch(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == attempts {
			return nil, withAttempts(url, err, attempt)
		}

		delay := policy.Backoff * time.Duration(1<<(attempt-1))
		if delay > 0 {
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, withAttempts(url, lastErr, attempt)
		}
	}
	return nil, withAttempts(url, lastErr, attempts)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		switch {
		case fe.StatusCode == http.StatusRequestTimeout, fe.StatusCode == http.StatusTooManyRequests:
			return true
		case fe.StatusCode >= 400 && fe.StatusCode < 500:
			return false
		}
	}
	return true
}

func withAttempts(url string, err error, attempts int) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		out := *fe
		out.Attempts = attempts
		return &out
	}
	return &FetchError{URL: url, Attempts: attempts, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
