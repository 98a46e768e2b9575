// retry.go implements the shared upstream error policy for all adapters:
//
//   - 429: exponential backoff, base 1s doubling to a 30s cap, up to 3
//     retries; a Retry-After header overrides the computed delay.
//   - 5xx: linear retry, delay attempt×1s, up to 3 retries.
//   - 404: mapped to a typed domain error the caller may handle (closed
//     market, missing transcript). Never retried.
//   - other 4xx: permanent error, never retried.
//
// Adapters call do() with a request closure; the closure is re-invoked on
// each attempt so the request is rebuilt. Adapters wait on their rate
// limiter once before calling do(); retries do not wait on it again.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	retryBase  = time.Second
	retryCap   = 30 * time.Second
	maxRetries = 3
)

// ErrNotFound is the domain outcome for an upstream 404: the resource is
// gone rather than the call having failed. Callers decide what "gone" means
// (closed market, missing transcript, delisted document).
var ErrNotFound = errors.New("upstream resource not found")

// PermanentError wraps a non-retryable upstream rejection (4xx other than
// 404 and 429).
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("upstream rejected request: status %d: %s", e.Status, e.Body)
}

// do executes fn with the shared retry policy. fn must issue exactly one
// HTTP request and return its response.
func do(ctx context.Context, fn func() (*resty.Response, error)) (*resty.Response, error) {
	var lastErr error
	backoff := retryBase

	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		resp, err := fn()
		if err != nil {
			// Transport-level failure: retry linearly like a 5xx.
			lastErr = err
			if attempt > maxRetries {
				break
			}
			if err := sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return nil, err
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status < 400:
			return resp, nil

		case status == http.StatusNotFound:
			return nil, ErrNotFound

		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited: status 429")
			if attempt > maxRetries {
				break
			}
			delay := backoff
			if ra := retryAfter(resp); ra > 0 {
				delay = ra
			}
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			backoff *= 2
			if backoff > retryCap {
				backoff = retryCap
			}
			continue

		case status >= 500:
			lastErr = fmt.Errorf("upstream error: status %d", status)
			if attempt > maxRetries {
				break
			}
			if err := sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
				return nil, err
			}
			continue

		default:
			return nil, &PermanentError{Status: status, Body: resp.String()}
		}
		break
	}

	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// retryAfter parses a Retry-After header as delta-seconds. Absolute dates
// are ignored; the computed backoff applies instead.
func retryAfter(resp *resty.Response) time.Duration {
	h := resp.Header().Get("Retry-After")
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > retryCap {
		d = retryCap
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
