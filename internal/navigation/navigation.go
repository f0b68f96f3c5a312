// Package navigation loads a page with a bounded retry budget.
//
// Transient failures (timeouts, reset or dropped connections) are retried
// immediately; the per-attempt timeout is the only delay between attempts.
// Terminal failures (non-2xx responses, DNS failures, malformed URLs, and
// anything unrecognized) fail on the first attempt.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shehryarbajwa/renderpool/internal/browser"
	"github.com/shehryarbajwa/renderpool/internal/logger"
)

var (
	// ErrNavigationTimeout means every attempt timed out or dropped
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrNavigationFailed means the page could not be loaded
	ErrNavigationFailed = errors.New("navigation failed")
)

// StatusError reports a main-document response outside 2xx
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("page responded with HTTP %d", e.StatusCode)
}

// Options configures one navigation
type Options struct {
	Timeout   time.Duration
	WaitUntil browser.WaitCondition
	Retries   int
}

// Result describes a successful navigation
type Result struct {
	StatusCode int
	Attempts   int
}

// Navigator is the slice of browser.Page needed to navigate
type Navigator interface {
	Navigate(ctx context.Context, url string, wait browser.WaitCondition) (int, error)
}

// transientReasons are browser net error codes worth another attempt
var transientReasons = []string{
	"ERR_TIMED_OUT",
	"ERR_CONNECTION_RESET",
	"ERR_CONNECTION_CLOSED",
	"ERR_CONNECTION_TIMED_OUT",
	"ERR_EMPTY_RESPONSE",
	"ERR_NETWORK_CHANGED",
}

// IsTransient reports whether a navigation error may succeed on retry
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var navErr *browser.NavigationError
	if errors.As(err, &navErr) {
		for _, reason := range transientReasons {
			if strings.Contains(navErr.Reason, reason) {
				return true
			}
		}
	}
	return false
}

// Navigate loads url on page, retrying transient failures up to opts.Retries
// times. The parent context bounds the whole call; opts.Timeout bounds each
// attempt.
func Navigate(ctx context.Context, page Navigator, url string, opts Options, log logger.Logger) (*Result, error) {
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries+1; attempt++ {
		status, err := navigateOnce(ctx, page, url, opts)
		if err == nil {
			if status != 0 && (status < 200 || status > 299) {
				return nil, fmt.Errorf("%w: %w", ErrNavigationFailed, &StatusError{StatusCode: status})
			}
			return &Result{StatusCode: status, Attempts: attempt}, nil
		}

		// the caller gave up; do not dress that up as a page failure
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrNavigationTimeout, ctx.Err())
		}

		lastErr = err
		if !IsTransient(err) {
			return nil, fmt.Errorf("%w: %w", ErrNavigationFailed, err)
		}

		log.Warn("Transient navigation failure",
			logger.String("url", url),
			logger.Int("attempt", attempt),
			logger.Error(err))
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrNavigationTimeout, opts.Retries+1, lastErr)
}

func navigateOnce(ctx context.Context, page Navigator, url string, opts Options) (int, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return page.Navigate(ctx, url, opts.WaitUntil)
}
