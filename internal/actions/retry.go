package actions

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// StatusError reports an HTTP response with a 4xx or 5xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "http request failed with status " + strconv.Itoa(e.StatusCode)
}

// IsRetryableError classifies whether an HTTP attempt should be retried.
// 5xx responses, network errors and timeouts are retryable. 4xx responses
// and cancellation are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ComputeBackoff returns base * 2^attempt, capped at maxDelay when it is
// positive.
func ComputeBackoff(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early if ctx is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
