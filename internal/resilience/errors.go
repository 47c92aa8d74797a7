// Package resilience classifies fetch failures and bounds their retries.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PolitenessError signals the remote source must not be fetched further
// right now (429, explicit crawl-disallow). Never retried: the attempt falls
// through its tier and the domain enters cool-down.
type PolitenessError struct {
	Domain string
	Signal string // "http_429" or "crawl_disallow"
}

func (e *PolitenessError) Error() string {
	return fmt.Sprintf("politeness denied for %s (%s)", e.Domain, e.Signal)
}

// BudgetError signals a run-level or per-domain cap was reached. Recorded
// and fallen through, never retried.
type BudgetError struct {
	Domain string
	Reason string
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget exhausted for %s (%s)", e.Domain, e.Reason)
}

// IsPoliteness reports whether the error chain carries a politeness denial.
func IsPoliteness(err error) bool {
	var pe *PolitenessError
	return errors.As(err, &pe)
}

// IsBudget reports whether the error chain carries a budget denial.
func IsBudget(err error) bool {
	var be *BudgetError
	return errors.As(err, &be)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network failure
// patterns. Politeness and budget denials are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsPoliteness(err) || IsBudget(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true for server-side statuses that are safe
// to retry. 429 is deliberately excluded: rate-limit responses are
// politeness signals and fall through the tier instead.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
