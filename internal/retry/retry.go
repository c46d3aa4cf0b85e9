// Package retry implements the classification and backoff policy of
// spec.md §4.G: every transport error is classified into a Severity
// and, for Transient errors, retried with bounded exponential backoff.
package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ede1998/nextcloud-tag-sync/internal/tagerr"
)

// MaxAttempts is the bound on retry attempts for a Transient error
// within a single run (spec.md §4.G).
const MaxAttempts = 3

// retryableStatus mirrors the teacher's webdav backend retryErrorCodes
// list. ClassifyStatus and ShouldRetry additionally treat every other
// 5xx code as retryable; everything else is not.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ClassifyStatus turns an HTTP status code from the remote store into
// a tagerr.Kind, per spec.md §4.C/§4.G: 401 is Auth (fatal), 404 is
// treated by the caller as "file disappeared" (not an error kind of
// its own), 5xx/429 are Transient, everything else is a hard
// Network.Status error.
func ClassifyStatus(code int) tagerr.Kind {
	switch {
	case code == http.StatusUnauthorized:
		return tagerr.KindAuth
	case retryableStatus[code] || (code >= 500 && code <= 599):
		return tagerr.KindNetworkTimeout // reuses the Transient bucket
	default:
		return tagerr.KindNetworkStatus
	}
}

// ShouldRetry reports whether the given status code is worth a retry
// attempt.
func ShouldRetry(statusCode int) bool {
	return retryableStatus[statusCode] || (statusCode >= 500 && statusCode <= 599)
}

// Policy wraps a jpillora/backoff.Backoff (the teacher's exponential
// pacer dependency, used in the same min/max/decay shape as
// backend/seafile/pacer.go) to bound retries of Transient failures.
type Policy struct {
	b *backoff.Backoff
}

// NewPolicy builds a Policy with the given min/max sleep bounds.
func NewPolicy(minSleep, maxSleep time.Duration) *Policy {
	return &Policy{b: &backoff.Backoff{
		Min:    minSleep,
		Max:    maxSleep,
		Factor: 2,
		Jitter: true,
	}}
}

// DefaultPolicy is the §6 default: 30s per-request timeout implies a
// modest backoff ceiling well under it.
func DefaultPolicy() *Policy {
	return NewPolicy(100*time.Millisecond, 5*time.Second)
}

// Do calls fn up to MaxAttempts times, sleeping with exponential
// backoff between attempts, as long as fn's error classifies as
// Transient. It stops immediately on a non-Transient error or on
// ctx cancellation.
func (p *Policy) Do(ctx context.Context, fn func() error) error {
	p.b.Reset()
	var err error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if tagerr.KindOf(err).Severity() != tagerr.SeverityTransient {
			return err
		}
		if attempt == MaxAttempts-1 {
			return err
		}
		select {
		case <-time.After(p.b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
