// # internal/llm/policy.go
package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// ErrClass buckets a failed request for the retry policy. Classification is
// separated from deciding so both stay trivially testable.
type ErrClass string

const (
	ErrClassNone       ErrClass = ""
	ErrClassTimeout    ErrClass = "timeout"
	ErrClassRateLimit  ErrClass = "rate_limited"
	ErrClassServer     ErrClass = "server"
	ErrClassEmpty      ErrClass = "empty"
	ErrClassTokenLimit ErrClass = "token_limit"
	ErrClassBadRequest ErrClass = "bad_request"
	ErrClassAuth       ErrClass = "auth"
	ErrClassCanceled   ErrClass = "canceled"
)

// retryBase is the first backoff step; each further attempt doubles it.
const retryBase = 3 * time.Second

// Decision is the policy verdict for one failed attempt.
type Decision struct {
	Retry bool
	After time.Duration
}

// Decide is a pure function of the attempt number and error class: identical
// inputs always produce the identical decision. Timeouts, rate limits, server
// errors, empty responses, and token-limit rejections retry with exponential
// backoff; everything else fails immediately.
func Decide(attempt int, class ErrClass, maxRetries int) Decision {
	if attempt >= maxRetries {
		return Decision{}
	}
	switch class {
	case ErrClassTimeout, ErrClassRateLimit, ErrClassServer, ErrClassEmpty, ErrClassTokenLimit:
		return Decision{Retry: true, After: retryBase << attempt}
	default:
		return Decision{}
	}
}

// transientMarkers are substrings some providers put into 400 bodies for what
// is really backpressure. A 400 carrying one of these retries like a 429.
var transientMarkers = []string{
	"rate limit",
	"overloaded",
	"try again",
	"temporarily",
	"throttl",
}

// tokenLimitMarkers identify 400s complaining about request size. These
// retry after the client halves its completion budget.
var tokenLimitMarkers = []string{
	"max_tokens",
	"token limit",
	"tokens exceed",
	"context length",
	"context_length",
}

// Classify maps a transport error or an HTTP status plus response body to an
// error class.
func Classify(err error, status int, body string) ErrClass {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ErrClassCanceled
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrClassTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrClassTimeout
		}
		// Connection resets and refused dials behave like a flaky backend.
		return ErrClassServer
	}

	switch {
	case status == 429:
		return ErrClassRateLimit
	case status >= 500:
		return ErrClassServer
	case status == 401 || status == 403:
		return ErrClassAuth
	case status == 400:
		lower := strings.ToLower(body)
		for _, marker := range tokenLimitMarkers {
			if strings.Contains(lower, marker) {
				return ErrClassTokenLimit
			}
		}
		for _, marker := range transientMarkers {
			if strings.Contains(lower, marker) {
				return ErrClassRateLimit
			}
		}
		return ErrClassBadRequest
	case status >= 300:
		return ErrClassBadRequest
	}
	return ErrClassNone
}
