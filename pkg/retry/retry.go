// Package retry classifies step failures and computes backoff schedules.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/fluxway/fluxway/pkg/connections"
	"github.com/fluxway/fluxway/pkg/models"
)

const (
	DefaultBaseDelay = 2 * time.Second
	DefaultMaxDelay  = 5 * time.Minute

	// jitterFraction spreads retry times so many executions failing
	// against the same endpoint do not wake up together.
	jitterFraction = 0.2
)

// HTTPError is a non-2xx response from a step call.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying regardless of its kind,
// such as template or payload validation failures.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// Classify reports whether a step failure is transient. Timeouts, network
// errors, 5xx and 429 responses are retryable. Other 4xx responses,
// credential problems and permanently-marked errors are not.
func Classify(err error) bool {
	if err == nil {
		return false
	}

	var permanent *permanentError
	if errors.As(err, &permanent) {
		return false
	}

	if connections.IsCredentialUnavailable(err) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode >= http.StatusInternalServerError:
			return true
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return true
		case httpErr.StatusCode == http.StatusRequestTimeout:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unclassified errors from the transport layer are assumed transient.
	return true
}

// Decision is the outcome of consulting the policy after a step failure.
type Decision struct {
	Retry bool
	After time.Time
	Delay time.Duration
}

// Policy computes exponential backoff with jitter. The random source is
// injectable so tests get deterministic delays.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	randFloat func() float64
}

func NewPolicy() *Policy {
	return &Policy{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
		randFloat: rand.Float64,
	}
}

// FromConfig builds a policy honoring a step's retry overrides, falling
// back to the defaults for anything unset.
func FromConfig(config *models.RetryConfig) *Policy {
	policy := NewPolicy()

	if config == nil {
		return policy
	}

	if config.BaseDelaySeconds > 0 {
		policy.BaseDelay = time.Duration(config.BaseDelaySeconds) * time.Second
	}

	if config.MaxDelaySeconds > 0 {
		policy.MaxDelay = time.Duration(config.MaxDelaySeconds) * time.Second
	}

	return policy
}

// WithRand replaces the jitter source. Intended for tests.
func (p *Policy) WithRand(randFloat func() float64) *Policy {
	p.randFloat = randFloat

	return p
}

// Delay returns the backoff before the given attempt number, where
// attempt 1 is the first retry.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay

	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay

			break
		}
	}

	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	// Spread by +-20%.
	jitter := 1 + jitterFraction*(2*p.randFloat()-1)

	return time.Duration(float64(delay) * jitter)
}

// Decide consults the retry budget for the current step. The attempt
// count in state is the number of attempts already made.
func (p *Policy) Decide(state models.RetryState, retryable bool, now time.Time) Decision {
	if !retryable {
		return Decision{Retry: false}
	}

	if state.AttemptCount >= state.MaxAttempts {
		return Decision{Retry: false}
	}

	delay := p.Delay(state.AttemptCount)

	return Decision{
		Retry: true,
		After: now.Add(delay),
		Delay: delay,
	}
}
