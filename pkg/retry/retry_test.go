package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/fluxway/fluxway/pkg/connections"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection refused" }
func (fakeNetError) Timeout() bool   { return false }
func (fakeNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"server error", &HTTPError{StatusCode: http.StatusInternalServerError, Status: "500"}, true},
		{"bad gateway", &HTTPError{StatusCode: http.StatusBadGateway, Status: "502"}, true},
		{"too many requests", &HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429"}, true},
		{"request timeout", &HTTPError{StatusCode: http.StatusRequestTimeout, Status: "408"}, true},
		{"not found", &HTTPError{StatusCode: http.StatusNotFound, Status: "404"}, false},
		{"unprocessable", &HTTPError{StatusCode: http.StatusUnprocessableEntity, Status: "422"}, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"network error", fakeNetError{}, true},
		{"credential unavailable", fmt.Errorf("connection c1: %w", connections.ErrCredentialUnavailable), false},
		{"permanent", Permanent(errors.New("bad template")), false},
		{"wrapped permanent", fmt.Errorf("step: %w", Permanent(errors.New("bad template"))), false},
		{"unknown transport error", errors.New("broken pipe"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Classify(tt.err))
		})
	}
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestPolicy_Delay(t *testing.T) {
	// rand 0.5 makes the jitter factor exactly 1.0.
	policy := NewPolicy().WithRand(func() float64 { return 0.5 })
	policy.BaseDelay = 2 * time.Second
	policy.MaxDelay = 10 * time.Second

	assert.Equal(t, 2*time.Second, policy.Delay(1))
	assert.Equal(t, 4*time.Second, policy.Delay(2))
	assert.Equal(t, 8*time.Second, policy.Delay(3))
	assert.Equal(t, 10*time.Second, policy.Delay(4))
	assert.Equal(t, 10*time.Second, policy.Delay(10))
}

func TestPolicy_DelayJitterBounds(t *testing.T) {
	policy := NewPolicy()
	policy.BaseDelay = 10 * time.Second

	low := policy.WithRand(func() float64 { return 0 }).Delay(1)
	assert.InDelta(t, float64(8*time.Second), float64(low), float64(time.Millisecond))

	high := policy.WithRand(func() float64 { return 1 }).Delay(1)
	assert.InDelta(t, float64(12*time.Second), float64(high), float64(time.Millisecond))
}

func TestPolicy_Decide(t *testing.T) {
	policy := NewPolicy().WithRand(func() float64 { return 0.5 })
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	decision := policy.Decide(models.RetryState{AttemptCount: 1, MaxAttempts: 3}, true, now)
	require.True(t, decision.Retry)
	assert.Equal(t, now.Add(decision.Delay), decision.After)

	// Budget exhausted.
	decision = policy.Decide(models.RetryState{AttemptCount: 3, MaxAttempts: 3}, true, now)
	assert.False(t, decision.Retry)

	// Non-retryable failures never consult the budget.
	decision = policy.Decide(models.RetryState{AttemptCount: 0, MaxAttempts: 3}, false, now)
	assert.False(t, decision.Retry)
}

func TestFromConfig(t *testing.T) {
	policy := FromConfig(nil)
	assert.Equal(t, DefaultBaseDelay, policy.BaseDelay)
	assert.Equal(t, DefaultMaxDelay, policy.MaxDelay)

	policy = FromConfig(&models.RetryConfig{BaseDelaySeconds: 1, MaxDelaySeconds: 30})
	assert.Equal(t, time.Second, policy.BaseDelay)
	assert.Equal(t, 30*time.Second, policy.MaxDelay)
}
