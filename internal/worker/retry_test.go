package worker

import (
	"testing"
	"time"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // clamped
		{0, time.Second},      // attempts below 1 behave as 1
	}

	for _, tc := range cases {
		if got := policy.NextDelay(tc.attempt); got != tc.want {
			t.Errorf("NextDelay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryPolicyZeroValues(t *testing.T) {
	var policy RetryPolicy
	if got := policy.NextDelay(3); got <= 0 {
		t.Errorf("NextDelay with zero policy must be positive, got %s", got)
	}
}
