package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-session-auth"
)

func TestLockoutPolicy(t *testing.T) {
	policy := auth.NewLockoutPolicy(testOptions())
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		at := now.Add(-d)
		return &at
	}

	tests := []struct {
		name        string
		attempts    int
		last        *time.Time
		locked      bool
		nextAttempt int
	}{
		{name: "fresh account", attempts: 0, last: nil, locked: false, nextAttempt: 1},
		{name: "at threshold", attempts: 3, last: ago(time.Second), locked: false, nextAttempt: 4},
		{name: "past threshold inside window", attempts: 4, last: ago(59 * time.Second), locked: true, nextAttempt: 5},
		{name: "past threshold window elapsed", attempts: 4, last: ago(time.Minute), locked: false, nextAttempt: 1},
		{name: "past threshold no timestamp", attempts: 7, last: nil, locked: false, nextAttempt: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.locked, policy.Locked(tt.attempts, tt.last, now))
			assert.Equal(t, tt.nextAttempt, policy.NextFailedAttempts(tt.attempts, tt.last, now))
		})
	}
}

func TestLockoutPolicy_RetryAfter(t *testing.T) {
	policy := auth.LockoutPolicy{MaxAttempts: 3, Window: time.Minute}
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-20 * time.Second)

	assert.Equal(t, 40*time.Second, policy.RetryAfter(4, &last, now))
	assert.Zero(t, policy.RetryAfter(2, &last, now))
}
