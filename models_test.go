package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionExpired(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "in the future", expiresAt: now.Add(time.Second), want: false},
		{name: "exactly now", expiresAt: now, want: true},
		{name: "in the past", expiresAt: now.Add(-time.Minute), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, s.Expired(now))
		})
	}
}

func TestSessionMatches(t *testing.T) {
	s := &Session{AccessToken: "a1", RefreshToken: "r1"}

	assert.True(t, s.Matches("a1", "r1"))
	assert.False(t, s.Matches("a1", "r2"))
	assert.False(t, s.Matches("a2", "r1"))
	assert.False(t, s.Matches("r1", "a1"))
}
