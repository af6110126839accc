package auth

import "time"

// LockoutPolicy decides whether a user may attempt a password login. It is a
// pure function of the stored counter, the last attempt timestamp and now.
//
// An account is locked while LoginAttempts > MaxAttempts and the last attempt
// happened less than Window ago. Once the window elapses the next failure
// restarts counting at 1; only a verified password resets the counter to 0.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// NewLockoutPolicy creates a policy from cfg
func NewLockoutPolicy(cfg Config) LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts: cfg.GetMaxLoginAttempts(),
		Window:      cfg.GetLockoutDuration(),
	}
}

// ExceedsThreshold reports whether attempts is past the allowed failures.
func (p LockoutPolicy) ExceedsThreshold(attempts int) bool {
	return attempts > p.MaxAttempts
}

// Locked reports whether a login attempt at now must be rejected.
func (p LockoutPolicy) Locked(attempts int, lastAttemptAt *time.Time, now time.Time) bool {
	if !p.ExceedsThreshold(attempts) || lastAttemptAt == nil {
		return false
	}
	return now.Sub(*lastAttemptAt) < p.Window
}

// WindowElapsed reports whether the counter is past the threshold but the
// lock has run out.
func (p LockoutPolicy) WindowElapsed(attempts int, lastAttemptAt *time.Time, now time.Time) bool {
	return p.ExceedsThreshold(attempts) && !p.Locked(attempts, lastAttemptAt, now)
}

// NextFailedAttempts returns the counter value to store after a failed
// password check at now.
func (p LockoutPolicy) NextFailedAttempts(attempts int, lastAttemptAt *time.Time, now time.Time) int {
	if p.WindowElapsed(attempts, lastAttemptAt, now) {
		return 1
	}
	return attempts + 1
}

// RetryAfter returns how long until the lock lifts, zero when not locked.
func (p LockoutPolicy) RetryAfter(attempts int, lastAttemptAt *time.Time, now time.Time) time.Duration {
	if !p.Locked(attempts, lastAttemptAt, now) {
		return 0
	}
	return p.Window - now.Sub(*lastAttemptAt)
}
