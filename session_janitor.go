package auth

import (
	"context"
	"time"
)

// SessionJanitor deletes sessions whose refresh token can no longer be used.
type SessionJanitor struct {
	sessions     SessionStore
	clock        Clock
	storeTimeout time.Duration
	logger       Logger
}

func NewSessionJanitor(sessions SessionStore, opts Config) *SessionJanitor {
	return &SessionJanitor{
		sessions:     sessions,
		clock:        SystemClock(),
		storeTimeout: opts.GetStoreTimeout(),
		logger:       defLogger{},
	}
}

func (j *SessionJanitor) WithLogger(logger Logger) *SessionJanitor {
	if logger != nil {
		j.logger = logger
	}
	return j
}

func (j *SessionJanitor) WithClock(clock Clock) *SessionJanitor {
	if clock != nil {
		j.clock = clock
	}
	return j
}

// Sweep runs a single purge and returns the number of deleted sessions.
func (j *SessionJanitor) Sweep(ctx context.Context) (int64, error) {
	sctx, cancel := storeContext(ctx, j.storeTimeout)
	defer cancel()

	n, err := j.sessions.DeleteExpired(sctx, j.clock.Now())
	if err != nil {
		return 0, persistenceError(err, nil, "delete_expired")
	}
	return n, nil
}

// Run sweeps every interval until ctx is done. Failures are logged and the
// next tick tries again.
func (j *SessionJanitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.Sweep(ctx)
			if err != nil {
				j.logger.Error("Session purge error", "error", err)
				continue
			}
			if n > 0 {
				j.logger.Info("Purged expired sessions", "count", n)
			}
		}
	}
}
