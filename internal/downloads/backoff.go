package downloads

import "time"

// Default retry backoff bounds.
const (
	DefaultBaseRetryDelay = 5 * time.Second
	DefaultMaxRetryDelay  = 300 * time.Second
)

// Backoff computes exponential retry delays: base doubles per attempt and is
// capped at max. Attempt numbers start at 1.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the standard 5s..300s schedule.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseRetryDelay, Max: DefaultMaxRetryDelay}
}

// Delay returns the wait before retry attempt n. The schedule under the
// defaults is 5s, 10s, 20s, 40s, 80s, 160s, then 300s for every later attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}
