package haul

import "time"

// Policy computes the backoff delay between attempts. It is a pure function
// of the attempt count; the engine owns the counter.
type Policy struct {

	// InitialDelay is the delay after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// MaxAttempts is the retry budget. Attempts beyond it are exhausted.
	MaxAttempts int
}

// DefaultPolicy returns the stock backoff: 5s doubling up to 60s, 3 attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 5 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  3,
	}
}

// Delay returns the backoff before the given 1-based attempt, and whether
// budget remains. Delay(1) == InitialDelay; growth is
// min(InitialDelay * 2^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > p.MaxAttempts {
		return 0, false
	}

	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay, true
		}
	}

	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d, true
}
