package publish

import "time"

// RetryPolicy is a bounded linear retry loop: fixed attempt count, fixed
// delay. It is injectable so tests substitute a zero-delay policy instead of
// really waiting.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration

	// Sleep overrides time.Sleep (tests). Nil means time.Sleep.
	Sleep func(time.Duration)
}

// DefaultRetry mirrors the transport defaults: three attempts, two seconds
// apart.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Sleep == nil {
		p.Sleep = time.Sleep
	}
	return p
}

// Do runs fn up to MaxAttempts times, sleeping Delay between attempts, and
// returns the last error. onRetry (optional) observes intermediate failures.
func (p RetryPolicy) Do(fn func() error, onRetry func(attempt int, err error)) error {
	p = p.withDefaults()
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		p.Sleep(p.Delay)
	}
	return err
}
