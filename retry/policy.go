package retry

// Policy bounds and shapes an attempt loop.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values <= 1 mean "no retry": the operation runs once.
	MaxAttempts int
	// Backoff computes the delay before each retry attempt.
	Backoff BackoffStrategy
	// ShouldRetry decides whether a given error on a given attempt is
	// eligible for another try. If nil, every error is eligible; no error
	// kind is excluded beyond the cancellation errors Controller.Run never
	// retries.
	ShouldRetry func(err error, attempt int) bool
}

// attempts returns the configured attempt ceiling, floored at 1.
func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
