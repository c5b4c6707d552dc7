package queue

import "errors"

var (
	ErrUnknownJobType     = errors.New("queue: unknown job type")
	ErrEmptyRecipient     = errors.New("queue: recipient is empty")
	ErrInvalidPriority    = errors.New("queue: invalid priority")
	ErrInvalidMaxAttempts = errors.New("queue: max attempts must not be negative")
	ErrInvalidRetention   = errors.New("queue: retention days must be positive")
	ErrJobNotFound        = errors.New("queue: job not found")
)

// IsValidationError reports whether err is a synchronous enqueue validation
// failure, as opposed to a store or transport problem.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrUnknownJobType) ||
		errors.Is(err, ErrEmptyRecipient) ||
		errors.Is(err, ErrInvalidPriority) ||
		errors.Is(err, ErrInvalidMaxAttempts)
}
