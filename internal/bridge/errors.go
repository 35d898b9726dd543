package bridge

import "errors"

// Start-time errors are never partially committed: anything created
// before the failure is torn down before the error propagates.
var (
	// caller contract violations, not retryable
	ErrMissingProducerConfig  = errors.New("bridge: producer config missing")
	ErrMissingMessageTemplate = errors.New("bridge: message template missing")

	// fatal for this start attempt; caller owns the retry policy
	ErrClientStart   = errors.New("bridge: client start failed")
	ErrProducerStart = errors.New("bridge: producer start failed")

	ErrNotStarted = errors.New("bridge: instance not running")
)
