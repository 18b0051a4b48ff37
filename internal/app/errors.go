package app

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayUnavailable wraps transport and 5xx failures talking to a payment gateway.
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrInvalidInput        = errors.New("invalid input")
)

// RateLimitError carries the retry hint for a throttled caller.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
