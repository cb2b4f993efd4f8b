package exchange

import (
	"errors"
	"fmt"
)

// RateLimitError is returned on HTTP 429; callers requeue through the limiter.
type RateLimitError struct {
	Body string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Body)
}

// TransientError covers 5xx responses; callers may retry with backoff.
type TransientError struct {
	Status int
	Body   string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient exchange error (%d): %s", e.Status, e.Body)
}

// RequestError covers 4xx responses; the request is wrong and must not be
// retried.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("exchange rejected request (%d): %s", e.Status, e.Body)
}

func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}
