package producer

import (
	"errors"
	"fmt"
)

// ProducerError reports a producer that kept failing after every retry.
type ProducerError struct {
	Producer string
	Attempts int
	Err      error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("producer %s failed after %d attempt(s): %v", e.Producer, e.Attempts, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// IsProducerError reports whether err is (or wraps) a *ProducerError.
func IsProducerError(err error) bool {
	var pe *ProducerError
	return errors.As(err, &pe)
}

// ErrEmptyResponse is returned by generators that produced no text.
var ErrEmptyResponse = errors.New("producer returned empty response")
