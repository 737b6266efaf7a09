package middleware

import "errors"

// ErrRetryExhausted is returned by the retry middleware when every attempt
// failed. The last provider error is wrapped alongside it.
var ErrRetryExhausted = errors.New("fissio: all retry attempts exhausted")
