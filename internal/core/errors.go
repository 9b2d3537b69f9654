package core

import "errors"

// ErrInvalidInput marks a caller error: empty URLs, bad schemas, negative
// IDs, confidences out of range. Wrap it with fmt.Errorf("%w: ...") so
// callers can test with errors.Is.
var ErrInvalidInput = errors.New("invalid input")
