package warehouse

import "errors"

var (
	// ErrInvalidPayload is returned when a sensor payload cannot be parsed.
	ErrInvalidPayload = errors.New("invalid sensor payload")
	// ErrShelfRejected is returned for a malformed shelf id or one beyond the shelf limit.
	ErrShelfRejected = errors.New("shelf rejected")
	// ErrInvalidSettings is returned when thresholds are not usable.
	ErrInvalidSettings = errors.New("invalid warehouse settings")
)
