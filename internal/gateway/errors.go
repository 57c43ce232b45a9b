package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the request carries no valid session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when the requested username does not exist.
	ErrNotFound = errors.New("profile not found")
	// ErrNetwork matches any *NetworkError via errors.Is.
	ErrNetwork = errors.New("network error")
	// ErrMalformedRecord is returned when the backend answers with a body
	// that is not a JSON object.
	ErrMalformedRecord = errors.New("malformed profile record")
)

// NetworkError is a transport failure or a backend 5xx.
type NetworkError struct {
	Op     string
	Status int // 0 for transport failures
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: backend returned HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
