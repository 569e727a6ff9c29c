package gameclient

import (
	"errors"
	"fmt"
)

var (
	// ErrStartRejected is returned when start_game answers anything but "200".
	ErrStartRejected = errors.New("start_game rejected")
	// ErrDecode wraps malformed update_game bodies.
	ErrDecode = errors.New("decode world snapshot")
	// ErrNoFix is returned by a LocationSource that has no position yet.
	ErrNoFix = errors.New("no location fix")
)

// StatusError reports a non-2xx backend response.
type StatusError struct {
	API        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.API, e.StatusCode, e.Body)
}
