// Package reader implements the reading session core: reference resolution,
// archive loading with fallbacks, the render session around the engine, the
// position synchronizer and the session state machine tying them together.
package reader

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvableReference means a book reference matched none of the
	// recognized shapes.
	ErrUnresolvableReference = errors.New("unable to resolve book reference")

	// ErrFetchTimeout distinguishes a timed out archive fetch from a hard
	// network failure, user messaging differs.
	ErrFetchTimeout = errors.New("archive fetch timed out")

	// ErrEmptyArchive is a zero length archive payload.
	ErrEmptyArchive = errors.New("archive payload is empty")

	// ErrArchiveOpenFailed means the engine rejected the payload through all
	// open fallbacks.
	ErrArchiveOpenFailed = errors.New("unable to open archive")

	// ErrDrmProtected is fatal - encrypted content is never retried.
	ErrDrmProtected = errors.New("archive is DRM protected")

	// ErrSurfaceUnavailable means no host surface could be acquired, not
	// even the synthesized fallback.
	ErrSurfaceUnavailable = errors.New("host surface unavailable")

	// ErrNotMounted marks operations called on a session without a mounted
	// archive. Callers normally treat these as no-ops.
	ErrNotMounted = errors.New("no archive mounted")
)

// FetchError is a non-2xx response from the archive endpoint.
type FetchError struct {
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("archive fetch failed with status %d", e.Status)
}

// NavigationError is a failed location jump. Non fatal - the session stays
// at its last good location.
type NavigationError struct {
	Location string
	Cause    error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("unable to navigate to %q: %v", e.Location, e.Cause)
}

func (e *NavigationError) Unwrap() error { return e.Cause }

// IsFatal reports whether err allows no retry affordance.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDrmProtected)
}
