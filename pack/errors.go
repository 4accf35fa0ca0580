package pack

import (
	"errors"
	"fmt"
	"io/fs"
)

// Failure kinds. Errors returned by this package wrap one of these, use
// errors.Is to check.
var (
	// ErrTruncatedData - fewer bytes available than fixed size block requires.
	ErrTruncatedData = errors.New("truncated data")
	// ErrInvalidReference - index or offset points outside of its table.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrMissingResource - expected pack file is absent.
	ErrMissingResource = errors.New("missing resource")
	// ErrIO - underlying read or open failure.
	ErrIO = errors.New("i/o failure")
)

// resourceError classifies file access error for the named resource.
func resourceError(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrMissingResource, name, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, name, err)
}

func truncated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTruncatedData, fmt.Sprintf(format, args...))
}

func invalidRef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidReference, fmt.Sprintf(format, args...))
}
