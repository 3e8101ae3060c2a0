package main

import (
	"errors"
	"fmt"
)

// userError marks a failure as user-facing (bad path, unreadable file, PE
// parse failure) rather than an internal bug; exitCode maps it to exit
// code 1, and any other error to 2.
type userError struct{ err error }

func (e *userError) Error() string { return e.err.Error() }
func (e *userError) Unwrap() error { return e.err }

func wrapUser(err error) error {
	if err == nil {
		return nil
	}
	return &userError{err}
}

func userErrf(format string, args ...any) error {
	return &userError{fmt.Errorf(format, args...)}
}

// exitCode maps a command's returned error to spec.md §6's exit code
// scheme: 0 success, 1 user-facing error, 2 internal error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ue *userError
	if errors.As(err, &ue) {
		return 1
	}
	return 2
}
