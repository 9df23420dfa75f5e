// File: internal/auth/errors.go
package auth

import "fmt"

// CorruptSessionError indicates a persisted auth snapshot that could not be
// decoded. Callers treat it as "no session" and fall back to a fresh login;
// it exists as a type so tests and logs can tell corruption apart from a
// simply absent file.
type CorruptSessionError struct {
	Path string
	Err  error
}

func (e *CorruptSessionError) Error() string {
	return fmt.Sprintf("auth snapshot %q is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptSessionError) Unwrap() error { return e.Err }

// SaveAuthFailedError indicates the live page state could not be captured or
// the snapshot could not be persisted. Unlike load failures this propagates:
// a save was explicitly requested and silently losing it would poison the
// next run's cache.
type SaveAuthFailedError struct {
	Stage string
	Err   error
}

func (e *SaveAuthFailedError) Error() string {
	return fmt.Sprintf("saving auth state failed during %s: %v", e.Stage, e.Err)
}

func (e *SaveAuthFailedError) Unwrap() error { return e.Err }
