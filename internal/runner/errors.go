// File: internal/runner/errors.go
package runner

import "fmt"

// FatalRunError wraps a module failure that halts the run. Subsequent modules
// in the precedence do not execute; results already recorded remain valid.
// A recorded FAILED test case is not a FatalRunError: modules decide for
// themselves whether a failed case aborts the rest of their work.
type FatalRunError struct {
	Module string
	Err    error
}

func (e *FatalRunError) Error() string {
	return fmt.Sprintf("module %q failed fatally: %v", e.Module, e.Err)
}

func (e *FatalRunError) Unwrap() error { return e.Err }
