// File: internal/modules/modules.go

// Package modules holds the compiled-in MGrant test modules. Each module
// groups the test cases for one area of the application and reports them
// through the run context's recorder; which modules run, and in what order,
// is decided by the manifest, not by this package.
package modules

import "github.com/mgrantlabs/mgrant-e2e/internal/runner"

// DefaultRegistry returns the registry of all compiled-in modules.
func DefaultRegistry() *runner.Registry {
	return runner.NewRegistry(
		runner.WithModule(&Authentication{}),
		runner.WithModule(&Organisation{}),
		runner.WithModule(&Grants{}),
		runner.WithModule(&Applications{}),
	)
}
