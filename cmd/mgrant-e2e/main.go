// File: cmd/mgrant-e2e/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/mgrantlabs/mgrant-e2e/cmd"
	"github.com/mgrantlabs/mgrant-e2e/internal/observability"
)

const panicLogFile = "panic.log"

// Injection points for tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// SIGINT/SIGTERM cancel the run context; the runner's cleanup still runs
	// and the partial record is still reported.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	stop()
	osExit(cmd.ExitCode(err))
}

// handlePanic writes the stack to panic.log so a crash in an unattended CI
// run leaves a diagnosable artifact even when console output is lost.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()

		message := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := osWriteFile(panicLogFile, []byte(message), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "CRITICAL: failed to write panic log: %v\n", err)
			fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", message)
			osExit(3)
			return // reached only when osExit is mocked in tests
		}

		fmt.Fprintf(os.Stderr, "CRASH DETECTED. Details logged to %s\n", panicLogFile)
		osExit(3)
	}
}
