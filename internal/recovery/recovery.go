// Package recovery keeps a panicking goroutine from taking the daemon down.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers a panic and logs it with its stack. Defer it first
// thing in every long-lived goroutine:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "command.accept")
//	    ...
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
	}
}

// RecoverWithCallback is RecoverWithLog followed by callback, which receives
// the recovered value. A nil callback is skipped.
func RecoverWithCallback(logger *slog.Logger, name string, callback func(recovered interface{})) {
	if r := recover(); r != nil {
		logPanic(logger, name, r)
		if callback != nil {
			callback(r)
		}
	}
}

func logPanic(logger *slog.Logger, name string, r interface{}) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("panic recovered",
		"goroutine", name,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
}
