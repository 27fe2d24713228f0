package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic in a background goroutine and logs it with
// its stack. It must be deferred directly:
//
//	defer observability.RecoverPanic(logger, "audit archive")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverError converts a panic into an error stored in *errp
//
//	func run() (err error) {
//		defer observability.RecoverError(logger, "job", &err)
//		...
//	}
func RecoverError(logger *Logger, where string, errp *error) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if errp != nil {
			*errp = fmt.Errorf("panic in %s: %v", where, r)
		}
	}
}

func logPanic(logger *Logger, where string, r interface{}) {
	if logger == nil {
		logger = NopLogger()
	}
	logger.WithFields(map[string]interface{}{
		"panic":   r,
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
