package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace.
// It must be deferred directly:
//
//	defer observability.RecoverPanic(logger, "api server")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverToError is RecoverPanic for functions with a named error result:
// the panic is logged and stored in *errp. It must be deferred directly.
//
//	func provision() (err error) {
//		defer observability.RecoverToError(logger, "provision", &err)
//		...
//	}
func RecoverToError(logger *Logger, where string, errp *error) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		*errp = fmt.Errorf("panic in %s: %v", where, r)
	}
}

func logPanic(logger *Logger, where string, r interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
