// Package safego starts background goroutines with panic containment.
// The asset server listener, the config-file watcher, and the SIGINT
// relay all run through it: a panic in any of them is logged with a
// stack and the session keeps running.
package safego

import (
	"go.uber.org/zap"
)

// Go runs fn on a new goroutine. If fn panics, the panic value and
// stack are logged under name and the goroutine exits; the process is
// never torn down by a background failure.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Background goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
