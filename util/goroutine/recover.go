package goroutine

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// stackBufferSize bounds the captured stack trace
const stackBufferSize = 8192

// Recover logs a panic in a background goroutine instead of crashing the
// process. It must be deferred directly. Without a logger the panic is
// written to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, stackBufferSize)
		n := runtime.Stack(buf, false)

		if logger != nil {
			logger.Errorw("Goroutine panic recovered",
				"goroutine", name,
				"panic", r,
				"stack", string(buf[:n]))
			return
		}
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, string(buf[:n]))
	}
}

// Go runs fn on a new goroutine guarded by Recover. If wg is non-nil it is
// incremented before the goroutine starts and released when fn returns.
func Go(name string, logger *zap.SugaredLogger, wg *sync.WaitGroup, fn func()) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer Recover(name, logger)
		fn()
	}()
}
