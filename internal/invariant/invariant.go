// Package invariant reports programming defects: states the behavior system
// must never reach. In a `-tags debug` build, or after SetStrict(true), a
// violation panics; otherwise it is logged and the caller continues
// best-effort.
package invariant

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

var strict atomic.Bool

func init() {
	strict.Store(debugBuild)
}

// Violation is the panic value used in strict mode.
type Violation struct {
	Message string
}

func (v Violation) Error() string {
	return "invariant violated: " + v.Message
}

// Strict reports whether violations panic.
func Strict() bool {
	return strict.Load()
}

// SetStrict overrides strict mode and returns a func restoring the old value.
func SetStrict(v bool) (restore func()) {
	old := strict.Swap(v)
	return func() { strict.Store(old) }
}

// Check returns cond. When cond is false it reports a violation.
func Check(cond bool, format string, args ...any) bool {
	if cond {
		return true
	}
	Fail(format, args...)
	return false
}

// Fail reports a violation unconditionally.
func Fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if strict.Load() {
		panic(Violation{Message: msg})
	}
	slog.Error("invariant violated", "message", msg)
}
