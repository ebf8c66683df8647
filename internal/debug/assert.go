package debug

import (
	"fmt"
	"runtime"
)

// NOTE: assertions guard programmer errors and cross-process layout
// mismatches. they are never turned off.

// NOTE: originally stolen from
// https://github.com/golang/go/blob/eaa7d9ff86b35c72cc35bd7c14b349fa414c392f/src/go/types/errors.go#L18
func Assert(truth bool, msg ...string) {
	// NOTE: in certain cases it feels unreasonable and redundant to specify msg
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if !truth {
		fail(msg...)
	}
}

// Assertf is Assert with a formatted message. args are only formatted when the
// assertion fails.
func Assertf(truth bool, format string, args ...any) {
	if !truth {
		fail(fmt.Sprintf(format, args...))
	}
}

func fail(msg ...string) {
	text := fmt.Sprintf("assertion failed(%s)", msg)
	// include information about the assertion location. due to panic
	// recovery, this location is otherwise buried in the middle of the
	// panicking stack.
	if _, file, line, ok := runtime.Caller(2); ok {
		text = fmt.Sprintf("%s:%d: %s", file, line, text)
	}
	panic(text)
}
