package vm

import "fmt"

// assertf panics with the formatted message if cond is false. It is a no-op
// when assertions are compiled out.
func assertf(cond bool, format string, args ...any) {
	if assertionsEnabled && !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
