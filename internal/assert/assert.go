//go:build subjectlinkdebug

// Package assert checks structural contracts that callers are required to
// uphold. In builds tagged subjectlinkdebug a violated contract panics;
// otherwise the checks compile to nothing.
package assert

import "fmt"

// Enabled reports whether contract checks are active in this build.
const Enabled = true

// That panics with the formatted message when cond is false.
func That(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("subjectlink: contract violated: "+format, args...))
	}
}
