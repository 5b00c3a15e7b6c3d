package kerrors

import "runtime/debug"

// Assert is the always-on assertion flavor from spec §7: it panics with a
// backtrace whenever cond is false, regardless of build configuration.
// Use it for invariants whose violation means kernel memory is already
// corrupt and continuing would make things worse.
func Assert(cond bool, msg string) {
	if !cond {
		panic(msg + "\n" + string(debug.Stack()))
	}
}

// DebugAssert is the debug-drop assertion flavor: compiled out entirely
// unless built with -tags debugassert, matching "optimizer hint in
// release builds". See assert_debug.go / assert_release.go for the two
// build-tagged bodies.
