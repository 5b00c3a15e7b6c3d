//go:build !debugassert

package kerrors

// DebugAssert is a no-op in release builds; pass -tags debugassert to
// enable it (see assert_debug.go).
func DebugAssert(cond bool, msg string) {}
