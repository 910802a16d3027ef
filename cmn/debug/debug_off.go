//go:build !debug

package debug

func Assert(_ bool, _ ...any)       {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)           {}
func Func(_ func())                {}
