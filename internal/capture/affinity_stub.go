//go:build !windows

package capture

// ExemptWindow недоступен вне Windows; окна остаются видимыми для захвата.
func ExemptWindow(uintptr) bool { return false }
