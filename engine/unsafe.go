package engine

import "unsafe"

// unsafePointer returns the address of the backing array of a
// non-empty byte slice, used only to derive a stable identity value
// for alias detection. Callers must guard against empty slices.
func unsafePointer(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
