//go:build !linux

package engine

// defaultPinner is a no-op on platforms without mlock(2) support
// wired up; the staged transport path still works, it simply runs
// against unpinned host memory.
type defaultPinner struct{}

func newDefaultPinner() HostPinner { return defaultPinner{} }

func (defaultPinner) Pin(buf []byte) error   { return nil }
func (defaultPinner) Unpin(buf []byte) error { return nil }
