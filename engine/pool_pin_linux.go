//go:build linux

package engine

import "golang.org/x/sys/unix"

// defaultPinner page-locks host scratch buffers via mlock(2), the
// same mechanism a real CUDA/ROCm runtime uses under the hood to
// register host memory for DMA on the staged transport path. Grounded
// on momentics-hioload-ws's per-OS buffer pool split, which reaches
// for golang.org/x/sys the same way on Linux.
type defaultPinner struct{}

func newDefaultPinner() HostPinner { return defaultPinner{} }

func (defaultPinner) Pin(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Mlock(buf)
}

func (defaultPinner) Unpin(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Munlock(buf)
}
