package engine

import "fmt"

// PackStaged issues a native pitched 3-D async memcopy from f's
// device memory into a pinned host mirror, for dim != 1 on a
// non-device-aware Nvidia transport. The AMD back-end's staged path
// is left unimplemented per the spec's open question: the device
// kernel (pack_device.go) is mandatory there regardless of
// ROCmAwareMPI, so callers must never route a DeviceROCm field here.
func PackStaged(stream DeviceStream, f *Field, dim int, ranges PlaneRanges, hostMirror []byte) error {
	return stagedCopy(stream, f, dim, ranges, hostMirror, true)
}

// UnpackStaged is the reverse of PackStaged.
func UnpackStaged(stream DeviceStream, f *Field, dim int, ranges PlaneRanges, hostMirror []byte) error {
	return stagedCopy(stream, f, dim, ranges, hostMirror, false)
}

func stagedCopy(stream DeviceStream, f *Field, dim int, ranges PlaneRanges, hostMirror []byte, toBuffer bool) error {
	if f.Residency != DeviceCUDA {
		return fmt.Errorf("haloexchange: staged transport is only defined for DeviceCUDA fields")
	}
	if dim == 1 {
		return fmt.Errorf("haloexchange: staged transport is never used for dim 1; use the device kernel")
	}
	if f.Device == nil {
		return fmt.Errorf("haloexchange: field has no device buffer")
	}
	singleton := ranges[dim-1].Lo
	if toBuffer {
		return f.Device.CopyPlaneToHost(stream, f.Shape, f.Elem, dim, singleton, hostMirror)
	}
	return f.Device.CopyPlaneFromHost(stream, f.Shape, f.Elem, dim, singleton, hostMirror)
}
