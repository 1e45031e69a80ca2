package engine

import "fmt"

// DeviceThreadBlock mirrors the spec's device kernel launch shape: a
// block of (1, 32, 1) threads when dim == 1 (the plane perpendicular
// to the fastest axis is extremely strided, so threads are grouped on
// the second axis for coalesced writes into the buffer) and (32, 1, 1)
// otherwise. It is exposed so a real CUDA/HIP-backed DeviceBuffer can
// size its own launch grid the way the spec prescribes; this package
// never launches a literal kernel itself, since the device runtime is
// an out-of-scope collaborator.
func DeviceThreadBlock(dim int) [3]int {
	if dim == 1 {
		return [3]int{1, 32, 1}
	}
	return [3]int{32, 1, 1}
}

// PackDevice enqueues a device-kernel pack of f's plane described by
// ranges into scratch, on stream. It is used for dim == 1 always, and
// for any dim when the transport for this dim is device-aware (the
// staged memcopy path in pack_staged.go only applies to dim != 1 on a
// non-device-aware Nvidia transport).
func PackDevice(stream DeviceStream, f *Field, dim int, ranges PlaneRanges, scratch DeviceBuffer) error {
	return launchDevice(stream, f, dim, ranges, scratch, true)
}

// UnpackDevice is the reverse of PackDevice.
func UnpackDevice(stream DeviceStream, f *Field, dim int, ranges PlaneRanges, scratch DeviceBuffer) error {
	return launchDevice(stream, f, dim, ranges, scratch, false)
}

func launchDevice(stream DeviceStream, f *Field, dim int, ranges PlaneRanges, scratch DeviceBuffer, toBuffer bool) error {
	if !f.Residency.IsDevice() {
		return fmt.Errorf("haloexchange: PackDevice/UnpackDevice require a device-resident field")
	}
	if f.Device == nil {
		return fmt.Errorf("haloexchange: field has no device buffer")
	}
	singleton := ranges[dim-1].Lo
	return f.Device.LaunchPlaneCopy(stream, f.Shape, f.Elem, dim, singleton, scratch, toBuffer)
}
