package haloexchange

import (
	"unsafe"

	"github.com/latticegrid/haloexchange/engine"
)

// fakeDeviceBuffer is a pure-Go stand-in for a CUDA allocation, used
// only by the device-field end-to-end scenario test at the root: the
// engine package's own fake is unexported and unreachable from here.
type fakeDeviceBuffer struct {
	data []byte
}

func newFakeDeviceBuffer(n uintptr) *fakeDeviceBuffer {
	return &fakeDeviceBuffer{data: make([]byte, n)}
}

func (b *fakeDeviceBuffer) Pointer() uintptr {
	if len(b.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.data[0]))
}

func (b *fakeDeviceBuffer) ByteLength() uintptr { return uintptr(len(b.data)) }

func (b *fakeDeviceBuffer) LaunchPlaneCopy(stream engine.DeviceStream, shape [3]int, elem engine.ElemType, dim, singletonIdx int, scratch engine.DeviceBuffer, toBuffer bool) error {
	sb := scratch.(*fakeDeviceBuffer)
	return fakePlaneCopy(b.data, sb.data, shape, elem, dim, singletonIdx, toBuffer)
}

func (b *fakeDeviceBuffer) CopyDeviceToDevice(dstOffset uintptr, src engine.DeviceBuffer, srcOffset uintptr, n uintptr) error {
	s := src.(*fakeDeviceBuffer)
	copy(b.data[dstOffset:dstOffset+n], s.data[srcOffset:srcOffset+n])
	return nil
}

func (b *fakeDeviceBuffer) CopyToHost(dst []byte, srcOffset uintptr) error {
	copy(dst, b.data[srcOffset:srcOffset+uintptr(len(dst))])
	return nil
}

func (b *fakeDeviceBuffer) CopyFromHost(dstOffset uintptr, src []byte) error {
	copy(b.data[dstOffset:dstOffset+uintptr(len(src))], src)
	return nil
}

func (b *fakeDeviceBuffer) CopyPlaneToHost(stream engine.DeviceStream, shape [3]int, elem engine.ElemType, dim, singletonIdx int, host []byte) error {
	return fakePlaneCopy(b.data, host, shape, elem, dim, singletonIdx, true)
}

func (b *fakeDeviceBuffer) CopyPlaneFromHost(stream engine.DeviceStream, shape [3]int, elem engine.ElemType, dim, singletonIdx int, host []byte) error {
	return fakePlaneCopy(b.data, host, shape, elem, dim, singletonIdx, false)
}

func fakePlaneCopy(device, buf []byte, shape [3]int, elem engine.ElemType, dim, singletonIdx int, toBuffer bool) error {
	elemSize := int(elem.SizeOf())
	strides := [3]int{1, shape[0], shape[0] * shape[1]}
	ranges := [3][2]int{{0, shape[0]}, {0, shape[1]}, {0, shape[2]}}
	ranges[dim-1] = [2]int{singletonIdx, singletonIdx + 1}

	pos := 0
	for k2 := ranges[2][0]; k2 < ranges[2][1]; k2++ {
		for k1 := ranges[1][0]; k1 < ranges[1][1]; k1++ {
			for k0 := ranges[0][0]; k0 < ranges[0][1]; k0++ {
				off := (k0*strides[0] + k1*strides[1] + k2*strides[2]) * elemSize
				if toBuffer {
					copy(buf[pos:pos+elemSize], device[off:off+elemSize])
				} else {
					copy(device[off:off+elemSize], buf[pos:pos+elemSize])
				}
				pos += elemSize
			}
		}
	}
	return nil
}

type fakeDeviceStream struct{}

func (s *fakeDeviceStream) Wait() error { return nil }

// fakeDeviceAllocator provisions fakeDeviceBuffer/fakeDeviceStream
// values, standing in for a real CUDA allocator.
type fakeDeviceAllocator struct{}

func (fakeDeviceAllocator) AllocateDevice(n uintptr, residency engine.Residency) (engine.DeviceBuffer, error) {
	return newFakeDeviceBuffer(n), nil
}

func (fakeDeviceAllocator) NewStream() (engine.DeviceStream, error) {
	return &fakeDeviceStream{}, nil
}

// fakeHostPinner is a no-op HostPinner: the staged transport path only
// needs Pin/Unpin to not error, not to actually page-lock memory.
type fakeHostPinner struct{}

func (fakeHostPinner) Pin(buf []byte) error   { return nil }
func (fakeHostPinner) Unpin(buf []byte) error { return nil }
