package engine

import "unsafe"

// fakeDeviceBuffer is a pure-Go stand-in for a CUDA/ROCm allocation,
// backing DeviceBuffer with an ordinary byte slice so pack/unpack and
// transport tests can exercise the device-resident code paths without
// a real GPU. Mirrors the teacher's own use of the software sockets
// provider in place of real RDMA hardware in its test helpers.
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

func (b *fakeDeviceBuffer) LaunchPlaneCopy(stream DeviceStream, shape [3]int, elem ElemType, dim, singletonIdx int, scratch DeviceBuffer, toBuffer bool) error {
	sb := scratch.(*fakeDeviceBuffer)
	if toBuffer {
		return fakePlaneCopy(b.data, sb.data, shape, elem, dim, singletonIdx, true)
	}
	return fakePlaneCopy(b.data, sb.data, shape, elem, dim, singletonIdx, false)
}

func (b *fakeDeviceBuffer) CopyDeviceToDevice(dstOffset uintptr, src DeviceBuffer, srcOffset uintptr, n uintptr) error {
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

func (b *fakeDeviceBuffer) CopyPlaneToHost(stream DeviceStream, shape [3]int, elem ElemType, dim, singletonIdx int, host []byte) error {
	return fakePlaneCopy(b.data, host, shape, elem, dim, singletonIdx, true)
}

func (b *fakeDeviceBuffer) CopyPlaneFromHost(stream DeviceStream, shape [3]int, elem ElemType, dim, singletonIdx int, host []byte) error {
	return fakePlaneCopy(b.data, host, shape, elem, dim, singletonIdx, false)
}

// fakePlaneCopy copies the plane of device (row-major, axis 0
// fastest-varying, sized per shape/elem) at singletonIdx along dim
// to/from a contiguous buf, independent of any *Field.
func fakePlaneCopy(device, buf []byte, shape [3]int, elem ElemType, dim, singletonIdx int, toBuffer bool) error {
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
// values, standing in for a real CUDA/ROCm allocator in tests.
type fakeDeviceAllocator struct{}

func (fakeDeviceAllocator) AllocateDevice(n uintptr, residency Residency) (DeviceBuffer, error) {
	return newFakeDeviceBuffer(n), nil
}

func (fakeDeviceAllocator) NewStream() (DeviceStream, error) {
	return &fakeDeviceStream{}, nil
}
