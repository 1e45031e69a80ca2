// Package engine implements the halo-exchange core: the buffer pool,
// pack/unpack engine, task/stream scheduler, and transport glue that
// update_halo drives. The process grid, device runtime, and peer
// transport are not implemented here; callers supply them through the
// Grid, DeviceBuffer, and Communicator interfaces.
package engine

import "fmt"

// ElemType identifies the numeric element type of a Field. The set is
// wider than the spec's binary32/binary64 minimum so buffer-pool
// reinterpretation has more than two sizes to exercise.
type ElemType uint8

const (
	// Unknown is the zero value and never a valid Field element type.
	Unknown ElemType = iota
	Float16
	Float32
	Float64
	Int32
	Int64
)

// SizeOf returns the element size in bytes.
func (t ElemType) SizeOf() uintptr {
	switch t {
	case Float16:
		return 2
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

func (t ElemType) String() string {
	switch t {
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// Residency reports where a Field's backing storage lives.
type Residency uint8

const (
	// Host indicates ordinary process memory.
	Host Residency = iota
	// DeviceCUDA indicates Nvidia device memory.
	DeviceCUDA
	// DeviceROCm indicates AMD device memory.
	DeviceROCm
)

func (r Residency) String() string {
	switch r {
	case Host:
		return "host"
	case DeviceCUDA:
		return "cuda"
	case DeviceROCm:
		return "rocm"
	default:
		return "unknown"
	}
}

// IsDevice reports whether the residency requires a DeviceBuffer.
func (r Residency) IsDevice() bool {
	return r == DeviceCUDA || r == DeviceROCm
}

// DeviceBuffer is the out-of-scope device-memory collaborator: a
// handle to device-resident storage plus the minimal operations the
// pack/unpack engine and transport need. Implementations wrap a real
// GPU runtime (CUDA, ROCm) in production and an in-memory fake in
// tests.
type DeviceBuffer interface {
	// Pointer exposes an opaque device address for kernel launches.
	Pointer() uintptr
	// ByteLength reports the registered length in bytes.
	ByteLength() uintptr
	// LaunchPlaneCopy enqueues, on stream, a device-kernel copy of the
	// 2-D plane at index singletonIdx along dim (0-indexed, within a
	// 3-D array of the given shape and element type) between this
	// device buffer and a contiguous device-resident scratch buffer.
	// toBuffer selects the field-to-buffer (pack) direction; false
	// selects the reverse (unpack). The call returns once the kernel
	// is enqueued; it does not block on completion.
	LaunchPlaneCopy(stream DeviceStream, shape [3]int, elem ElemType, dim, singletonIdx int, scratch DeviceBuffer, toBuffer bool) error
	// CopyDeviceToDevice copies n bytes from src at srcOffset into this
	// buffer at dstOffset, used by the local (self-neighbour) path.
	CopyDeviceToDevice(dstOffset uintptr, src DeviceBuffer, srcOffset uintptr, n uintptr) error
	// CopyToHost copies len(dst) bytes starting at srcOffset into dst.
	CopyToHost(dst []byte, srcOffset uintptr) error
	// CopyFromHost copies src into this buffer starting at dstOffset.
	CopyFromHost(dstOffset uintptr, src []byte) error
	// CopyPlaneToHost performs a pitched 3-D memcopy of the plane at
	// singletonIdx along dim out of device memory (treated as shape of
	// the given element type) into a contiguous pinned host buffer.
	// Used only by the staged transport path (dim != 1, non-device-
	// aware Nvidia transport); a real implementation issues a native
	// 3-D async memcopy with device-side pitch sizeof(T)*shape[0] and
	// host-side pitch sizeof(T)*plane-run-length.
	CopyPlaneToHost(stream DeviceStream, shape [3]int, elem ElemType, dim, singletonIdx int, host []byte) error
	// CopyPlaneFromHost is the reverse of CopyPlaneToHost.
	CopyPlaneFromHost(stream DeviceStream, shape [3]int, elem ElemType, dim, singletonIdx int, host []byte) error
}

// DeviceStream is a non-blocking ordered sequence of device
// operations, one per (field, neighbour) pair per the spec's
// scheduler design.
type DeviceStream interface {
	// Wait blocks until all operations enqueued on the stream so far
	// have completed.
	Wait() error
}

// Field is an externally owned, dense N-dimensional (N in 1..3) array
// that the engine borrows for the duration of one update_halo call. It
// never copies or frees the backing storage.
type Field struct {
	Elem      ElemType
	NDims     int
	Shape     [3]int // dims beyond NDims are padded with 1
	Residency Residency

	// Host holds the raw row-major bytes when Residency == Host.
	Host []byte
	// Device holds the backing storage when Residency != Host.
	Device DeviceBuffer

	// identity distinguishes aliased Field values passed to the same
	// call; it is set to the address of the caller's backing storage
	// and is not otherwise interpreted.
	identity uintptr
}

// NewHostField wraps caller-owned host memory. data must already be
// sized shape[0]*shape[1]*shape[2]*elem.SizeOf() bytes, row-major with
// the first axis varying fastest.
func NewHostField(elem ElemType, ndims int, shape [3]int, data []byte) (*Field, error) {
	if ndims < 1 || ndims > 3 {
		return nil, fmt.Errorf("haloexchange: field has %d dims, want 1..3", ndims)
	}
	shape = padShape(ndims, shape)
	want := elemCount(shape) * int(elem.SizeOf())
	if len(data) != want {
		return nil, fmt.Errorf("haloexchange: field data is %d bytes, want %d", len(data), want)
	}
	f := &Field{Elem: elem, NDims: ndims, Shape: shape, Residency: Host, Host: data}
	if len(data) > 0 {
		f.identity = uintptr(unsafePointer(data))
	}
	return f, nil
}

// NewDeviceField wraps caller-owned device memory of the given
// residency (DeviceCUDA or DeviceROCm).
func NewDeviceField(elem ElemType, ndims int, shape [3]int, residency Residency, dev DeviceBuffer) (*Field, error) {
	if ndims < 1 || ndims > 3 {
		return nil, fmt.Errorf("haloexchange: field has %d dims, want 1..3", ndims)
	}
	if !residency.IsDevice() {
		return nil, fmt.Errorf("haloexchange: residency %s is not device-resident", residency)
	}
	if dev == nil {
		return nil, fmt.Errorf("haloexchange: nil device buffer")
	}
	shape = padShape(ndims, shape)
	return &Field{Elem: elem, NDims: ndims, Shape: shape, Residency: residency, Device: dev, identity: dev.Pointer()}, nil
}

func padShape(ndims int, shape [3]int) [3]int {
	for i := ndims; i < 3; i++ {
		shape[i] = 1
	}
	return shape
}

func elemCount(shape [3]int) int {
	return shape[0] * shape[1] * shape[2]
}

// Identity returns an opaque value that is equal for two Field values
// that alias the same backing storage, used by the orchestrator's
// duplicate-field precondition check.
func (f *Field) Identity() uintptr {
	if f == nil {
		return 0
	}
	return f.identity
}

// Size returns the extent along dim (1-indexed, matching the spec's
// dim numbering).
func (f *Field) Size(dim int) int {
	if f == nil || dim < 1 || dim > 3 {
		return 0
	}
	return f.Shape[dim-1]
}

// Halosize is the cardinality of the 2-D plane orthogonal to dim: the
// product of Size(k) for k != dim, or 1 for a 1-D field.
func (f *Field) Halosize(dim int) int {
	if f == nil {
		return 0
	}
	n := 1
	for k := 1; k <= 3; k++ {
		if k == dim {
			continue
		}
		n *= f.Size(k)
	}
	return n
}

// MaxHaloElems is the pool sizing bound: the product of all but the
// smallest axis (1 for a 1-D field).
func (f *Field) MaxHaloElems() int {
	if f == nil {
		return 0
	}
	dims := make([]int, 0, 3)
	for k := 0; k < f.NDims; k++ {
		dims = append(dims, f.Shape[k])
	}
	if len(dims) <= 1 {
		return 1
	}
	// sort descending, drop the smallest, multiply the rest.
	for i := 0; i < len(dims); i++ {
		for j := i + 1; j < len(dims); j++ {
			if dims[j] > dims[i] {
				dims[i], dims[j] = dims[j], dims[i]
			}
		}
	}
	n := 1
	for _, d := range dims[:len(dims)-1] {
		n *= d
	}
	return n
}
