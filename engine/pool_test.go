package engine

import (
	"errors"
	"testing"
)

func poolField(t *testing.T, elem ElemType, ndims int, shape [3]int) *Field {
	t.Helper()
	f, err := NewHostField(elem, ndims, shape, make([]byte, shape[0]*shape[1]*shape[2]*int(elem.SizeOf())))
	if err != nil {
		t.Fatalf("NewHostField: %v", err)
	}
	return f
}

func TestBufferPoolReuseAcrossCalls(t *testing.T) {
	p := NewBufferPool(nil, nil)
	f := poolField(t, Float32, 1, [3]int{10, 1, 1})

	if err := p.EnsureCapacity(1, 1, f, false); err != nil {
		t.Fatalf("first EnsureCapacity: %v", err)
	}
	stats := p.Stats()
	if stats.Allocations != 1 {
		t.Fatalf("allocations = %d, want 1", stats.Allocations)
	}
	if stats.Reallocations != 0 {
		t.Fatalf("reallocations = %d, want 0", stats.Reallocations)
	}

	if err := p.EnsureCapacity(1, 1, f, false); err != nil {
		t.Fatalf("second EnsureCapacity: %v", err)
	}
	stats = p.Stats()
	if stats.Allocations != 1 || stats.Reallocations != 0 {
		t.Fatalf("identical shape reused a slot, got %+v", stats)
	}
}

func TestBufferPoolReinterpretLargerTypeReallocates(t *testing.T) {
	p := NewBufferPool(nil, nil)
	small := poolField(t, Float32, 1, [3]int{10, 1, 1})
	large := poolField(t, Float64, 1, [3]int{10, 1, 1})

	if err := p.EnsureCapacity(1, 1, small, false); err != nil {
		t.Fatalf("EnsureCapacity float32: %v", err)
	}
	if err := p.EnsureCapacity(1, 1, large, false); err != nil {
		t.Fatalf("EnsureCapacity float64: %v", err)
	}
	stats := p.Stats()
	if stats.Reallocations != 1 {
		t.Fatalf("growing to a larger element type should reallocate once, got %+v", stats)
	}
	if stats.ReinterpretOps != 1 {
		t.Fatalf("growing to a different element type should count a reinterpretation, got %+v", stats)
	}
}

func TestBufferPoolReinterpretSmallerTypeNoRealloc(t *testing.T) {
	p := NewBufferPool(nil, nil)
	large := poolField(t, Float64, 1, [3]int{10, 1, 1})
	small := poolField(t, Float32, 1, [3]int{10, 1, 1})

	if err := p.EnsureCapacity(1, 1, large, false); err != nil {
		t.Fatalf("EnsureCapacity float64: %v", err)
	}
	if err := p.EnsureCapacity(1, 1, small, false); err != nil {
		t.Fatalf("EnsureCapacity float32: %v", err)
	}
	stats := p.Stats()
	if stats.Reallocations != 0 {
		t.Fatalf("shrinking the viewed element type should never reallocate, got %+v", stats)
	}
	if stats.ReinterpretOps != 1 {
		t.Fatalf("changing element type should still count a reinterpretation, got %+v", stats)
	}
}

func TestBufferPoolFreeResetsStats(t *testing.T) {
	p := NewBufferPool(nil, nil)
	f := poolField(t, Float32, 1, [3]int{10, 1, 1})
	if err := p.EnsureCapacity(1, 1, f, false); err != nil {
		t.Fatalf("EnsureCapacity: %v", err)
	}
	p.Free()
	if stats := p.Stats(); stats != (PoolStats{}) {
		t.Fatalf("Free did not reset stats, got %+v", stats)
	}
	if _, _, _, err := p.SendBufFlat(1, 1, 1, f); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("SendBufFlat after Free = %v, want ErrPoolClosed", err)
	}
	if err := p.EnsureCapacity(1, 1, f, false); err != nil {
		t.Fatalf("EnsureCapacity after Free: %v", err)
	}
	if _, _, _, err := p.SendBufFlat(1, 1, 1, f); err != nil {
		t.Fatalf("SendBufFlat after re-provisioning post-Free: %v", err)
	}
}

func TestBufferPoolDeviceFieldWithoutAllocatorErrors(t *testing.T) {
	p := NewBufferPool(nil, nil)
	dev := newFakeDeviceBuffer(80)
	f, err := NewDeviceField(Float64, 1, [3]int{10, 1, 1}, DeviceCUDA, dev)
	if err != nil {
		t.Fatalf("NewDeviceField: %v", err)
	}
	if err := p.EnsureCapacity(1, 1, f, true); err == nil {
		t.Fatalf("expected error provisioning a device slot with no DeviceAllocator")
	}
}

func TestBufferPoolStagedPathAttachesMirror(t *testing.T) {
	p := NewBufferPool(fakeDeviceAllocator{}, nil)
	dev := newFakeDeviceBuffer(80)
	f, err := NewDeviceField(Float64, 1, [3]int{10, 1, 1}, DeviceCUDA, dev)
	if err != nil {
		t.Fatalf("NewDeviceField: %v", err)
	}
	if err := p.EnsureCapacity(1, 1, f, false); err != nil {
		t.Fatalf("EnsureCapacity staged: %v", err)
	}
	_, devBuf, mirror, err := p.SendBufFlat(1, 1, 1, f)
	if err != nil {
		t.Fatalf("SendBufFlat: %v", err)
	}
	if devBuf == nil {
		t.Fatalf("expected a device buffer for a device-resident field")
	}
	if mirror == nil {
		t.Fatalf("staged (non-device-aware) slot should have a pinned host mirror")
	}
	if stats := p.Stats(); stats.PinnedMirrors != 1 {
		t.Fatalf("PinnedMirrors = %d, want 1", stats.PinnedMirrors)
	}
}

func TestBufferPoolDeviceAwareNoMirror(t *testing.T) {
	p := NewBufferPool(fakeDeviceAllocator{}, nil)
	dev := newFakeDeviceBuffer(80)
	f, err := NewDeviceField(Float64, 1, [3]int{10, 1, 1}, DeviceCUDA, dev)
	if err != nil {
		t.Fatalf("NewDeviceField: %v", err)
	}
	if err := p.EnsureCapacity(1, 1, f, true); err != nil {
		t.Fatalf("EnsureCapacity device-aware: %v", err)
	}
	_, _, mirror, err := p.SendBufFlat(1, 1, 1, f)
	if err != nil {
		t.Fatalf("SendBufFlat: %v", err)
	}
	if mirror != nil {
		t.Fatalf("device-aware slot should never allocate a pinned host mirror")
	}
}
