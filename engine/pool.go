package engine

import (
	"fmt"
	"sync"
)

// AllocGranularity is GG_ALLOC_GRANULARITY: a slot's requested element
// count is rounded up to a multiple of AllocGranularity and then sized
// in bytes at the current call's element type. With G=4 and element
// sizes of 2, 4 and 8 bytes, G times the smallest size is a multiple of
// the largest, so every slot's byte length divides evenly into elements
// of any supported type when it is reinterpreted. A later call at a
// larger element type that needs more bytes than the slot holds
// reallocates it.
const AllocGranularity = 4

func roundUpElems(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + AllocGranularity - 1) / AllocGranularity * AllocGranularity
}

type slotKey struct {
	field    int
	neighbor int
}

// slot is one BufferSlot: persistent, reinterpretable scratch storage
// for one (field, neighbour) pair, in either host or device memory.
type slot struct {
	elem     ElemType
	capBytes uintptr

	host []byte // valid when residency == Host

	device       DeviceBuffer // valid when residency != Host
	residency    Residency
	mirror       []byte // pinned host mirror, staged device paths only
	mirrorPinned bool
}

func (s *slot) capElems() int {
	if s.elem.SizeOf() == 0 {
		return 0
	}
	return int(s.capBytes / s.elem.SizeOf())
}

// PoolStats is a snapshot of buffer-pool activity, exposed for the
// metrics hooks and for the "buffer reuse" testable property. The
// event counters count once per (field, neighbour) pair passed to
// EnsureCapacity, although each pair has a send and a recv slot;
// BytesResident sums the bytes of both.
type PoolStats struct {
	Allocations    uint64 // number of times a pair's slots grew from zero capacity
	Reallocations  uint64 // number of times a pair's existing slots grew
	BytesResident  uintptr
	PinnedMirrors  uint64
	ReinterpretOps uint64
}

// BufferPool holds the persistent, process-wide (or, here,
// per-Context) send/recv scratch storage described in spec.md §4.2.
// It grows monotonically, never shrinks, and survives across
// UpdateHalo calls to amortize allocation cost.
type BufferPool struct {
	mu        sync.Mutex
	send      map[slotKey]*slot
	recv      map[slotKey]*slot
	allocator DeviceAllocator
	pinner    HostPinner
	stats     PoolStats
	closed    bool // true between Free() and the next EnsureCapacity
}

// NewBufferPool constructs an empty pool. allocator may be nil if no
// fields passed to UpdateHalo will ever be device-resident; pinner
// defaults to mlock/munlock on Linux and a no-op elsewhere.
func NewBufferPool(allocator DeviceAllocator, pinner HostPinner) *BufferPool {
	if pinner == nil {
		pinner = newDefaultPinner()
	}
	return &BufferPool{
		send:      make(map[slotKey]*slot),
		recv:      make(map[slotKey]*slot),
		allocator: allocator,
		pinner:    pinner,
	}
}

// Stats returns a snapshot of pool activity counters.
func (p *BufferPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *BufferPool) slotMap(isSend bool) map[slotKey]*slot {
	if isSend {
		return p.send
	}
	return p.recv
}

// EnsureCapacity grows (never shrinks) the send and recv slots for
// field index i (1-based) and neighbour n (1 or 2) so they can hold at
// least f.MaxHaloElems() elements of f.Elem, reinterpreting existing
// storage in place when the element type changed since the slot was
// last used. deviceAware controls whether the device-resident slot
// also needs a pinned host mirror (staged transport) or not
// (device-aware transport, which never allocates a mirror).
func (p *BufferPool) EnsureCapacity(i, n int, f *Field, deviceAware bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
	key := slotKey{field: i, neighbor: n}
	needElems := f.MaxHaloElems()
	before := p.stats
	if err := p.ensureOne(p.send, key, f, needElems, deviceAware); err != nil {
		return err
	}
	afterSend := p.stats
	if err := p.ensureOne(p.recv, key, f, needElems, deviceAware); err != nil {
		return err
	}
	// count each event once for the pair, not once per slot.
	pairEvent := func(b, s, r uint64) uint64 { return b + max(s-b, r-s) }
	p.stats.Allocations = pairEvent(before.Allocations, afterSend.Allocations, p.stats.Allocations)
	p.stats.Reallocations = pairEvent(before.Reallocations, afterSend.Reallocations, p.stats.Reallocations)
	p.stats.ReinterpretOps = pairEvent(before.ReinterpretOps, afterSend.ReinterpretOps, p.stats.ReinterpretOps)
	p.stats.PinnedMirrors = pairEvent(before.PinnedMirrors, afterSend.PinnedMirrors, p.stats.PinnedMirrors)
	return nil
}

func (p *BufferPool) ensureOne(m map[slotKey]*slot, key slotKey, f *Field, needElems int, deviceAware bool) error {
	s, ok := m[key]
	if !ok {
		s = &slot{}
		m[key] = s
	}

	needBytes := uintptr(roundUpElems(needElems)) * f.Elem.SizeOf()
	wasEmpty := s.capBytes == 0
	reinterpreted := !wasEmpty && s.elem != f.Elem

	if f.Residency == Host {
		if err := p.growHost(s, needBytes); err != nil {
			return err
		}
	} else {
		if err := p.growDevice(s, needBytes, f.Residency, deviceAware); err != nil {
			return err
		}
	}
	s.elem = f.Elem

	if wasEmpty {
		p.stats.Allocations++
	}
	if reinterpreted {
		p.stats.ReinterpretOps++
	}
	return nil
}

func (p *BufferPool) growHost(s *slot, needBytes uintptr) error {
	if s.capBytes >= needBytes {
		return nil
	}
	grown := s.capBytes > 0
	s.host = make([]byte, needBytes)
	s.capBytes = needBytes
	s.residency = Host
	if grown {
		p.stats.Reallocations++
	}
	p.stats.BytesResident += needBytes
	return nil
}

func (p *BufferPool) growDevice(s *slot, needBytes uintptr, residency Residency, deviceAware bool) error {
	if s.capBytes >= needBytes && s.residency == residency {
		if !deviceAware && s.mirror == nil {
			return p.attachMirror(s, needBytes)
		}
		if deviceAware && s.mirror != nil {
			p.detachMirror(s)
		}
		return nil
	}
	if p.allocator == nil {
		return fmt.Errorf("haloexchange: device field requires a DeviceAllocator")
	}
	grown := s.capBytes > 0
	dev, err := p.allocator.AllocateDevice(needBytes, residency)
	if err != nil {
		return fmt.Errorf("haloexchange: device allocation failed: %w", err)
	}
	s.device = dev
	s.capBytes = needBytes
	s.residency = residency
	if grown {
		p.stats.Reallocations++
	}
	p.stats.BytesResident += needBytes

	if !deviceAware {
		if err := p.attachMirror(s, needBytes); err != nil {
			return err
		}
	} else if s.mirror != nil {
		p.detachMirror(s)
	}
	return nil
}

func (p *BufferPool) attachMirror(s *slot, needBytes uintptr) error {
	if s.mirror != nil && uintptr(len(s.mirror)) >= needBytes {
		return nil
	}
	if s.mirrorPinned {
		_ = p.pinner.Unpin(s.mirror)
		s.mirrorPinned = false
	}
	s.mirror = make([]byte, needBytes)
	if err := p.pinner.Pin(s.mirror); err != nil {
		return fmt.Errorf("haloexchange: pinning host mirror failed: %w", err)
	}
	s.mirrorPinned = true
	p.stats.PinnedMirrors++
	return nil
}

func (p *BufferPool) detachMirror(s *slot) {
	if s.mirror == nil {
		return
	}
	if s.mirrorPinned {
		_ = p.pinner.Unpin(s.mirror)
	}
	s.mirror = nil
	s.mirrorPinned = false
}

// SendBufFlat returns a contiguous view of exactly f.Halosize(dim)
// elements of the send slot for (i, n).
func (p *BufferPool) SendBufFlat(i, n, dim int, f *Field) ([]byte, DeviceBuffer, []byte, error) {
	return p.bufFlat(p.send, i, n, dim, f)
}

// RecvBufFlat returns a contiguous view of exactly f.Halosize(dim)
// elements of the recv slot for (i, n).
func (p *BufferPool) RecvBufFlat(i, n, dim int, f *Field) ([]byte, DeviceBuffer, []byte, error) {
	return p.bufFlat(p.recv, i, n, dim, f)
}

// bufFlat returns (hostView, deviceBuffer, pinnedMirror, error). Only
// one of hostView/deviceBuffer is non-nil, matching the field's
// residency; pinnedMirror is non-nil only for staged device slots.
func (p *BufferPool) bufFlat(m map[slotKey]*slot, i, n, dim int, f *Field) ([]byte, DeviceBuffer, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, nil, ErrPoolClosed
	}
	s, ok := m[slotKey{field: i, neighbor: n}]
	if !ok {
		return nil, nil, nil, fmt.Errorf("haloexchange: no buffer slot for field %d neighbour %d; call EnsureCapacity first", i, n)
	}
	n64 := uintptr(f.Halosize(dim)) * f.Elem.SizeOf()
	if n64 > s.capBytes {
		return nil, nil, nil, fmt.Errorf("haloexchange: slot for field %d neighbour %d too small for dim %d", i, n, dim)
	}
	if f.Residency == Host {
		return s.host[:n64], nil, nil, nil
	}
	var mirror []byte
	if s.mirror != nil {
		mirror = s.mirror[:n64]
	}
	return nil, s.device, mirror, nil
}

// Free releases all persistent scratch: device slots, pinned host
// mirrors, and drops pool state. Implements
// free_update_halo_buffers().
func (p *BufferPool) Free() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.send {
		p.detachMirror(s)
	}
	for _, s := range p.recv {
		p.detachMirror(s)
	}
	p.send = make(map[slotKey]*slot)
	p.recv = make(map[slotKey]*slot)
	p.stats = PoolStats{}
	p.closed = true
}
