package engine

import (
	"context"
	"fmt"
)

// HaloTag derives a transport tag from a field index and dimension.
// Both sides of an exchange compute the same tag independently: the
// sender posts Isend for neighbour n along dim, and the receiver posts
// Irecv for its own neighbour Opposite(n) along the same dim, so the
// tag must depend on (i, dim) only, never on which side posted it.
func HaloTag(i, dim int) int {
	return i*8 + dim
}

// IrecvHalo posts the non-blocking receive for field i's halo from
// neighbour n along dim, per spec.md §4.5. It returns a nil Request
// (and nil error) when dim carries no halo traffic for f or when no
// neighbour exists on that side; callers arm a Handle only when the
// returned Request is non-nil.
func IrecvHalo(ctx context.Context, comm Communicator, g Grid, pool *BufferPool, i, n, dim int, f *Field) (Request, error) {
	if g.Overlap(dim, f) < 2 || !g.HasNeighbor(n, dim) {
		return nil, nil
	}
	peer := g.Neighbor(n, dim)
	tag := HaloTag(i, dim)

	if f.Residency.IsDevice() && DeviceAware(g, dim, f) {
		dc, ok := comm.(DeviceCommunicator)
		if !ok {
			return nil, fmt.Errorf("haloexchange: dim %d is device-aware but communicator does not implement DeviceCommunicator", dim)
		}
		_, dev, _, err := pool.RecvBufFlat(i, n, dim, f)
		if err != nil {
			return nil, err
		}
		length := uintptr(f.Halosize(dim)) * f.Elem.SizeOf()
		return dc.IrecvDevice(ctx, peer, tag, dev, 0, length)
	}

	host, _, mirror, err := pool.RecvBufFlat(i, n, dim, f)
	if err != nil {
		return nil, err
	}
	buf := host
	if buf == nil {
		buf = mirror
	}
	if buf == nil {
		return nil, fmt.Errorf("haloexchange: no host-addressable recv buffer for field %d neighbour %d", i, n)
	}
	return comm.Irecv(ctx, peer, tag, buf)
}

// IsendHalo posts the non-blocking send of field i's already-packed
// halo plane to neighbour n along dim. The caller must have packed the
// send buffer (via PackHost/PackDevice/PackStaged) before calling this.
func IsendHalo(ctx context.Context, comm Communicator, g Grid, pool *BufferPool, i, n, dim int, f *Field) (Request, error) {
	if g.Overlap(dim, f) < 2 || !g.HasNeighbor(n, dim) {
		return nil, nil
	}
	peer := g.Neighbor(n, dim)
	tag := HaloTag(i, dim)

	if f.Residency.IsDevice() && DeviceAware(g, dim, f) {
		dc, ok := comm.(DeviceCommunicator)
		if !ok {
			return nil, fmt.Errorf("haloexchange: dim %d is device-aware but communicator does not implement DeviceCommunicator", dim)
		}
		_, dev, _, err := pool.SendBufFlat(i, n, dim, f)
		if err != nil {
			return nil, err
		}
		length := uintptr(f.Halosize(dim)) * f.Elem.SizeOf()
		return dc.IsendDevice(ctx, peer, tag, dev, 0, length)
	}

	host, _, mirror, err := pool.SendBufFlat(i, n, dim, f)
	if err != nil {
		return nil, err
	}
	buf := host
	if buf == nil {
		buf = mirror
	}
	if buf == nil {
		return nil, fmt.Errorf("haloexchange: no host-addressable send buffer for field %d neighbour %d", i, n)
	}
	return comm.Isend(ctx, peer, tag, buf)
}

// SendRecvHaloLocal short-circuits the transport entirely for the
// local (self-neighbour) case: a periodic dimension with exactly one
// process, where neighbour n along dim is this same rank. It copies
// the already-packed send buffer for side n directly into the recv
// buffer for the opposite side. When f is device-resident it copies
// device-to-device and, where both slots carry a pinned host mirror
// (the staged path packs into and unpacks from the mirror), also
// copies mirror to mirror. Otherwise it is a host memcopy, split
// across goroutines above ThreadCopyThreshold when
// Grid.LoopVectorization is set.
func SendRecvHaloLocal(pool *BufferPool, g Grid, i, n, dim int, f *Field) error {
	if g.Overlap(dim, f) < 2 {
		return nil
	}
	opp := Opposite(n)

	sendHost, sendDev, sendMirror, err := pool.SendBufFlat(i, n, dim, f)
	if err != nil {
		return err
	}
	recvHost, recvDev, recvMirror, err := pool.RecvBufFlat(i, opp, dim, f)
	if err != nil {
		return err
	}

	if f.Residency.IsDevice() {
		if sendDev == nil || recvDev == nil {
			return fmt.Errorf("haloexchange: local self-exchange requires device buffers for field %d", i)
		}
		n64 := uintptr(f.Halosize(dim)) * f.Elem.SizeOf()
		if err := recvDev.CopyDeviceToDevice(0, sendDev, 0, n64); err != nil {
			return err
		}
		if sendMirror != nil && recvMirror != nil {
			copy(recvMirror, sendMirror)
		}
		return nil
	}

	src, dst := sendHost, recvHost
	if src == nil {
		src = sendMirror
	}
	if dst == nil {
		dst = recvMirror
	}
	if src == nil || dst == nil {
		return fmt.Errorf("haloexchange: no host-addressable buffers for local self-exchange of field %d", i)
	}
	workers := 1
	if g.LoopVectorization(dim) {
		workers = 4
	}
	return threadedCopy(dst, src, g.LoopVectorization(dim), workers)
}
