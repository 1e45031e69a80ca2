// Package loopback implements engine.Communicator and engine.Grid
// entirely within one process: a fixed-size Cartesian decomposition
// where every "rank" is a goroutine-reachable peer connected by
// channels rather than sockets. It exists so the engine package and
// examples can exercise a full multi-rank exchange without a real MPI
// library, in the spirit of btracey's mpi.Network (a net.Conn-backed
// Mpi implementation of the same interface used in production).
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/latticegrid/haloexchange/engine"
)

// message is one posted send sitting in a peer's inbox, keyed by
// (source, tag) so a matching Irecv can claim it.
type message struct {
	data []byte
	done chan error
}

type inboxKey struct {
	src engine.Rank
	tag int
}

// Fabric is the shared loopback address space: every World constructed
// from the same Fabric can address every other by rank.
type Fabric struct {
	mu     sync.Mutex
	inbox  map[engine.Rank]map[inboxKey][]*message
	notify map[engine.Rank]map[inboxKey][]chan struct{}
}

// NewFabric constructs an empty, unaddressed loopback fabric.
func NewFabric() *Fabric {
	return &Fabric{
		inbox:  make(map[engine.Rank]map[inboxKey][]*message),
		notify: make(map[engine.Rank]map[inboxKey][]chan struct{}),
	}
}

func (f *Fabric) post(dst engine.Rank, key inboxKey, m *message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.inbox[dst]
	if !ok {
		row = make(map[inboxKey][]*message)
		f.inbox[dst] = row
	}
	row[key] = append(row[key], m)
	for _, ch := range f.notify[dst][key] {
		close(ch)
	}
	delete(f.notify[dst], key)
}

// claim removes and returns the oldest pending message at (dst, key),
// or nil if none is queued yet.
func (f *Fabric) claim(dst engine.Rank, key inboxKey) *message {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.inbox[dst]
	q := row[key]
	if len(q) == 0 {
		return nil
	}
	m := q[0]
	row[key] = q[1:]
	return m
}

func (f *Fabric) waitChan(dst engine.Rank, key inboxKey) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	if row := f.notify[dst]; row != nil && len(row[key]) == 0 {
		// fallthrough: register below regardless, harmless if a post
		// races in between the caller's claim and this registration,
		// since the caller re-claims after the channel closes.
	}
	if f.notify[dst] == nil {
		f.notify[dst] = make(map[inboxKey][]chan struct{})
	}
	f.notify[dst][key] = append(f.notify[dst][key], ch)
	return ch
}

// World is one rank's view of a Fabric: an engine.Communicator. The
// matching engine.Grid is a separate CartGrid built with NewCartGrid.
type World struct {
	fabric *Fabric
	me     engine.Rank
}

// NewWorld binds rank me to fabric, returning its Communicator.
func NewWorld(fabric *Fabric, me engine.Rank) *World {
	return &World{fabric: fabric, me: me}
}

type sendRequest struct {
	done chan error
}

func (r *sendRequest) Wait(ctx context.Context) error {
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Isend hands buf to peer's inbox immediately; since loopback delivery
// is a synchronous map write under a mutex, the send is already
// "complete" by the time Isend returns, and Wait never blocks absent
// cancellation.
func (w *World) Isend(ctx context.Context, peer engine.Rank, tag int, buf []byte) (engine.Request, error) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	done := make(chan error, 1)
	w.fabric.post(peer, inboxKey{src: w.me, tag: tag}, &message{data: cp, done: done})
	done <- nil
	return &sendRequest{done: done}, nil
}

type recvRequest struct {
	fabric *Fabric
	dst    engine.Rank
	key    inboxKey
	buf    []byte
}

func (r *recvRequest) Wait(ctx context.Context) error {
	for {
		if m := r.fabric.claim(r.dst, r.key); m != nil {
			n := copy(r.buf, m.data)
			if n != len(m.data) {
				return fmt.Errorf("loopback: recv buffer is %d bytes, message is %d", len(r.buf), len(m.data))
			}
			return nil
		}
		ch := r.fabric.waitChan(r.dst, r.key)
		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Irecv returns a Request that claims the next message from peer
// tagged tag, blocking in Wait until Isend (from anywhere in the
// fabric) has posted one.
func (w *World) Irecv(ctx context.Context, peer engine.Rank, tag int, buf []byte) (engine.Request, error) {
	return &recvRequest{fabric: w.fabric, dst: w.me, key: inboxKey{src: peer, tag: tag}, buf: buf}, nil
}

// IsendDevice and IrecvDevice make World also satisfy
// engine.DeviceCommunicator, staging through a temporary host buffer
// via the DeviceBuffer's own CopyToHost/CopyFromHost. Loopback has no
// real device-to-device network path, but implementing this lets
// tests exercise the device-aware branch of engine/transport.go
// without a real GPU transport.
func (w *World) IsendDevice(ctx context.Context, peer engine.Rank, tag int, buf engine.DeviceBuffer, offset, length uintptr) (engine.Request, error) {
	tmp := make([]byte, length)
	if err := buf.CopyToHost(tmp, offset); err != nil {
		return nil, fmt.Errorf("loopback: IsendDevice: %w", err)
	}
	return w.Isend(ctx, peer, tag, tmp)
}

type deviceRecvRequest struct {
	inner  engine.Request
	buf    engine.DeviceBuffer
	offset uintptr
	tmp    []byte
}

func (r *deviceRecvRequest) Wait(ctx context.Context) error {
	if err := r.inner.Wait(ctx); err != nil {
		return err
	}
	return r.buf.CopyFromHost(r.offset, r.tmp)
}

func (w *World) IrecvDevice(ctx context.Context, peer engine.Rank, tag int, buf engine.DeviceBuffer, offset, length uintptr) (engine.Request, error) {
	tmp := make([]byte, length)
	req, err := w.Irecv(ctx, peer, tag, tmp)
	if err != nil {
		return nil, err
	}
	return &deviceRecvRequest{inner: req, buf: buf, offset: offset, tmp: tmp}, nil
}
