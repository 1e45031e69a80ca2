package engine

import "context"

// Request is a handle to a posted non-blocking transport operation.
// It mirrors fi.CompletionContext's await-once shape: Wait blocks
// until the provider reports completion and may only be called once.
type Request interface {
	// Wait blocks until the operation completes, returning any
	// transport-level error. For a receive, the destination buffer
	// passed to Communicator.Irecv is populated by the time Wait
	// returns without error.
	Wait(ctx context.Context) error
}

// Communicator is the out-of-scope peer-transport collaborator: the
// MPI (or MPI-like) communicator handle the spec calls comm(). This
// package only ever posts non-blocking point-to-point operations
// against it; collective operations, communicator construction, and
// rank/size queries belong to the caller's process-grid layer.
type Communicator interface {
	// Isend posts a non-blocking send of buf to peer, tagged tag.
	// The buffer must remain valid until the returned Request's Wait
	// completes.
	Isend(ctx context.Context, peer Rank, tag int, buf []byte) (Request, error)
	// Irecv posts a non-blocking receive into buf from peer, tagged
	// tag. The buffer must remain valid until the returned Request's
	// Wait completes, at which point it holds the received plane.
	Irecv(ctx context.Context, peer Rank, tag int, buf []byte) (Request, error)
}

// DeviceCommunicator is an optional capability a Communicator may
// implement to support the device-aware transport path, posting
// directly against device memory instead of a host buffer. Callers
// that never set Grid.CUDAAwareMPI/ROCmAwareMPI to true never need it;
// the transport layer returns a capability error if device-aware mode
// is requested against a Communicator that does not implement this.
type DeviceCommunicator interface {
	IsendDevice(ctx context.Context, peer Rank, tag int, buf DeviceBuffer, offset, length uintptr) (Request, error)
	IrecvDevice(ctx context.Context, peer Rank, tag int, buf DeviceBuffer, offset, length uintptr) (Request, error)
}
