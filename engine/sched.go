package engine

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

// HandleState is one of the spec's HandleSlot states.
type HandleState uint8

const (
	Unset HandleState = iota
	Armed
	Running
	Complete
)

func (s HandleState) String() string {
	switch s {
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Complete:
		return "complete"
	default:
		return "unset"
	}
}

// Handle is one HandleSlot: a deferred pack or unpack task (host) or
// stream operation (device). Host handles are built at arm time but
// not started; Wait is what starts and joins them, in-line on the
// calling goroutine, matching the spec's cooperative single-worker
// task semantics. Device handles enqueue their work immediately on
// arm and Wait only synchronizes the stream.
type Handle struct {
	mu       sync.Mutex
	state    HandleState
	fn       func() error
	stream   DeviceStream
	err      error
	resource string // "iwrite"/"iread", set by HandleTable; used only in ErrInvalidHandle
}

// ArmHost builds a host task from fn without starting it.
func (h *Handle) ArmHost(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn = fn
	h.stream = nil
	h.err = nil
	h.state = Armed
}

// ArmDevice records that the device operation has already been
// enqueued on stream (immediate submission); Wait will synchronize the
// stream rather than invoke a closure.
func (h *Handle) ArmDevice(stream DeviceStream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stream = stream
	h.fn = nil
	h.err = nil
	h.state = Running
}

// State reports the handle's current lifecycle state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Wait starts (if host) or synchronizes (if device) the deferred
// operation, exactly once, and returns its error. A handle that was
// never armed, or that was armed and later Reset without being
// re-armed, is Unset; waiting on it is caller error, not a silent
// no-op, since it means the caller is addressing a (field, neighbour)
// slot that either never had a neighbour or belongs to a stale call.
func (h *Handle) Wait() error {
	h.mu.Lock()
	if h.state == Unset {
		resource := h.resource
		if resource == "" {
			resource = "handle"
		}
		h.mu.Unlock()
		return ErrInvalidHandle{Resource: resource}
	}
	if h.state == Complete {
		err := h.err
		h.mu.Unlock()
		return err
	}
	fn, stream, state := h.fn, h.stream, h.state
	h.state = Running
	h.mu.Unlock()

	var err error
	switch state {
	case Armed:
		if fn != nil {
			err = fn()
		}
	case Running:
		if stream != nil {
			err = stream.Wait()
		}
	}

	h.mu.Lock()
	h.state = Complete
	h.err = err
	h.mu.Unlock()
	return err
}

// Reset returns the handle to Unset, ready to be armed again by the
// next call.
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = Unset
	h.fn = nil
	h.stream = nil
	h.err = nil
}

// HandleTable is one of the spec's two keyed tables (pack="iwrite" or
// unpack="iread"), sized NNeighborsPerDim x max(field_count) and
// reused across calls: only new (field, neighbour) entries are
// materialized when a call widens the table.
type HandleTable struct {
	mu    sync.Mutex
	kind  string
	rows  map[int][NNeighborsPerDim + 1]*Handle // field index -> neighbour slots (1,2 used)
	order *queue.Queue                          // FIFO arming order, for deterministic draining
}

// NewHandleTable constructs an empty table. kind is "iwrite" or
// "iread", used only for diagnostics.
func NewHandleTable(kind string) *HandleTable {
	return &HandleTable{
		kind:  kind,
		rows:  make(map[int][NNeighborsPerDim + 1]*Handle),
		order: queue.New(),
	}
}

// Handle returns the handle for (field, neighbour), materializing it
// lazily on first use and growing the table to cover field.
func (t *HandleTable) Handle(field, neighbor int) *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	row, ok := t.rows[field]
	if !ok {
		row = [NNeighborsPerDim + 1]*Handle{}
	}
	if row[neighbor] == nil {
		row[neighbor] = &Handle{resource: t.kind}
	}
	t.rows[field] = row
	return row[neighbor]
}

// ArmHost arms the host handle for (field, neighbour) with fn and
// records it in the FIFO arming order.
func (t *HandleTable) ArmHost(field, neighbor int, fn func() error) *Handle {
	h := t.Handle(field, neighbor)
	h.ArmHost(fn)
	t.mu.Lock()
	t.order.Add(h)
	t.mu.Unlock()
	return h
}

// ArmDevice arms the device handle for (field, neighbour) as already
// submitted on stream.
func (t *HandleTable) ArmDevice(field, neighbor int, stream DeviceStream) *Handle {
	h := t.Handle(field, neighbor)
	h.ArmDevice(stream)
	t.mu.Lock()
	t.order.Add(h)
	t.mu.Unlock()
	return h
}

// DrainArmed waits every handle armed since the last DrainArmed or
// Reset (or since the table was built), in the order they were armed, and
// empties that arming order. It is a debugging/diagnostic aid: the orchestrator
// itself waits handles in the specific (n, field) order the spec
// requires, not via this method, but DrainArmed gives tests and
// tracing a single deterministic join point.
func (t *HandleTable) DrainArmed() error {
	t.mu.Lock()
	pending := make([]*Handle, 0, t.order.Length())
	for t.order.Length() > 0 {
		pending = append(pending, t.order.Remove().(*Handle))
	}
	t.mu.Unlock()

	var first error
	for _, h := range pending {
		if err := h.Wait(); err != nil && first == nil {
			first = fmt.Errorf("haloexchange: %s handle failed: %w", t.kind, err)
		}
	}
	return first
}

// Reset clears every handle's state back to Unset without discarding
// the table's capacity, ready for the next call to re-arm only the
// (field, neighbour) pairs that have a neighbour this time.
func (t *HandleTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range t.rows {
		for _, h := range row {
			if h != nil {
				h.Reset()
			}
		}
	}
	for t.order.Length() > 0 {
		t.order.Remove()
	}
}
