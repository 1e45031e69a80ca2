package haloexchange

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/latticegrid/haloexchange/engine"
)

// UpdateHalo brings every field's ghost cells into agreement with its
// neighbours' interior data, one dimension at a time. For each
// dimension it arms the pack handles for every existing neighbour,
// classifies the dimension as remote, local (self-neighbour on every
// side, a periodic single-process dimension), or incoherent, then
// drives that dimension's exchange to completion before moving on to
// the next. A dimension's sends and receives, once posted, always run
// to completion or fail fatally; ctx cancellation is only honoured
// between dimensions, never in the middle of one.
func (c *Context) UpdateHalo(ctx context.Context, fields ...*engine.Field) error {
	if c == nil {
		return fmt.Errorf("haloexchange: nil Context")
	}
	if c.grid == nil || c.comm == nil {
		return fmt.Errorf("haloexchange: Context has no Grid/Communicator configured")
	}
	if err := validateFields(c.grid, fields); err != nil {
		return err
	}

	callID := uuid.New().String()
	fieldCount := len(fields)
	ndims := c.grid.NDims()

	span := c.startSpan(ctx, "haloexchange.update_halo", TraceAttribute{Key: "call_id", Value: callID}, TraceAttribute{Key: "field_count", Value: fieldCount})
	startFields := []logField{logKV("call_id", callID), logKV("ndims", ndims), logKV("field_count", fieldCount)}
	c.logExchangeEvent("started", startFields...)
	c.metricExchangeStarted(startFields...)

	var err error
	for dim := 1; dim <= ndims; dim++ {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = c.updateHaloDim(c.grid, c.comm, fields, dim); err != nil {
			spanAddEvent(span, "dim failed", logKV("call_id", callID), logKV("dim", dim), logKV("error", err.Error()))
			err = fmt.Errorf("haloexchange: update_halo call %s dim %d: %w", callID, dim, err)
			break
		}
		spanAddEvent(span, "dim complete", logKV("call_id", callID), logKV("dim", dim))
	}

	if err != nil {
		c.logExchangeEvent("failed", append(startFields, logKV("error", err.Error()))...)
		c.metricExchangeFailed(err, startFields...)
		spanRecordError(span, err)
	} else {
		c.logExchangeEvent("completed", startFields...)
		c.metricExchangeCompleted(startFields...)
	}
	if span != nil {
		span.End(err)
	}
	return err
}

func (c *Context) startSpan(ctx context.Context, name string, attrs ...TraceAttribute) Span {
	if c == nil || c.tracer == nil {
		return nil
	}
	return c.tracer.StartSpan(ctx, name, attrs...)
}

// updateHaloDim drives one dimension's exchange for every field: arm
// every existing neighbour's pack handle, classify the dimension, and
// dispatch to the remote or local path.
func (c *Context) updateHaloDim(g engine.Grid, comm engine.Communicator, fields []*engine.Field, dim int) error {
	bg := context.Background()

	me := g.Me()
	n1 := g.Neighbor(1, dim)
	n2 := g.Neighbor(2, dim)

	var local bool
	switch {
	case n1 != me && n2 != me:
		local = false
	case n1 == me && n2 == me:
		local = true
	default:
		return engine.DimError{Dim: dim, Reason: "incoherent neighbours"}
	}

	for idx, f := range fields {
		i := idx + 1
		if g.Overlap(dim, f) < 2 {
			continue
		}
		for _, n := range [2]int{1, 2} {
			if !g.HasNeighbor(n, dim) {
				continue
			}
			deviceAware := engine.DeviceAware(g, dim, f)
			before := c.pool.Stats()
			if err := c.pool.EnsureCapacity(i, n, f, deviceAware); err != nil {
				return fmt.Errorf("ensure capacity field %d neighbour %d: %w", i, n, err)
			}
			after := c.pool.Stats()
			slotFields := []logField{logKV("field", i), logKV("neighbor", n), logKV("dim", dim)}
			if after.Allocations > before.Allocations || after.Reallocations > before.Reallocations {
				c.metricBufferGrown(slotFields...)
			}
			if after.ReinterpretOps > before.ReinterpretOps {
				c.metricBufferReinterpreted(slotFields...)
			}
			if err := c.armPack(g, i, n, dim, f); err != nil {
				return fmt.Errorf("arm pack field %d neighbour %d: %w", i, n, err)
			}
		}
	}

	if local {
		return c.updateHaloDimLocal(g, fields, dim)
	}
	return c.updateHaloDimRemote(bg, g, comm, fields, dim)
}

// updateHaloDimLocal handles a periodic, single-process dimension: the
// pack buffer for side n is copied directly into the recv buffer for
// OPPOSITE(n), in place, with no transport call.
func (c *Context) updateHaloDimLocal(g engine.Grid, fields []*engine.Field, dim int) error {
	for idx, f := range fields {
		i := idx + 1
		if g.Overlap(dim, f) < 2 {
			continue
		}
		for _, n := range [2]int{1, 2} {
			if !g.HasNeighbor(n, dim) {
				continue
			}
			if err := c.pack.Handle(i, n).Wait(); err != nil {
				return fmt.Errorf("pack wait field %d neighbour %d: %w", i, n, err)
			}
			if err := engine.SendRecvHaloLocal(c.pool, g, i, n, dim, f); err != nil {
				return fmt.Errorf("local copy field %d neighbour %d: %w", i, n, err)
			}
			opp := engine.Opposite(n)
			if err := c.armUnpack(g, i, opp, dim, f); err != nil {
				return fmt.Errorf("arm unpack field %d neighbour %d: %w", i, opp, err)
			}
			if err := c.unpack.Handle(i, opp).Wait(); err != nil {
				return fmt.Errorf("unpack wait field %d neighbour %d: %w", i, opp, err)
			}
		}
	}
	return nil
}

type reqKey struct {
	field, neighbor int
}

// updateHaloDimRemote drives the point-to-point exchange for one
// dimension: receives posted in reverse neighbour order, sends posted
// in forward order after each pack completes, receives waited in
// reverse order (arming the unpack for each one that arrives), unpacks
// waited, then every send for this dimension waited before returning.
func (c *Context) updateHaloDimRemote(bg context.Context, g engine.Grid, comm engine.Communicator, fields []*engine.Field, dim int) error {
	recvReqs := make(map[reqKey]engine.Request)
	sendReqs := make(map[reqKey]engine.Request)

	for _, n := range [2]int{2, 1} {
		for idx, f := range fields {
			i := idx + 1
			if g.Overlap(dim, f) < 2 || !g.HasNeighbor(n, dim) {
				continue
			}
			req, err := engine.IrecvHalo(bg, comm, g, c.pool, i, n, dim, f)
			if err != nil {
				return fmt.Errorf("irecv field %d neighbour %d: %w", i, n, err)
			}
			if req != nil {
				recvReqs[reqKey{i, n}] = req
			}
		}
	}

	for _, n := range [2]int{1, 2} {
		for idx, f := range fields {
			i := idx + 1
			if g.Overlap(dim, f) < 2 || !g.HasNeighbor(n, dim) {
				continue
			}
			if err := c.pack.Handle(i, n).Wait(); err != nil {
				return fmt.Errorf("pack wait field %d neighbour %d: %w", i, n, err)
			}
			req, err := engine.IsendHalo(bg, comm, g, c.pool, i, n, dim, f)
			if err != nil {
				return fmt.Errorf("isend field %d neighbour %d: %w", i, n, err)
			}
			if req != nil {
				sendReqs[reqKey{i, n}] = req
			}
		}
	}

	for _, n := range [2]int{2, 1} {
		for idx, f := range fields {
			i := idx + 1
			req, ok := recvReqs[reqKey{i, n}]
			if !ok {
				continue
			}
			if err := req.Wait(bg); err != nil {
				return fmt.Errorf("recv wait field %d neighbour %d: %w", i, n, err)
			}
			if err := c.armUnpack(g, i, n, dim, f); err != nil {
				return fmt.Errorf("arm unpack field %d neighbour %d: %w", i, n, err)
			}
		}
	}

	for _, n := range [2]int{2, 1} {
		for idx := range fields {
			i := idx + 1
			if _, ok := recvReqs[reqKey{i, n}]; !ok {
				continue
			}
			if err := c.unpack.Handle(i, n).Wait(); err != nil {
				return fmt.Errorf("unpack wait field %d neighbour %d: %w", i, n, err)
			}
		}
	}

	for _, n := range [2]int{1, 2} {
		for idx := range fields {
			i := idx + 1
			req, ok := sendReqs[reqKey{i, n}]
			if !ok {
				continue
			}
			if err := req.Wait(bg); err != nil {
				return fmt.Errorf("send wait field %d neighbour %d: %w", i, n, err)
			}
		}
	}
	return nil
}

// armPack arms the pack handle for (i, n) on dim: a deferred host copy
// for host-resident fields, or an immediately-enqueued device kernel
// or staged memcopy for device-resident ones.
func (c *Context) armPack(g engine.Grid, i, n, dim int, f *engine.Field) error {
	ol := g.Overlap(dim, f)
	ranges := engine.SendRanges(n, dim, ol, f)

	if f.Residency == engine.Host {
		c.pack.ArmHost(i, n, func() error {
			host, _, _, err := c.pool.SendBufFlat(i, n, dim, f)
			if err != nil {
				return err
			}
			return engine.PackHost(host, f, dim, ranges, c.hostCopyOptions(g, dim))
		})
		return nil
	}

	stream, err := c.deviceStream()
	if err != nil {
		return err
	}
	_, dev, mirror, err := c.pool.SendBufFlat(i, n, dim, f)
	if err != nil {
		return err
	}
	if err := c.launchPack(stream, g, dim, f, ranges, dev, mirror); err != nil {
		return err
	}
	c.pack.ArmDevice(i, n, stream)
	return nil
}

// armUnpack mirrors armPack for the unpack direction, using recv
// ranges and the recv buffer slot.
func (c *Context) armUnpack(g engine.Grid, i, n, dim int, f *engine.Field) error {
	ranges := engine.RecvRanges(n, dim, f)

	if f.Residency == engine.Host {
		c.unpack.ArmHost(i, n, func() error {
			host, _, _, err := c.pool.RecvBufFlat(i, n, dim, f)
			if err != nil {
				return err
			}
			return engine.UnpackHost(host, f, dim, ranges, c.hostCopyOptions(g, dim))
		})
		return nil
	}

	stream, err := c.deviceStream()
	if err != nil {
		return err
	}
	_, dev, mirror, err := c.pool.RecvBufFlat(i, n, dim, f)
	if err != nil {
		return err
	}
	if err := c.launchUnpack(stream, g, dim, f, ranges, dev, mirror); err != nil {
		return err
	}
	c.unpack.ArmDevice(i, n, stream)
	return nil
}

func (c *Context) hostCopyOptions(g engine.Grid, dim int) engine.HostCopyOptions {
	vectorized := g.LoopVectorization(dim)
	workers := 1
	if vectorized {
		workers = 4
	}
	return engine.HostCopyOptions{Vectorized: vectorized, Workers: workers}
}

func (c *Context) deviceStream() (engine.DeviceStream, error) {
	if c.allocator == nil {
		return nil, fmt.Errorf("device field requires a DeviceAllocator")
	}
	return c.allocator.NewStream()
}

// launchPack dispatches the device-resident pack to the kernel path
// (dim 1, any device-aware dim, or any ROCm dim) or the staged
// pinned-mirror path (CUDA, dim != 1, not device-aware).
func (c *Context) launchPack(stream engine.DeviceStream, g engine.Grid, dim int, f *engine.Field, ranges engine.PlaneRanges, dev engine.DeviceBuffer, mirror []byte) error {
	if dim == 1 || engine.DeviceAware(g, dim, f) || f.Residency == engine.DeviceROCm {
		return engine.PackDevice(stream, f, dim, ranges, dev)
	}
	return engine.PackStaged(stream, f, dim, ranges, mirror)
}

func (c *Context) launchUnpack(stream engine.DeviceStream, g engine.Grid, dim int, f *engine.Field, ranges engine.PlaneRanges, dev engine.DeviceBuffer, mirror []byte) error {
	if dim == 1 || engine.DeviceAware(g, dim, f) || f.Residency == engine.DeviceROCm {
		return engine.UnpackDevice(stream, f, dim, ranges, dev)
	}
	return engine.UnpackStaged(stream, f, dim, ranges, mirror)
}

// validateFields runs the three preconditions the orchestrator checks
// before any work begins: every field must carry halo traffic on at
// least one dimension, no two fields may alias the same storage, and
// every field must share the first field's element type. All three
// checks report every offending index (the ">0" threshold recorded in
// DESIGN.md), not just the first.
func validateFields(g engine.Grid, fields []*engine.Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("haloexchange: update_halo requires at least one field")
	}

	var noHalo []int
	for idx, f := range fields {
		hasHalo := false
		for dim := 1; dim <= f.NDims; dim++ {
			if g.Overlap(dim, f) >= 2 {
				hasHalo = true
				break
			}
		}
		if !hasHalo {
			noHalo = append(noHalo, idx+1)
		}
	}
	if len(noHalo) > 0 {
		return engine.FieldError{Indices: noHalo, Reason: "no dimension carries halo traffic"}
	}

	var dup []int
	seen := make(map[uintptr]int, len(fields))
	for idx, f := range fields {
		i := idx + 1
		id := f.Identity()
		if _, ok := seen[id]; ok {
			dup = append(dup, i)
			continue
		}
		seen[id] = i
	}
	if len(dup) > 0 {
		return engine.FieldError{Indices: dup, Reason: "duplicate field"}
	}

	var mixed []int
	want := fields[0].Elem
	for idx, f := range fields {
		if f.Elem != want {
			mixed = append(mixed, idx+1)
		}
	}
	if len(mixed) > 0 {
		return engine.FieldError{Indices: mixed, Reason: "mixed element types"}
	}

	return nil
}
