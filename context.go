// Package haloexchange drives the distributed halo-exchange engine:
// given a set of caller-owned Fields and their shared process-grid and
// transport collaborators, UpdateHalo brings every field's ghost cells
// into agreement with its neighbours' interior data. The engine
// package implements the buffer pool, pack/unpack, scheduler, and
// transport glue this package orchestrates.
package haloexchange

import (
	"context"
	"sync"

	"github.com/latticegrid/haloexchange/engine"
)

// Config controls a Context's ambient behaviour. Grid and Comm are
// required; every other field is optional, and leaving the logging,
// metrics and tracing fields zero runs with none of them.
type Config struct {
	// Grid and Comm are the process-grid and transport collaborators
	// this Context's UpdateHalo drives. Both are required before the
	// first UpdateHalo call; FreeUpdateHaloBuffers leaves them in
	// place so a Context can be reused across calls with the same
	// topology.
	Grid engine.Grid
	Comm engine.Communicator

	Allocator engine.DeviceAllocator
	Pinner    engine.HostPinner

	Logger           Logger
	StructuredLogger StructuredLogger
	Tracer           Tracer
	Metrics          MetricHook
}

// Context owns one call's worth of persistent state: the buffer pool
// and the two handle tables (pack/unpack), matching the spec's
// process-wide persistent resources. Unlike the spec's literal
// process-global storage, a Context is an explicit value so a process
// embedding multiple independent grids (e.g. in tests) never shares
// scratch storage between them; Default returns a package-level
// singleton for callers that want the spec's original global-state
// ergonomics.
type Context struct {
	grid      engine.Grid
	comm      engine.Communicator
	allocator engine.DeviceAllocator

	pool   *engine.BufferPool
	pack   *engine.HandleTable
	unpack *engine.HandleTable

	logger           Logger
	structuredLogger StructuredLogger
	tracer           Tracer
	metrics          MetricHook
}

// NewContext constructs a Context from cfg.
func NewContext(cfg Config) *Context {
	structured := cfg.StructuredLogger
	if structured == nil {
		if l, ok := cfg.Logger.(StructuredLogger); ok {
			structured = l
		}
	}
	return &Context{
		grid:             cfg.Grid,
		comm:             cfg.Comm,
		allocator:        cfg.Allocator,
		pool:             engine.NewBufferPool(cfg.Allocator, cfg.Pinner),
		pack:             engine.NewHandleTable("iwrite"),
		unpack:           engine.NewHandleTable("iread"),
		logger:           cfg.Logger,
		structuredLogger: structured,
		tracer:           cfg.Tracer,
		metrics:          cfg.Metrics,
	}
}

// FreeUpdateHaloBuffers implements free_update_halo_buffers(): it
// releases every persistent scratch buffer and handle the Context has
// accumulated, ready for a fresh set of fields on the next call.
func (c *Context) FreeUpdateHaloBuffers() {
	if c == nil {
		return
	}
	c.pool.Free()
	c.pack.Reset()
	c.unpack.Reset()
}

// PoolStats exposes the buffer pool's activity counters, used by the
// "buffer reuse" and "type reinterpretation" testable properties.
func (c *Context) PoolStats() engine.PoolStats {
	if c == nil {
		return engine.PoolStats{}
	}
	return c.pool.Stats()
}

var (
	defaultMu  sync.Mutex
	defaultCtx *Context
)

// Default returns the package-level Context used by the package-level
// UpdateHalo and FreeUpdateHaloBuffers functions, matching the
// original's process-wide-singleton ergonomics. It is constructed on
// first use with a zero Config (no Grid, no Communicator, no ambient
// stack) unless SetDefault has already run; a zero-Config Default's
// UpdateHalo always fails, since it has no topology or transport to
// drive. Call SetDefault during process start-up to give it one.
func Default() *Context {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCtx == nil {
		defaultCtx = NewContext(Config{})
	}
	return defaultCtx
}

// SetDefault (re)builds the package-level Context from cfg and makes
// it the target of the package-level UpdateHalo and
// FreeUpdateHaloBuffers functions.
func SetDefault(cfg Config) *Context {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultCtx = NewContext(cfg)
	return defaultCtx
}

// UpdateHalo calls Default().UpdateHalo, for callers that don't need
// an explicit Context.
func UpdateHalo(ctx context.Context, fields ...*engine.Field) error {
	return Default().UpdateHalo(ctx, fields...)
}

// FreeUpdateHaloBuffers calls Default().FreeUpdateHaloBuffers.
func FreeUpdateHaloBuffers() {
	Default().FreeUpdateHaloBuffers()
}
