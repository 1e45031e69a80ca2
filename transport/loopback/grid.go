package loopback

import "github.com/latticegrid/haloexchange/engine"

// CartGrid is a fixed-size Cartesian process decomposition over a
// loopback Fabric: engine.Grid computed from process-count and
// periodicity alone, with uniform transport capability flags across
// every dimension (loopback never has a real device transport, so
// CUDAAwareMPI/ROCmAwareMPI default false; callers may flip them on to
// exercise the device-aware code path against loopback's
// DeviceCommunicator emulation).
type CartGrid struct {
	me        engine.Rank
	ndims     int
	procs     [3]int
	periodic  [3]bool
	haloWidth int

	cudaAware, rocmAware, vectorized [3]bool
}

// NewCartGrid builds the grid for rank me in an ndims-dimensional
// decomposition of procs processes per dimension (1 for any dimension
// not decomposed), with periodic[d] true wrapping dimension d+1's
// boundary back to itself. haloWidth is the uniform number of ghost
// layers (ol = haloWidth+1); 0 gives ol = 1, so no dimension carries
// halo traffic, and a negative value is treated as 0.
func NewCartGrid(me engine.Rank, ndims int, procs [3]int, periodic [3]bool, haloWidth int) *CartGrid {
	for d := 0; d < 3; d++ {
		if procs[d] <= 0 {
			procs[d] = 1
		}
	}
	if haloWidth < 0 {
		haloWidth = 0
	}
	if ndims < 1 {
		ndims = 1
	}
	if ndims > 3 {
		ndims = 3
	}
	return &CartGrid{me: me, ndims: ndims, procs: procs, periodic: periodic, haloWidth: haloWidth}
}

// SetDeviceAware flips the CUDA/ROCm-aware and loop-vectorization
// capability flags for dim (1-indexed), for tests exercising the
// device-aware and vectorized host-copy branches.
func (g *CartGrid) SetDeviceAware(dim int, cuda, rocm, vectorized bool) {
	g.cudaAware[dim-1] = cuda
	g.rocmAware[dim-1] = rocm
	g.vectorized[dim-1] = vectorized
}

func (g *CartGrid) coords(r engine.Rank) [3]int {
	idx := int(r)
	var c [3]int
	for d := 0; d < 3; d++ {
		c[d] = idx % g.procs[d]
		idx /= g.procs[d]
	}
	return c
}

func (g *CartGrid) rankOf(c [3]int) engine.Rank {
	r := 0
	mul := 1
	for d := 0; d < 3; d++ {
		r += c[d] * mul
		mul *= g.procs[d]
	}
	return engine.Rank(r)
}

func (g *CartGrid) Me() engine.Rank { return g.me }

func (g *CartGrid) NDims() int { return g.ndims }

// Neighbor returns the rank adjacent to Me() along dim (1-indexed) on
// side n (1=low, 2=high), shifting that axis's coordinate by -1 or +1
// with periodic wraparound, or NoNeighbor at a non-periodic boundary.
func (g *CartGrid) Neighbor(n, dim int) engine.Rank {
	if !g.HasNeighbor(n, dim) {
		return engine.NoNeighbor
	}
	d := dim - 1
	c := g.coords(g.me)
	delta := -1
	if n == 2 {
		delta = 1
	}
	c[d] = ((c[d]+delta)%g.procs[d] + g.procs[d]) % g.procs[d]
	return g.rankOf(c)
}

func (g *CartGrid) HasNeighbor(n, dim int) bool {
	d := dim - 1
	if d < 0 || d > 2 {
		return false
	}
	if g.periodic[d] {
		return true
	}
	if g.procs[d] <= 1 {
		return false
	}
	c := g.coords(g.me)
	if n == 1 {
		return c[d] > 0
	}
	return c[d] < g.procs[d]-1
}

// Overlap reports the same halo thickness for every field: this
// implementation does not vary ol(dim, F) by field, only by grid
// configuration. Callers needing per-field halo widths construct one
// CartGrid per width, matching how the spec treats Grid as a fixed
// collaborator for the lifetime of a call.
func (g *CartGrid) Overlap(dim int, f *engine.Field) int {
	if dim < 1 || dim > f.NDims {
		return 0
	}
	return g.haloWidth + 1
}

func (g *CartGrid) CUDAAwareMPI(dim int) bool      { return g.cudaAware[dim-1] }
func (g *CartGrid) ROCmAwareMPI(dim int) bool      { return g.rocmAware[dim-1] }
func (g *CartGrid) LoopVectorization(dim int) bool { return g.vectorized[dim-1] }
