package engine

// Rank identifies a process within the Cartesian decomposition. It is
// the out-of-scope collaborator's unit of address, not interpreted by
// this package beyond equality and the NoNeighbor sentinel.
type Rank int

// NoNeighbor is returned by Grid.Neighbor when no neighbour exists on
// that side of a dimension (a true domain boundary, non-periodic).
const NoNeighbor Rank = -1

// NNeighborsPerDim is the number of neighbours a process has along
// each dimension: one low-side, one high-side.
const NNeighborsPerDim = 2

// Opposite maps a 1-indexed neighbour side to its opposite, per the
// spec's OPPOSITE(n) = NNEIGHBORS_PER_DIM - n + 1.
func Opposite(n int) int {
	return NNeighborsPerDim - n + 1
}

// Grid is the out-of-scope process-grid collaborator: Cartesian
// decomposition topology, neighbour lookup, overlap metadata, and
// per-dimension capability flags. Construction of the grid itself is
// entirely outside this module; callers supply an implementation
// backed by their real process-grid library (or, for single-process
// and test use, transport/loopback's grid).
type Grid interface {
	// Me returns this process's rank.
	Me() Rank
	// NDims reports the number of decomposed dimensions (1..3).
	NDims() int
	// Neighbor returns the rank of neighbour n (1=low, 2=high) along
	// dim, or NoNeighbor.
	Neighbor(n, dim int) Rank
	// HasNeighbor reports whether a neighbour exists on that side.
	HasNeighbor(n, dim int) bool
	// Overlap returns ol(dim, F): the halo thickness + 1 for field f
	// along dim. A value below 2 means dim contributes no halo
	// traffic for f.
	Overlap(dim int, f *Field) int
	// CUDAAwareMPI reports whether the transport can read/write CUDA
	// device memory directly along dim.
	CUDAAwareMPI(dim int) bool
	// ROCmAwareMPI reports whether the transport can read/write ROCm
	// device memory directly along dim.
	ROCmAwareMPI(dim int) bool
	// LoopVectorization hints whether a SIMD/loop-vectorized host copy
	// is available for dim.
	LoopVectorization(dim int) bool
}

// DeviceAware reports whether the transport is device-aware for f's
// residency along dim, or is trivially true for host fields.
func DeviceAware(g Grid, dim int, f *Field) bool {
	switch f.Residency {
	case DeviceCUDA:
		return g.CUDAAwareMPI(dim)
	case DeviceROCm:
		return g.ROCmAwareMPI(dim)
	default:
		return true
	}
}
