package engine

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ThreadCopyThreshold is GG_THREADCOPY_THRESHOLD: contiguous copies at
// or above this many bytes fan out across goroutines; smaller copies
// run on the calling goroutine. Grounded on the teacher's own
// goroutine fan-out pattern in client.go's dispatcher, expressed here
// with golang.org/x/sync/errgroup instead of a bare WaitGroup.
const ThreadCopyThreshold = 64 * 1024

// threadedCopy copies src into dst, splitting the work across up to
// workers goroutines when the copy is at or above ThreadCopyThreshold
// bytes. vectorized (Grid.LoopVectorization) is not consulted here:
// Go's copy() already lowers to an optimized memmove, and callers
// express the flag through workers instead.
func threadedCopy(dst, src []byte, vectorized bool, workers int) error {
	n := len(src)
	if n == 0 {
		return nil
	}
	if n < ThreadCopyThreshold || workers <= 1 {
		copy(dst, src)
		return nil
	}
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for off := 0; off < n; off += chunk {
		end := off + chunk
		if end > n {
			end = n
		}
		o, e := off, end
		g.Go(func() error {
			copy(dst[o:e], src[o:e])
			return nil
		})
	}
	return g.Wait()
}

// HostCopyOptions carries the Grid hints that select the host
// pack/unpack's fast path.
type HostCopyOptions struct {
	Vectorized bool
	Workers    int
}

// PackHost copies the strided plane of f described by ranges into a
// contiguous dst buffer, specialized by which axis (dim) is the
// singleton. dst must be at least f.Halosize(dim)*f.Elem.SizeOf()
// bytes.
func PackHost(dst []byte, f *Field, dim int, ranges PlaneRanges, opts HostCopyOptions) error {
	return copyHost(dst, f, dim, ranges, opts, true)
}

// UnpackHost is the reverse of PackHost: it scatters a contiguous src
// buffer back into the strided plane of f described by ranges.
func UnpackHost(src []byte, f *Field, dim int, ranges PlaneRanges, opts HostCopyOptions) error {
	return copyHost(src, f, dim, ranges, opts, false)
}

func copyHost(buf []byte, f *Field, dim int, ranges PlaneRanges, opts HostCopyOptions, toBuffer bool) error {
	if f.Residency != Host {
		return fmt.Errorf("haloexchange: PackHost/UnpackHost require a host-resident field")
	}
	if dim < 1 || dim > 3 {
		return fmt.Errorf("haloexchange: dim %d out of range", dim)
	}
	elemSize := int(f.Elem.SizeOf())
	if elemSize == 0 {
		return fmt.Errorf("haloexchange: unknown element type")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	if isFullExceptDim(ranges, f.Shape, dim) {
		switch dim {
		case 3:
			return copyDim3Fast(buf, f, ranges, elemSize, opts, workers, toBuffer)
		case 2:
			return copyDim2Fast(buf, f, ranges, elemSize, opts, workers, toBuffer)
		case 1:
			return copyDim1Fast(buf, f, ranges, elemSize, toBuffer)
		}
	}
	return copyGeneral(buf, f, ranges, elemSize, toBuffer)
}

// copyDim3Fast handles the singleton-on-the-outermost-axis case: the
// source sub-array at the fixed z is already one contiguous run of
// nx*ny elements, and the destination buffer uses exactly that same
// layout (ix fastest, then iy) — a single large memcpy.
func copyDim3Fast(buf []byte, f *Field, ranges PlaneRanges, elemSize int, opts HostCopyOptions, workers int, toBuffer bool) error {
	nx, ny := f.Shape[0], f.Shape[1]
	z := ranges[2].Lo
	length := nx * ny * elemSize
	srcOff := z * nx * ny * elemSize
	if toBuffer {
		return threadedCopy(buf[:length], f.Host[srcOff:srcOff+length], opts.Vectorized, workers)
	}
	return threadedCopy(f.Host[srcOff:srcOff+length], buf[:length], opts.Vectorized, workers)
}

// copyDim2Fast handles the singleton-in-the-middle-axis case: for
// each z, the x-run of nx elements at the fixed y is contiguous on
// both sides, so the copy is nz separate contiguous runs.
func copyDim2Fast(buf []byte, f *Field, ranges PlaneRanges, elemSize int, opts HostCopyOptions, workers int, toBuffer bool) error {
	nx, ny := f.Shape[0], f.Shape[1]
	y := ranges[1].Lo
	z0, z1 := ranges[2].Lo, ranges[2].Hi
	runLen := nx * elemSize
	total := runLen * (z1 - z0)
	if total >= ThreadCopyThreshold && workers > 1 {
		var g errgroup.Group
		for z := z0; z < z1; z++ {
			zz := z
			g.Go(func() error {
				srcOff := (y*nx + zz*nx*ny) * elemSize
				dstOff := (zz - z0) * runLen
				if toBuffer {
					copy(buf[dstOff:dstOff+runLen], f.Host[srcOff:srcOff+runLen])
				} else {
					copy(f.Host[srcOff:srcOff+runLen], buf[dstOff:dstOff+runLen])
				}
				return nil
			})
		}
		return g.Wait()
	}
	for z := z0; z < z1; z++ {
		srcOff := (y*nx + z*nx*ny) * elemSize
		dstOff := (z - z0) * runLen
		if toBuffer {
			copy(buf[dstOff:dstOff+runLen], f.Host[srcOff:srcOff+runLen])
		} else {
			copy(f.Host[srcOff:srcOff+runLen], buf[dstOff:dstOff+runLen])
		}
	}
	return nil
}

// copyDim1Fast handles the most-strided case: the singleton is the
// fastest-varying axis, so no run is contiguous on the source side.
// Every point is copied individually; this is the host analogue of
// the spec's (1, 32, 1) device thread block grouped for output
// coalescing, since the destination buffer is still contiguous in iy.
func copyDim1Fast(buf []byte, f *Field, ranges PlaneRanges, elemSize int, toBuffer bool) error {
	nx, ny := f.Shape[0], f.Shape[1]
	x := ranges[0].Lo
	y0, y1 := ranges[1].Lo, ranges[1].Hi
	z0, z1 := ranges[2].Lo, ranges[2].Hi
	for z := z0; z < z1; z++ {
		for y := y0; y < y1; y++ {
			srcOff := (x + y*nx + z*nx*ny) * elemSize
			dstOff := ((y - y0) + (z-z0)*(y1-y0)) * elemSize
			if toBuffer {
				copy(buf[dstOff:dstOff+elemSize], f.Host[srcOff:srcOff+elemSize])
			} else {
				copy(f.Host[srcOff:srcOff+elemSize], buf[dstOff:dstOff+elemSize])
			}
		}
	}
	return nil
}

// copyGeneral is the fallback for ranges that do not span the field's
// full extent on the non-dim axes. It walks all three axes explicitly
// and places each element using the same (smallest-index-axis-fastest)
// convention as the fast paths and the device kernel.
func copyGeneral(buf []byte, f *Field, ranges PlaneRanges, elemSize int, toBuffer bool) error {
	nx, ny := f.Shape[0], f.Shape[1]
	x0, x1 := ranges[0].Lo, ranges[0].Hi
	y0, y1 := ranges[1].Lo, ranges[1].Hi
	z0, z1 := ranges[2].Lo, ranges[2].Hi
	idx := 0
	for z := z0; z < z1; z++ {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				srcOff := (x + y*nx + z*nx*ny) * elemSize
				dstOff := idx * elemSize
				if toBuffer {
					copy(buf[dstOff:dstOff+elemSize], f.Host[srcOff:srcOff+elemSize])
				} else {
					copy(f.Host[srcOff:srcOff+elemSize], buf[dstOff:dstOff+elemSize])
				}
				idx++
			}
		}
	}
	return nil
}
