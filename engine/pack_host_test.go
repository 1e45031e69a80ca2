package engine

import (
	"math"
	"testing"
)

// fill3D returns a [4,5,6] float64 field where element (x,y,z) holds a
// distinct value, so a pack/unpack round trip can be checked exactly.
func fill3D(t *testing.T) *Field {
	t.Helper()
	nx, ny, nz := 4, 5, 6
	data := make([]byte, nx*ny*nz*8)
	f, err := NewHostField(Float64, 3, [3]int{nx, ny, nz}, data)
	if err != nil {
		t.Fatalf("NewHostField: %v", err)
	}
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				idx := x + y*nx + z*nx*ny
				v := float64(x) + float64(y)*100 + float64(z)*10000
				bits := math.Float64bits(v)
				off := idx * 8
				for b := 0; b < 8; b++ {
					data[off+b] = byte(bits >> (8 * b))
				}
			}
		}
	}
	return f
}

func readF64(buf []byte, idx int) float64 {
	off := idx * 8
	var bits uint64
	for b := 0; b < 8; b++ {
		bits |= uint64(buf[off+b]) << (8 * b)
	}
	return math.Float64frombits(bits)
}

func TestPackUnpackHostDim3Fast(t *testing.T) {
	f := fill3D(t)
	ranges := SendRanges(2, 3, 2, f) // high side, dim 3: z fixed at nz-2
	dst := make([]byte, f.Halosize(3)*8)
	opts := HostCopyOptions{Vectorized: true, Workers: 2}
	if err := PackHost(dst, f, 3, ranges, opts); err != nil {
		t.Fatalf("PackHost: %v", err)
	}
	z := ranges[2].Lo
	for y := 0; y < 5; y++ {
		for x := 0; x < 4; x++ {
			want := float64(x) + float64(y)*100 + float64(z)*10000
			got := readF64(dst, x+y*4)
			if got != want {
				t.Fatalf("packed (%d,%d,z=%d) = %v, want %v", x, y, z, got, want)
			}
		}
	}

	// unpack into a fresh field's halo row and confirm it matches.
	g := fill3D(t)
	for i := range g.Host {
		g.Host[i] = 0
	}
	if err := UnpackHost(dst, g, 3, ranges, opts); err != nil {
		t.Fatalf("UnpackHost: %v", err)
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 4; x++ {
			idx := x + y*4 + z*4*5
			want := float64(x) + float64(y)*100 + float64(z)*10000
			got := readF64(g.Host, idx)
			if got != want {
				t.Fatalf("unpacked (%d,%d,z=%d) = %v, want %v", x, y, z, got, want)
			}
		}
	}
}

func TestPackUnpackHostDim2Fast(t *testing.T) {
	f := fill3D(t)
	ranges := SendRanges(1, 2, 2, f) // low side, dim 2: y fixed at 1
	dst := make([]byte, f.Halosize(2)*8)
	opts := HostCopyOptions{Vectorized: false, Workers: 1}
	if err := PackHost(dst, f, 2, ranges, opts); err != nil {
		t.Fatalf("PackHost: %v", err)
	}
	y := ranges[1].Lo
	for z := 0; z < 6; z++ {
		for x := 0; x < 4; x++ {
			want := float64(x) + float64(y)*100 + float64(z)*10000
			got := readF64(dst, x+z*4)
			if got != want {
				t.Fatalf("packed (%d,y=%d,%d) = %v, want %v", x, y, z, got, want)
			}
		}
	}
}

func TestPackUnpackHostDim1Fast(t *testing.T) {
	f := fill3D(t)
	ranges := SendRanges(2, 1, 2, f) // high side, dim 1: x fixed at nx-2
	dst := make([]byte, f.Halosize(1)*8)
	opts := HostCopyOptions{Vectorized: true, Workers: 4}
	if err := PackHost(dst, f, 1, ranges, opts); err != nil {
		t.Fatalf("PackHost: %v", err)
	}
	x := ranges[0].Lo
	for z := 0; z < 6; z++ {
		for y := 0; y < 5; y++ {
			want := float64(x) + float64(y)*100 + float64(z)*10000
			got := readF64(dst, y+z*5)
			if got != want {
				t.Fatalf("packed (x=%d,%d,%d) = %v, want %v", x, y, z, got, want)
			}
		}
	}
}

func TestPackUnpackHostGeneralFallback(t *testing.T) {
	f := fill3D(t)
	// a range that does not span the full extent on a non-dim axis
	// forces the general fallback path.
	ranges := PlaneRanges{
		{Lo: 1, Hi: 3},
		{Lo: 0, Hi: 1},
		{Lo: 0, Hi: 6},
	}
	dst := make([]byte, 2*1*6*8)
	if err := PackHost(dst, f, 2, ranges, HostCopyOptions{}); err != nil {
		t.Fatalf("PackHost general: %v", err)
	}
	idx := 0
	for z := 0; z < 6; z++ {
		for x := 1; x < 3; x++ {
			want := float64(x) + 0*100 + float64(z)*10000
			got := readF64(dst, idx)
			if got != want {
				t.Fatalf("general pack idx %d = %v, want %v", idx, got, want)
			}
			idx++
		}
	}
}

func TestPackHostRejectsDeviceResident(t *testing.T) {
	dev := newFakeDeviceBuffer(80)
	f, err := NewDeviceField(Float64, 1, [3]int{10, 1, 1}, DeviceCUDA, dev)
	if err != nil {
		t.Fatalf("NewDeviceField: %v", err)
	}
	ranges := SendRanges(1, 1, 2, f)
	if err := PackHost(make([]byte, 8), f, 1, ranges, HostCopyOptions{}); err == nil {
		t.Fatalf("expected PackHost to reject a device-resident field")
	}
}
