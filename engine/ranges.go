package engine

// AxisRange is a half-open, 0-indexed range [Lo, Hi) along one axis.
type AxisRange struct {
	Lo, Hi int
}

func (r AxisRange) Len() int { return r.Hi - r.Lo }

// PlaneRanges is a 3-tuple of per-axis ranges describing the plane a
// pack or unpack touches, one entry per axis (1-D and 2-D fields
// behave as if padded with size-1 axes, matching Field.Shape).
type PlaneRanges [3]AxisRange

func fullRanges(f *Field) PlaneRanges {
	var r PlaneRanges
	for k := 0; k < 3; k++ {
		r[k] = AxisRange{0, f.Shape[k]}
	}
	return r
}

// SendRanges computes sendranges(n, dim, F): the source plane of the
// interior row adjacent to the halo, sent to neighbour n. ol is
// Grid.Overlap(dim, F); the spec requires ol >= 2 for dim to carry
// halo traffic for F.
func SendRanges(n, dim, ol int, f *Field) PlaneRanges {
	r := fullRanges(f)
	var pos1 int // 1-indexed position along dim, matching the spec's formulas
	if n == 2 {
		pos1 = f.Size(dim) - (ol - 1)
	} else {
		pos1 = ol
	}
	idx := pos1 - 1
	r[dim-1] = AxisRange{idx, idx + 1}
	return r
}

// RecvRanges computes recvranges(n, dim, F): the halo row itself,
// overwritten by the arriving plane from neighbour n.
func RecvRanges(n, dim int, f *Field) PlaneRanges {
	r := fullRanges(f)
	var pos1 int
	if n == 2 {
		pos1 = f.Size(dim)
	} else {
		pos1 = 1
	}
	idx := pos1 - 1
	r[dim-1] = AxisRange{idx, idx + 1}
	return r
}

// isFullExceptDim reports whether ranges spans the field's full
// extent on every axis except dim, where it must be a singleton. This
// is always true for ranges produced by SendRanges/RecvRanges; it is
// checked explicitly so the fast per-dim copy paths stay correct if a
// caller ever hands pack/unpack a custom range.
func isFullExceptDim(ranges PlaneRanges, shape [3]int, dim int) bool {
	if ranges[dim-1].Len() != 1 {
		return false
	}
	for k := 0; k < 3; k++ {
		if k == dim-1 {
			continue
		}
		if ranges[k].Lo != 0 || ranges[k].Hi != shape[k] {
			return false
		}
	}
	return true
}
