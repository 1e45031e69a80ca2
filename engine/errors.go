package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidHandle indicates a handle was waited on while Unset:
// never armed, or armed and later Reset without being re-armed.
// Resource is the handle table's kind ("iwrite"/"iread"). Grounded on
// the teacher's fi.ErrInvalidHandle.
type ErrInvalidHandle struct {
	Resource string
}

func (e ErrInvalidHandle) Error() string {
	return "haloexchange: invalid or closed " + e.Resource + " handle"
}

// ErrPoolClosed indicates a buffer slot was addressed after Free
// released it and before the next EnsureCapacity re-provisioned it.
var ErrPoolClosed = errors.New("haloexchange: buffer pool closed")

// FieldError names the offending field index (1-based, matching the
// spec's field-index error convention) in a precondition violation.
type FieldError struct {
	Index   int
	Indices []int
	Reason  string
}

func (e FieldError) Error() string {
	if len(e.Indices) > 1 {
		return fmt.Sprintf("haloexchange: %s at positions %v", e.Reason, e.Indices)
	}
	idx := e.Index
	if idx == 0 && len(e.Indices) == 1 {
		idx = e.Indices[0]
	}
	return fmt.Sprintf("haloexchange: %s at position %d", e.Reason, idx)
}

// DimError names the offending dimension in a structural violation,
// such as incoherent neighbour classification.
type DimError struct {
	Dim    int
	Reason string
}

func (e DimError) Error() string {
	return fmt.Sprintf("haloexchange: %s on dim %d", e.Reason, e.Dim)
}
