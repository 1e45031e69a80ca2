package engine

import "testing"

func TestFieldErrorSinglePosition(t *testing.T) {
	err := FieldError{Indices: []int{2}, Reason: "duplicate field"}
	want := "haloexchange: duplicate field at position 2"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestFieldErrorMultiplePositions(t *testing.T) {
	err := FieldError{Indices: []int{1, 3}, Reason: "mixed element types"}
	want := "haloexchange: mixed element types at positions [1 3]"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestDimErrorFormat(t *testing.T) {
	err := DimError{Dim: 2, Reason: "incoherent neighbours"}
	want := "haloexchange: incoherent neighbours on dim 2"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrInvalidHandleFormat(t *testing.T) {
	err := ErrInvalidHandle{Resource: "pack"}
	want := "haloexchange: invalid or closed pack handle"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
