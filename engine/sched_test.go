package engine

import (
	"errors"
	"testing"
)

func TestHandleUnsetWaitReturnsInvalidHandle(t *testing.T) {
	h := &Handle{}
	err := h.Wait()
	var invalid ErrInvalidHandle
	if !errors.As(err, &invalid) {
		t.Fatalf("Wait on an unarmed handle returned %v, want ErrInvalidHandle", err)
	}
	if h.State() != Unset {
		t.Fatalf("state = %v, want Unset", h.State())
	}
}

func TestHandleArmHostDefersUntilWait(t *testing.T) {
	h := &Handle{}
	ran := false
	h.ArmHost(func() error {
		ran = true
		return nil
	})
	if h.State() != Armed {
		t.Fatalf("state = %v, want Armed", h.State())
	}
	if ran {
		t.Fatalf("ArmHost must not run fn before Wait")
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ran {
		t.Fatalf("Wait did not run the armed fn")
	}
	if h.State() != Complete {
		t.Fatalf("state = %v, want Complete", h.State())
	}
}

func TestHandleWaitIsIdempotent(t *testing.T) {
	h := &Handle{}
	calls := 0
	h.ArmHost(func() error {
		calls++
		return nil
	})
	if err := h.Wait(); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if calls != 1 {
		t.Fatalf("fn ran %d times, want exactly 1", calls)
	}
}

func TestHandleArmHostPropagatesError(t *testing.T) {
	h := &Handle{}
	want := errors.New("pack failed")
	h.ArmHost(func() error { return want })
	if err := h.Wait(); !errors.Is(err, want) {
		t.Fatalf("Wait = %v, want %v", err, want)
	}
	if err := h.Wait(); !errors.Is(err, want) {
		t.Fatalf("second Wait = %v, want cached %v", err, want)
	}
}

func TestHandleArmDeviceWaitsStream(t *testing.T) {
	h := &Handle{}
	stream := &fakeDeviceStream{}
	h.ArmDevice(stream)
	if h.State() != Running {
		t.Fatalf("state = %v, want Running", h.State())
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if h.State() != Complete {
		t.Fatalf("state = %v, want Complete", h.State())
	}
}

func TestHandleReset(t *testing.T) {
	h := &Handle{}
	h.ArmHost(func() error { return nil })
	_ = h.Wait()
	h.Reset()
	if h.State() != Unset {
		t.Fatalf("state after Reset = %v, want Unset", h.State())
	}
}

func TestHandleTableArmsDistinctSlotsPerNeighbor(t *testing.T) {
	tbl := NewHandleTable("iwrite")
	h1 := tbl.ArmHost(1, 1, func() error { return nil })
	h2 := tbl.ArmHost(1, 2, func() error { return nil })
	if h1 == h2 {
		t.Fatalf("neighbour 1 and 2 slots for the same field must be distinct handles")
	}
	same := tbl.Handle(1, 1)
	if same != h1 {
		t.Fatalf("Handle(1,1) did not return the previously armed handle")
	}
}

func TestHandleTableDrainArmedCollectsFirstError(t *testing.T) {
	tbl := NewHandleTable("iread")
	want := errors.New("unpack failed")
	tbl.ArmHost(1, 1, func() error { return nil })
	tbl.ArmHost(2, 1, func() error { return want })
	if err := tbl.DrainArmed(); !errors.Is(err, want) {
		t.Fatalf("DrainArmed = %v, want wrapping %v", err, want)
	}
}

func TestHandleTableResetClearsAllSlots(t *testing.T) {
	tbl := NewHandleTable("iwrite")
	h := tbl.ArmHost(1, 1, func() error { return nil })
	_ = h.Wait()
	tbl.Reset()
	if h.State() != Unset {
		t.Fatalf("Reset did not clear an armed handle's state, got %v", h.State())
	}
	if err := tbl.DrainArmed(); err != nil {
		t.Fatalf("DrainArmed after Reset = %v, want nil (order queue cleared)", err)
	}
}
