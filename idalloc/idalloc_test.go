package idalloc

import (
	"errors"
	"testing"

	"github.com/oschost/sc3osc/oscerr"
)

func TestAllocator_SequentialThenReuse(t *testing.T) {
	a := New("node", 0, 4)

	id1, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != 0 || id2 != 1 {
		t.Errorf("got %d, %d, want 0, 1", id1, id2)
	}

	if err := a.Free(id1); err != nil {
		t.Fatalf("unexpected error freeing: %v", err)
	}

	id3, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id3 != id1 {
		t.Errorf("got %d, want reused id %d", id3, id1)
	}
}

func TestAllocator_AllocateNDrainsFreeListFIFO(t *testing.T) {
	a := New("node", 0, 4)

	ids, err := a.AllocateN(2) // consumes 0, 1
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("got %v, want [0 1]", ids)
	}

	if err := a.Free(ids[0], ids[1]); err != nil { // frees 0, then 1
		t.Fatalf("unexpected error freeing: %v", err)
	}

	reused, err := a.AllocateN(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reused[0] != 0 || reused[1] != 1 {
		t.Errorf("got %v, want oldest-freed-first [0 1]", reused)
	}
}

func TestAllocator_Exhausted(t *testing.T) {
	a := New("node", 0, 2)

	if _, err := a.AllocateN(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.Allocate(); !errors.Is(err, oscerr.ErrExhausted) {
		t.Errorf("got %v, want oscerr.ErrExhausted", err)
	}
}

func TestAllocator_ExhaustedRollsBackPartialReservation(t *testing.T) {
	a := New("node", 0, 3)

	if _, err := a.Allocate(); err != nil { // consumes id 0
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := a.AllocateN(3); !errors.Is(err, oscerr.ErrExhausted) {
		t.Fatalf("got %v, want oscerr.ErrExhausted", err)
	}

	ids, err := a.AllocateN(2)
	if err != nil {
		t.Fatalf("unexpected error after rollback: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("got %d ids, want 2", len(ids))
	}
}

func TestAllocator_DoubleFree(t *testing.T) {
	a := New("node", 0, 4)

	id, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.Free(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Free(id); !errors.Is(err, oscerr.ErrDoubleFree) {
		t.Errorf("got %v, want oscerr.ErrDoubleFree", err)
	}
}

func TestAllocator_FreeOutOfRange(t *testing.T) {
	a := New("node", 10, 20)

	if err := a.Free(5); !errors.Is(err, oscerr.ErrInvalidID) {
		t.Errorf("got %v, want oscerr.ErrInvalidID", err)
	}
}

func TestAllocator_InUseAndReset(t *testing.T) {
	a := New("node", 0, 4)
	a.Allocate()
	a.Allocate()

	if n := a.InUse(); n != 2 {
		t.Errorf("got %d in use, want 2", n)
	}

	a.Reset()
	if n := a.InUse(); n != 0 {
		t.Errorf("got %d in use after reset, want 0", n)
	}

	id, err := a.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 0 {
		t.Errorf("got %d, want 0 after reset", id)
	}
}
