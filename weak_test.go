package refptr

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewWeak(t *testing.T) {
	sp := MakeShared(1)
	defer sp.Release()

	w := NewWeak(sp)
	defer w.Release()

	if w.Expired() {
		t.Error("weak handle to a live object reports expired")
	}
	if w.UseCount() != 1 {
		t.Errorf("UseCount() = %d, want 1", w.UseCount())
	}
	if sp.Block().GetWeak() != 1 {
		t.Errorf("GetWeak() = %d, want 1", sp.Block().GetWeak())
	}
	if sp.UseCount() != 1 {
		t.Error("weak handle changed the strong count")
	}

	empty := NewWeak[int](nil)
	if !empty.Expired() || empty.Block() != nil {
		t.Error("weak handle from nil should be empty and expired")
	}
	empty.Release()
}

func TestWeakLock(t *testing.T) {
	sp := MakeShared("alive")
	w := NewWeak(sp)
	defer w.Release()

	locked := w.Lock()
	if !locked.Valid() {
		t.Fatal("Lock() on a live object returned an empty handle")
	}
	if locked.UseCount() != 2 {
		t.Errorf("UseCount() after Lock = %d, want 2", locked.UseCount())
	}
	if locked.Get() != sp.Get() || !SameOwner(locked, sp) || !SameOwner(w, sp) {
		t.Error("locked handle does not share the original block")
	}

	sp.Release()
	if w.Expired() {
		t.Fatal("object expired while a locked handle is alive")
	}
	locked.Release()
	if !w.Expired() {
		t.Fatal("weak handle should be expired after all owners released")
	}

	before := Metrics()
	again := w.Lock()
	if again.Valid() || again.UseCount() != 0 {
		t.Error("Lock() on an expired object should be empty")
	}
	if d := Metrics().Sub(before); d.LockFailures != 1 {
		t.Errorf("LockFailures delta = %d, want 1", d.LockFailures)
	}
}

func TestWeakKeepsBlockNotObject(t *testing.T) {
	v := 9
	deleted := 0
	sp := NewSharedWithDeleter(&v, func(*int) { deleted++ })
	b := sp.Block()

	w := NewWeak(sp)
	sp.Release()

	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if b.Reclaimed() {
		t.Fatal("block reclaimed while a weak handle is alive")
	}
	if b.GetWeak() != 1 {
		t.Errorf("GetWeak() = %d, want 1", b.GetWeak())
	}

	w2 := w.Clone()
	w.Release()
	if b.Reclaimed() {
		t.Fatal("block reclaimed while a cloned weak handle is alive")
	}
	w2.Release()
	if !b.Reclaimed() {
		t.Error("block should be reclaimed after the last weak handle")
	}
}

func TestWeakExpiredWithManyObservers(t *testing.T) {
	sp := MakeShared(0)
	weaks := make([]*WeakPtr[int], 5)
	for i := range weaks {
		weaks[i] = NewWeak(sp)
	}
	sp.Release()

	for i, w := range weaks {
		if !w.Expired() {
			t.Errorf("weak %d not expired", i)
		}
		w.Release()
	}
}

func TestWeakAssignMoveSwap(t *testing.T) {
	a := MakeShared("a")
	b := MakeShared("b")
	defer a.Release()
	defer b.Release()

	wa := NewWeak(a)
	wb := NewWeak(b)

	wa.Swap(wb)
	locked := wa.Lock()
	if locked.Deref() != "b" {
		t.Error("Swap did not exchange observed objects")
	}
	locked.Release()

	wa.Assign(wb)
	if a.Block().GetWeak() != 2 || b.Block().GetWeak() != 0 {
		t.Errorf("weak counts = (%d, %d), want (2, 0)", a.Block().GetWeak(), b.Block().GetWeak())
	}

	wa.Assign(wa)
	if a.Block().GetWeak() != 2 {
		t.Errorf("self Assign changed weak count to %d", a.Block().GetWeak())
	}

	m := wb.Move()
	if wb.Block() != nil || m.Block() != a.Block() {
		t.Error("Move did not transfer the observation")
	}
	if a.Block().GetWeak() != 2 {
		t.Errorf("Move changed weak count to %d", a.Block().GetWeak())
	}

	wb.MoveAssign(m)
	if m.Block() != nil || wb.Block() != a.Block() {
		t.Error("MoveAssign did not transfer the observation")
	}

	wa.AssignShared(b)
	if b.Block().GetWeak() != 1 || a.Block().GetWeak() != 1 {
		t.Errorf("weak counts = (%d, %d), want (1, 1)", a.Block().GetWeak(), b.Block().GetWeak())
	}

	wa.Release()
	wa.Release()
	wb.Release()
	if a.Block().GetWeak() != 0 || b.Block().GetWeak() != 0 {
		t.Error("weak counts not back to zero")
	}
}

// TestLockRacesWithRelease hammers Lock while owners release concurrently.
// Every successful Lock must observe a live object and teardown must happen
// exactly once, after the last owner (including locked ones) is gone.
func TestLockRacesWithRelease(t *testing.T) {
	for round := 0; round < 100; round++ {
		var deleted atomic.Int32
		var alive atomic.Bool
		alive.Store(true)

		v := round
		root := NewSharedWithDeleter(&v, func(*int) {
			alive.Store(false)
			deleted.Add(1)
		})

		const numOwners = 4
		const numLockers = 4
		owners := make([]*SharedPtr[int], numOwners)
		weaks := make([]*WeakPtr[int], numLockers)
		for i := range owners {
			owners[i] = root.Clone()
		}
		for i := range weaks {
			weaks[i] = NewWeak(root)
		}
		root.Release()

		var wg sync.WaitGroup
		wg.Add(numOwners + numLockers)
		for _, o := range owners {
			go func(o *SharedPtr[int]) {
				defer wg.Done()
				o.Release()
			}(o)
		}
		for _, w := range weaks {
			go func(w *WeakPtr[int]) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					sp := w.Lock()
					if sp.Valid() && !alive.Load() {
						t.Error("Lock returned a handle to a torn-down object")
					}
					sp.Release()
				}
				w.Release()
			}(w)
		}
		wg.Wait()

		if got := deleted.Load(); got != 1 {
			t.Fatalf("round %d: deleted = %d, want 1", round, got)
		}
	}
}
