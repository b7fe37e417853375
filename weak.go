package refptr

import "runtime"

// WeakPtr observes an object owned by SharedPtr handles without keeping it
// alive. While non-empty it holds one unit of the block's weak count, which
// keeps the control block, not the object, from being reclaimed.
type WeakPtr[T any] struct {
	_     noCopy
	ptr   *T
	block *ControlBlock
	leak  leakTracker
}

// NewWeak returns a weak handle observing sp's object.
func NewWeak[T any](sp *SharedPtr[T]) *WeakPtr[T] {
	w := &WeakPtr[T]{}
	if sp == nil || sp.block == nil {
		return w
	}
	sp.block.IncreaseWeak()
	w.ptr, w.block = sp.ptr, sp.block
	w.track()
	return w
}

// Clone returns another weak handle observing the same object.
func (w *WeakPtr[T]) Clone() *WeakPtr[T] {
	c := &WeakPtr[T]{}
	if w == nil || w.block == nil {
		return c
	}
	w.block.IncreaseWeak()
	c.ptr, c.block = w.ptr, w.block
	c.track()
	return c
}

// Move transfers the observation into a new handle and leaves w empty.
func (w *WeakPtr[T]) Move() *WeakPtr[T] {
	m := &WeakPtr[T]{}
	m.Swap(w)
	return m
}

// Assign makes w observe what other observes.
func (w *WeakPtr[T]) Assign(other *WeakPtr[T]) {
	tmp := other.Clone()
	tmp.Swap(w)
	tmp.Reset()
}

// AssignShared makes w observe sp's object.
func (w *WeakPtr[T]) AssignShared(sp *SharedPtr[T]) {
	tmp := NewWeak(sp)
	tmp.Swap(w)
	tmp.Reset()
}

// MoveAssign transfers other's observation into w.
func (w *WeakPtr[T]) MoveAssign(other *WeakPtr[T]) {
	tmp := other.Move()
	tmp.Swap(w)
	tmp.Reset()
}

// Reset drops the weak reference and leaves w empty. Idempotent.
func (w *WeakPtr[T]) Reset() {
	if w == nil || w.block == nil {
		return
	}
	b := w.block
	w.ptr, w.block = nil, nil
	w.track()
	b.DecreaseWeak()
}

// Release is the handle's destructor, equivalent to Reset.
func (w *WeakPtr[T]) Release() {
	w.Reset()
}

// Swap exchanges the contents of two weak handles without touching counts.
func (w *WeakPtr[T]) Swap(other *WeakPtr[T]) {
	if w == other {
		return
	}
	w.ptr, other.ptr = other.ptr, w.ptr
	w.block, other.block = other.block, w.block
	w.track()
	other.track()
}

// Expired reports whether the object is gone or w is empty.
func (w *WeakPtr[T]) Expired() bool {
	return w == nil || w.block == nil || w.block.GetShared() == 0
}

// UseCount returns the strong count of the observed block, or 0 if empty.
func (w *WeakPtr[T]) UseCount() int64 {
	if w == nil || w.block == nil {
		return 0
	}
	return w.block.GetShared()
}

// Lock upgrades w to an owning handle. The liveness check and the strong
// increment are one compare-and-swap, so the object cannot be torn down in
// between. An expired or empty w yields an empty handle.
func (w *WeakPtr[T]) Lock() *SharedPtr[T] {
	if w == nil || w.block == nil {
		return &SharedPtr[T]{}
	}
	if !w.block.tryIncreaseShared() {
		lockFailures.Inc()
		return &SharedPtr[T]{}
	}
	sp := &SharedPtr[T]{ptr: w.ptr, block: w.block}
	sp.track()
	return sp
}

// Block returns the observed control block, or nil for an empty handle.
func (w *WeakPtr[T]) Block() *ControlBlock {
	if w == nil {
		return nil
	}
	return w.block
}

func (w *WeakPtr[T]) track() {
	arm := shouldTrack(w.block)
	if !arm && !w.leak.armed {
		return
	}
	w.leak.update(arm, func() runtime.Cleanup {
		return runtime.AddCleanup(w, reportLeak, newLeakRecord[T]("weak", w.block))
	})
}
