package refptr

import (
	"fmt"
	"runtime"
)

// noCopy makes go vet's copylocks check flag handles copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// SharedPtr is an owning handle. While non-empty it contributes exactly one
// unit to the strong count of its control block.
//
// Handles must not be copied by value: use Clone to share ownership, Move to
// transfer it and Release when done. The zero value is an empty handle.
// A single SharedPtr must not be mutated from several goroutines at once;
// use AtomicSharedPtr for a shared slot.
type SharedPtr[T any] struct {
	_     noCopy
	ptr   *T
	block *ControlBlock
	leak  leakTracker
}

// Clone returns a new handle sharing ownership with sp.
// Cloning an empty handle returns an empty handle.
func (sp *SharedPtr[T]) Clone() *SharedPtr[T] {
	c := &SharedPtr[T]{}
	if sp == nil || sp.block == nil {
		return c
	}
	sp.block.IncreaseShared()
	c.ptr, c.block = sp.ptr, sp.block
	c.track()
	return c
}

// Move transfers ownership from sp into a new handle and leaves sp empty.
// Counts do not change.
func (sp *SharedPtr[T]) Move() *SharedPtr[T] {
	m := &SharedPtr[T]{}
	m.Swap(sp)
	return m
}

// Assign makes sp share ownership with other. Assigning a handle to itself
// leaves it unchanged.
func (sp *SharedPtr[T]) Assign(other *SharedPtr[T]) {
	tmp := other.Clone()
	tmp.Swap(sp)
	tmp.Reset()
}

// MoveAssign transfers ownership from other into sp, releasing what sp held.
// other is left empty unless it is sp itself.
func (sp *SharedPtr[T]) MoveAssign(other *SharedPtr[T]) {
	tmp := other.Move()
	tmp.Swap(sp)
	tmp.Reset()
}

// Reset releases ownership and leaves sp empty. The handle is cleared before
// the strong count drops, so teardown never observes it half-released.
func (sp *SharedPtr[T]) Reset() {
	if sp == nil || sp.block == nil {
		return
	}
	b := sp.block
	sp.ptr, sp.block = nil, nil
	sp.track()
	b.DecreaseShared()
}

// ResetTo releases ownership and takes ownership of p with the default teardown.
func (sp *SharedPtr[T]) ResetTo(p *T, opts ...Option) {
	tmp := NewShared(p, opts...)
	tmp.Swap(sp)
	tmp.Reset()
}

// ResetWithDeleter releases ownership and takes ownership of p, to be torn
// down by d.
func (sp *SharedPtr[T]) ResetWithDeleter(p *T, d func(*T), opts ...Option) {
	tmp := NewSharedWithDeleter(p, d, opts...)
	tmp.Swap(sp)
	tmp.Reset()
}

// ResetFunc constructs a new object with ctor and only then replaces the
// current one. If ctor fails, sp is left untouched and the error is returned.
func (sp *SharedPtr[T]) ResetFunc(ctor func() (T, error), opts ...Option) error {
	tmp, err := MakeSharedFunc(ctor, opts...)
	if err != nil {
		return err
	}
	tmp.Swap(sp)
	tmp.Reset()
	return nil
}

// Release is the handle's destructor. It is equivalent to Reset and may be
// called any number of times.
func (sp *SharedPtr[T]) Release() {
	sp.Reset()
}

// Swap exchanges the contents of two handles without touching counts.
func (sp *SharedPtr[T]) Swap(other *SharedPtr[T]) {
	if sp == other {
		return
	}
	sp.ptr, other.ptr = other.ptr, sp.ptr
	sp.block, other.block = other.block, sp.block
	sp.track()
	other.track()
}

// Get returns the managed pointer without affecting ownership.
func (sp *SharedPtr[T]) Get() *T {
	if sp == nil {
		return nil
	}
	return sp.ptr
}

// Deref returns the managed value. Panics on an empty handle.
func (sp *SharedPtr[T]) Deref() T {
	return *sp.ptr
}

// UseCount returns the strong count of the block, or 0 for an empty handle.
func (sp *SharedPtr[T]) UseCount() int64 {
	if sp == nil || sp.block == nil {
		return 0
	}
	return sp.block.GetShared()
}

// Valid reports whether the handle manages an object.
func (sp *SharedPtr[T]) Valid() bool {
	return sp != nil && sp.ptr != nil
}

// Block returns the control block, or nil for an empty handle.
func (sp *SharedPtr[T]) Block() *ControlBlock {
	if sp == nil {
		return nil
	}
	return sp.block
}

// String implements fmt.Stringer for debugging output.
func (sp *SharedPtr[T]) String() string {
	if !sp.Valid() {
		return "SharedPtr(empty)"
	}
	return fmt.Sprintf("SharedPtr(%p, use=%d)", sp.ptr, sp.UseCount())
}

func (sp *SharedPtr[T]) track() {
	arm := shouldTrack(sp.block)
	if !arm && !sp.leak.armed {
		return
	}
	sp.leak.update(arm, func() runtime.Cleanup {
		return runtime.AddCleanup(sp, reportLeak, newLeakRecord[T]("shared", sp.block))
	})
}

// Index returns a pointer to element i of a shared slice. Like every other
// accessor it panics on an empty handle.
func Index[E any](sp *SharedPtr[[]E], i int) *E {
	return &(*sp.ptr)[i]
}

// Handle is implemented by SharedPtr and WeakPtr of any element type.
type Handle interface {
	Block() *ControlBlock
}

// SameOwner reports whether two non-empty handles share a control block.
func SameOwner(a, b Handle) bool {
	ba := a.Block()
	return ba != nil && ba == b.Block()
}
