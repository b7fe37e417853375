package refptr

import "sync"

// AtomicSharedPtr is a mutex-protected slot holding one SharedPtr, for the
// case where a single handle location is read and written from many
// goroutines. Every value going in or out is an independent owned clone.
type AtomicSharedPtr[T any] struct {
	mu sync.Mutex
	sp *SharedPtr[T]
}

// NewAtomicShared creates a slot holding a clone of sp. sp may be nil.
func NewAtomicShared[T any](sp *SharedPtr[T]) *AtomicSharedPtr[T] {
	return &AtomicSharedPtr[T]{sp: sp.Clone()}
}

// Load returns a new owned clone of the stored handle. The caller must
// release it.
func (a *AtomicSharedPtr[T]) Load() *SharedPtr[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sp.Clone()
}

// Store replaces the stored handle with a clone of sp and releases the
// previous one outside the lock.
func (a *AtomicSharedPtr[T]) Store(sp *SharedPtr[T]) {
	next := sp.Clone()
	a.mu.Lock()
	prev := a.sp
	a.sp = next
	a.mu.Unlock()
	prev.Release()
}

// Swap stores a clone of sp and hands the previous handle to the caller,
// who now owns it.
func (a *AtomicSharedPtr[T]) Swap(sp *SharedPtr[T]) *SharedPtr[T] {
	next := sp.Clone()
	a.mu.Lock()
	prev := a.sp
	a.sp = next
	a.mu.Unlock()
	if prev == nil {
		prev = &SharedPtr[T]{}
	}
	return prev
}

// CompareAndSwap stores a clone of next if the slot currently holds the same
// pointer and block as old.
func (a *AtomicSharedPtr[T]) CompareAndSwap(old, next *SharedPtr[T]) bool {
	a.mu.Lock()
	if a.sp.Get() != old.Get() || a.sp.Block() != old.Block() {
		a.mu.Unlock()
		return false
	}
	prev := a.sp
	a.sp = next.Clone()
	a.mu.Unlock()
	prev.Release()
	return true
}

// UseCount returns the strong count of the stored handle.
func (a *AtomicSharedPtr[T]) UseCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sp.UseCount()
}

// Release empties the slot, dropping its strong reference.
func (a *AtomicSharedPtr[T]) Release() {
	a.mu.Lock()
	prev := a.sp
	a.sp = nil
	a.mu.Unlock()
	prev.Release()
}
