package refptr

import (
	"fmt"
	"reflect"
)

// NewShared takes ownership of p. When the last owner lets go, p is torn down
// through Destroy or Close if it implements Destroyer or io.Closer.
// A nil p yields an empty handle and no control block.
//
// p must not be owned by any other control block.
func NewShared[T any](p *T, opts ...Option) *SharedPtr[T] {
	return NewSharedWithDeleter(p, nil, opts...)
}

// NewSharedWithDeleter takes ownership of p and calls d(p) exactly once when
// the last owner lets go. A nil d selects the default teardown.
func NewSharedWithDeleter[T any](p *T, d func(*T), opts ...Option) *SharedPtr[T] {
	if p == nil {
		return &SharedPtr[T]{}
	}
	o := resolve(opts)
	teardown := func() { destroyObject(p, o.logger()) }
	if d != nil {
		teardown = func() { d(p) }
	}
	sp := &SharedPtr[T]{ptr: p, block: acquireBlock(o, teardown)}
	sp.track()
	return sp
}

// inlineBlock keeps a control block and its object in one allocation.
type inlineBlock[T any] struct {
	block ControlBlock
	value T
}

// MakeShared allocates v together with its control block. On teardown the
// value is destroyed and zeroed; the memory stays until the last weak
// reference is gone.
func MakeShared[T any](v T, opts ...Option) *SharedPtr[T] {
	o := resolve(opts)
	ib := &inlineBlock[T]{value: v}
	ib.block.init(o, func() {
		destroyObject(&ib.value, o.logger())
		var zero T
		ib.value = zero
	})
	sp := &SharedPtr[T]{ptr: &ib.value, block: &ib.block}
	sp.track()
	return sp
}

// MakeSharedFunc builds the object with ctor before allocating anything.
// A constructor error is returned wrapped and no handle state is committed.
func MakeSharedFunc[T any](ctor func() (T, error), opts ...Option) (*SharedPtr[T], error) {
	v, err := ctor()
	if err != nil {
		return &SharedPtr[T]{}, fmt.Errorf("refptr: construct %s: %w", reflect.TypeFor[T](), err)
	}
	return MakeShared(v, opts...), nil
}

// Alias returns a handle that shares owner's control block but points at p,
// typically a field of the owned object. Aliasing an empty owner, or a nil p,
// yields an empty handle.
func Alias[T, U any](owner *SharedPtr[T], p *U) *SharedPtr[U] {
	if owner == nil || owner.block == nil || p == nil {
		return &SharedPtr[U]{}
	}
	owner.block.IncreaseShared()
	sp := &SharedPtr[U]{ptr: p, block: owner.block}
	sp.track()
	return sp
}
