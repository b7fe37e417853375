package refptr

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Destroyer is implemented by managed objects that need explicit teardown
// when their last owner lets go.
type Destroyer interface {
	Destroy()
}

// counter is a reference counter whose update discipline is chosen once.
type counter struct {
	plain bool
	n     int64
	a     atomic.Int64
}

func (c *counter) add(d int64) int64 {
	if c.plain {
		c.n += d
		return c.n
	}
	return c.a.Add(d)
}

func (c *counter) load() int64 {
	if c.plain {
		return c.n
	}
	return c.a.Load()
}

func (c *counter) store(v int64) {
	if c.plain {
		c.n = v
		return
	}
	c.a.Store(v)
}

// incIfPositive increments the counter unless it already reached zero.
func (c *counter) incIfPositive() bool {
	if c.plain {
		if c.n <= 0 {
			return false
		}
		c.n++
		return true
	}
	for {
		old := c.a.Load()
		if old <= 0 {
			return false
		}
		if c.a.CompareAndSwap(old, old+1) {
			return true
		}
	}
}

// ControlBlock is the bookkeeping record shared by all handles of one
// managed object: the strong count, the weak count and the teardown routine.
//
// The weak counter holds one extra unit on behalf of all strong owners. That
// unit is dropped right after teardown, so exactly one caller observes the
// final zero and reclaims the block.
type ControlBlock struct {
	strong    counter
	weak      counter
	teardown  func()
	opts      *Options
	pooled    bool
	ownerUnit atomic.Bool // weak holds the strong owners' unit
	reclaimed atomic.Bool
}

var blockPool = sync.Pool{
	New: func() any { return new(ControlBlock) },
}

// acquireBlock returns a pooled block owned by one strong handle.
func acquireBlock(o *Options, teardown func()) *ControlBlock {
	b := blockPool.Get().(*ControlBlock)
	b.init(o, teardown)
	b.pooled = true
	return b
}

func (b *ControlBlock) init(o *Options, teardown func()) {
	plain := o.Counting == PlainCounting
	b.strong.plain = plain
	b.weak.plain = plain
	b.strong.store(1)
	b.weak.store(1)
	b.teardown = teardown
	b.opts = o
	b.pooled = false
	b.ownerUnit.Store(true)
	b.reclaimed.Store(false)
	blocksCreated.Inc()
}

// IncreaseShared adds one strong reference.
func (b *ControlBlock) IncreaseShared() {
	b.strong.add(1)
}

// DecreaseShared drops one strong reference. The managed object is torn down
// when the count reaches zero. Decreasing more often than increasing panics.
func (b *ControlBlock) DecreaseShared() {
	n := b.strong.add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("refptr: strong count underflow")
	}
	defer func() {
		b.ownerUnit.Store(false)
		b.releaseWeak()
	}()
	b.destroy()
}

// GetShared returns the current strong count.
func (b *ControlBlock) GetShared() int64 {
	return b.strong.load()
}

// IncreaseWeak adds one weak reference.
func (b *ControlBlock) IncreaseWeak() {
	b.weak.add(1)
}

// DecreaseWeak drops one weak reference. The block is reclaimed once no
// strong or weak references remain.
func (b *ControlBlock) DecreaseWeak() {
	b.releaseWeak()
}

// GetWeak returns the number of weak references. Like GetShared it is a
// point-in-time reading. It is exact inside a deleter: the owners' unit is
// only dropped after teardown returns.
func (b *ControlBlock) GetWeak() int64 {
	w := b.weak.load()
	if b.ownerUnit.Load() {
		w--
	}
	return w
}

// Counting reports the counter discipline of the block.
func (b *ControlBlock) Counting() Counting {
	if b.strong.plain {
		return PlainCounting
	}
	return AtomicCounting
}

// Expired reports whether the managed object has been torn down.
func (b *ControlBlock) Expired() bool {
	return b.strong.load() == 0
}

// Reclaimed reports whether the block itself has been released. Only
// meaningful until the block is handed out again by the pool.
func (b *ControlBlock) Reclaimed() bool {
	return b.reclaimed.Load()
}

// tryIncreaseShared acquires a strong reference only while the object is alive.
func (b *ControlBlock) tryIncreaseShared() bool {
	return b.strong.incIfPositive()
}

func (b *ControlBlock) destroy() {
	td := b.teardown
	b.teardown = nil
	objectsDestroyed.Inc()
	if td != nil {
		td()
	}
}

func (b *ControlBlock) releaseWeak() {
	n := b.weak.add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("refptr: weak count underflow")
	}
	b.reclaim()
}

func (b *ControlBlock) reclaim() {
	l := b.opts.logger()
	b.teardown = nil
	b.opts = nil
	b.reclaimed.Store(true)
	blocksReclaimed.Inc()
	l.Trace().Bool("pooled", b.pooled).Msg("[refptr] control block reclaimed")
	if b.pooled {
		blockPool.Put(b)
	}
}

// destroyObject is the default teardown: Destroyer first, then io.Closer.
// Anything else is left to the garbage collector.
func destroyObject(obj any, l *zerolog.Logger) {
	switch o := obj.(type) {
	case Destroyer:
		o.Destroy()
	case io.Closer:
		if err := o.Close(); err != nil {
			l.Warn().Err(err).Msg("[refptr] close on teardown failed")
		}
	}
}
