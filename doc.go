// Package refptr implements reference-counted shared and weak handles with
// deterministic teardown.
//
// # Overview
//
// Go's garbage collector reclaims memory, but many objects own something the
// collector knows nothing about: file descriptors, pooled buffers, leases,
// native handles. When such an object is shared by several independent
// owners, the last owner to let go must tear it down, exactly once.
//
// refptr provides the classic pair of handles for this:
//
//   - SharedPtr[T]: an owning handle. The object is torn down when the last
//     SharedPtr referencing it is released.
//   - WeakPtr[T]: an observer. It can tell whether the object is still alive
//     and upgrade itself to a SharedPtr with Lock.
//
// Both share a ControlBlock holding the strong count, the weak count and the
// teardown routine.
//
// # Basic Usage
//
//	sp := refptr.MakeShared(conn)   // strong count 1
//	defer sp.Release()
//
//	other := sp.Clone()             // strong count 2
//	w := refptr.NewWeak(sp)         // weak count 1
//	defer w.Release()
//
//	other.Release()                 // strong count 1
//	if locked := w.Lock(); locked.Valid() {
//		use(locked.Get())
//		locked.Release()
//	}
//
// # Ownership Rules
//
//   - Handles are used through pointers and must not be copied by value;
//     go vet reports such copies.
//   - Clone shares ownership, Move transfers it, Release gives it up.
//     Release is idempotent.
//   - Assign, MoveAssign and every Reset variant build a temporary and swap it
//     in, so self-assignment is a no-op.
//
// # Teardown
//
// When the strong count reaches zero the object is torn down by the custom
// deleter if one was given, otherwise by Destroy (Destroyer) or Close
// (io.Closer) if the object implements them. The control block is reclaimed
// once the weak count also reaches zero.
//
// # Thread Safety
//
// Control blocks use atomic counters by default, so distinct handles sharing
// one block may be cloned, locked and released concurrently. A single handle
// must not be mutated from several goroutines; use AtomicSharedPtr for a
// shared slot. PlainCounting drops the atomics for single-goroutine use:
//
//	refptr.SetDefaults(refptr.Options{Counting: refptr.PlainCounting})
//
// # Metrics and Diagnostics
//
// Process-wide counters are available as a snapshot and in Prometheus format:
//
//	m := refptr.Metrics()
//	fmt.Printf("live blocks: %d\n", m.LiveBlocks)
//	refptr.WriteMetrics(w)
//
// With Options.TrackLeaks, handles collected by the GC without Release are
// counted and logged.
//
// # Related Packages
//
// Package cache keeps shared handles in a cost-bounded cache. The refstress
// command (cmd/refstress) runs a configurable concurrent workload against
// the invariants above and can serve the metrics over HTTP.
package refptr
