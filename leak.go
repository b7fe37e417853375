package refptr

import (
	"reflect"
	"runtime"

	"github.com/rs/zerolog"
)

// leakTracker keeps the runtime cleanup attached to a handle while the
// handle references a block created with TrackLeaks.
type leakTracker struct {
	cleanup runtime.Cleanup
	armed   bool
}

// leakRecord is passed to the cleanup. It must not reference the handle.
type leakRecord struct {
	kind   string
	typ    string
	logger *zerolog.Logger
}

func (l *leakTracker) update(arm bool, attach func() runtime.Cleanup) {
	switch {
	case arm && !l.armed:
		l.cleanup = attach()
		l.armed = true
	case !arm && l.armed:
		l.cleanup.Stop()
		l.cleanup = runtime.Cleanup{}
		l.armed = false
	}
}

func newLeakRecord[T any](kind string, b *ControlBlock) leakRecord {
	return leakRecord{
		kind:   kind,
		typ:    reflect.TypeFor[T]().String(),
		logger: b.opts.logger(),
	}
}

// reportLeak runs on the cleanup goroutine. The counter moves last so that a
// reader polling it sees the log write already done.
func reportLeak(r leakRecord) {
	r.logger.Warn().
		Str("handle", r.kind).
		Str("type", r.typ).
		Msg("[refptr] handle was garbage collected without Release")
	leakedHandles.Inc()
}

func shouldTrack(b *ControlBlock) bool {
	return b != nil && b.opts != nil && b.opts.TrackLeaks
}
