package refptr

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Counting selects how a control block updates its strong and weak counters.
// The choice is fixed when the block is created.
type Counting uint8

const (
	// AtomicCounting makes counter updates safe when distinct handles sharing
	// one block are used from many goroutines. This is the default.
	AtomicCounting Counting = iota

	// PlainCounting uses ordinary integers. Only valid when every handle of
	// the block stays on a single goroutine.
	PlainCounting
)

// String returns the configuration name of the counting mode.
func (c Counting) String() string {
	switch c {
	case AtomicCounting:
		return "atomic"
	case PlainCounting:
		return "plain"
	default:
		return "unknown"
	}
}

// Options configures control blocks at creation time.
type Options struct {
	// Counting selects atomic or plain counters.
	Counting Counting

	// Logger receives teardown and leak diagnostics.
	// If nil, nothing is logged.
	Logger *zerolog.Logger

	// TrackLeaks attaches a runtime cleanup to every non-empty handle and
	// reports handles that are garbage collected without Release.
	TrackLeaks bool
}

// Option adjusts Options for a single constructor call.
type Option func(*Options)

// WithCounting overrides the counting mode of the new block.
func WithCounting(c Counting) Option {
	return func(o *Options) { o.Counting = c }
}

// WithLeakTracking turns leak reporting on or off for the new block.
func WithLeakTracking(on bool) Option {
	return func(o *Options) { o.TrackLeaks = on }
}

// WithLogger overrides the diagnostics logger of the new block.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = &l }
}

var (
	pkgLogger = zerolog.Nop()
	defaults  atomic.Pointer[Options]
)

func init() {
	defaults.Store(&Options{Counting: AtomicCounting})
}

// SetDefaults replaces the options used by constructors called without
// explicit Option values. Blocks that already exist keep their options.
func SetDefaults(o Options) {
	defaults.Store(&o)
}

// Defaults returns a copy of the current default options.
func Defaults() Options {
	return *defaults.Load()
}

// resolve returns the options for one constructor call. Without overrides the
// shared defaults pointer is returned as is.
func resolve(opts []Option) *Options {
	d := defaults.Load()
	if len(opts) == 0 {
		return d
	}
	o := *d
	for _, fn := range opts {
		fn(&o)
	}
	return &o
}

func (o *Options) logger() *zerolog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return &pkgLogger
}
