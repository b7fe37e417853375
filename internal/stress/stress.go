// Package stress hammers one control block from many goroutines and checks
// the ownership invariants once every handle has been dropped.
package stress

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pavanmanishd/refptr"
	"github.com/pavanmanishd/refptr/cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrInvariant wraps every ownership check that failed after a run.
	ErrInvariant = errors.New("stress: invariant violated")
	// ErrConfig is returned for settings the runner cannot honour.
	ErrConfig = errors.New("stress: invalid config")
)

// Config sizes and paces a run.
type Config struct {
	Workers      int
	OpsPerWorker int
	Rate         float64 // ops per second across all workers, 0 means unlimited
	Burst        int
	Timeout      time.Duration // 0 means no timeout
	Seed         uint64
	CacheKeys    int
	Cache        cache.Config
	Options      []refptr.Option // applied to the root handle
}

// Report summarizes a run.
type Report struct {
	Ops         int64
	Locks       int64
	LockMisses  int64
	CacheHits   int64
	CacheMisses int64
	Teardowns   int64
	Duration    time.Duration
	Interrupted bool
	Metrics     refptr.BlockMetrics // delta over the run
	Violations  []string
}

// MarshalZerologObject lets a Report be logged with Event.EmbedObject.
func (r Report) MarshalZerologObject(e *zerolog.Event) {
	e.Int64("ops", r.Ops).
		Int64("locks", r.Locks).
		Int64("lock_misses", r.LockMisses).
		Int64("cache_hits", r.CacheHits).
		Int64("cache_misses", r.CacheMisses).
		Int64("teardowns", r.Teardowns).
		Dur("duration", r.Duration).
		Bool("interrupted", r.Interrupted).
		Uint64("blocks_created", r.Metrics.BlocksCreated).
		Uint64("blocks_reclaimed", r.Metrics.BlocksReclaimed).
		Int64("live_blocks", r.Metrics.LiveBlocks).
		Int("violations", len(r.Violations))
}

type payload struct {
	id   int
	data [64]byte
}

type counters struct {
	ops, locks, lockMisses, hits, misses atomic.Int64
}

type runner struct {
	cfg      Config
	logger   zerolog.Logger
	limiter  *rate.Limiter
	cache    *cache.Cache[payload]
	slot     *refptr.AtomicSharedPtr[payload]
	torn     atomic.Int64
	early    atomic.Bool
	stopped  atomic.Bool
	counters counters
}

// Run drives cfg.Workers goroutines over clones of one root handle until each
// has done cfg.OpsPerWorker operations or ctx is done. The returned error
// wraps ErrInvariant when a check fails; the report is filled in either way.
func Run(ctx context.Context, cfg Config, logger zerolog.Logger) (Report, error) {
	if cfg.Workers <= 0 {
		return Report{}, fmt.Errorf("%w: workers must be positive, got %d", ErrConfig, cfg.Workers)
	}
	resolved := refptr.Defaults()
	for _, opt := range cfg.Options {
		opt(&resolved)
	}
	plain := resolved.Counting == refptr.PlainCounting
	if plain && cfg.Workers > 1 {
		return Report{}, fmt.Errorf("%w: plain counting needs a single worker, got %d", ErrConfig, cfg.Workers)
	}
	if cfg.Cache == (cache.Config{}) {
		cfg.Cache = cache.DefaultConfig()
	}
	if cfg.Cache.Logger == nil {
		cfg.Cache.Logger = &logger
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	// cached side objects are released from the cache's own goroutine, so
	// they always count atomically; cfg.Options apply to the root only
	c, err := cache.New[payload](cfg.Cache, refptr.WithCounting(refptr.AtomicCounting))
	if err != nil {
		return Report{}, fmt.Errorf("stress: %w", err)
	}

	r := &runner{cfg: cfg, logger: logger, limiter: newLimiter(cfg.Rate, cfg.Burst), cache: c}
	before := refptr.Metrics()
	start := time.Now()

	root := refptr.NewSharedWithDeleter(&payload{id: -1}, r.teardown, cfg.Options...)
	observer := refptr.NewWeak(root)
	r.slot = refptr.NewAtomicShared(root)
	// ristretto releases entries from its own goroutine, which plain
	// counters cannot tolerate
	if !plain {
		if err := c.Set("root", root, 1); err != nil {
			r.logger.Warn().Err(err).Msg("[stress] root handle not cached")
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go r.worker(ctx, &wg, i, root.Clone())
	}
	wg.Wait()

	root.Release()
	r.slot.Release()
	c.Close()

	report := Report{
		Ops:         r.counters.ops.Load(),
		Locks:       r.counters.locks.Load(),
		LockMisses:  r.counters.lockMisses.Load(),
		CacheHits:   r.counters.hits.Load(),
		CacheMisses: r.counters.misses.Load(),
		Teardowns:   r.torn.Load(),
		Duration:    time.Since(start),
		Interrupted: r.stopped.Load(),
	}

	if r.early.Load() {
		report.Violations = append(report.Violations, "object torn down while owners remained")
	}
	if report.Teardowns != 1 {
		report.Violations = append(report.Violations, fmt.Sprintf("teardown ran %d times, want 1", report.Teardowns))
	}
	if !observer.Expired() {
		report.Violations = append(report.Violations, fmt.Sprintf("observer not expired, use count %d", observer.UseCount()))
	}
	b := observer.Block()
	observer.Release()
	if b != nil && !b.Reclaimed() {
		report.Violations = append(report.Violations, "control block not reclaimed")
	}

	report.Metrics = refptr.Metrics().Sub(before)
	if report.Metrics.LiveBlocks != 0 {
		report.Violations = append(report.Violations, fmt.Sprintf("%d control blocks still live", report.Metrics.LiveBlocks))
	}

	if len(report.Violations) > 0 {
		return report, fmt.Errorf("%w: %v", ErrInvariant, report.Violations)
	}
	return report, nil
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (r *runner) teardown(p *payload) {
	r.torn.Add(1)
	p.id = 0
}

func (r *runner) worker(ctx context.Context, wg *sync.WaitGroup, id int, own *refptr.SharedPtr[payload]) {
	defer wg.Done()
	defer own.Release()

	rng := rand.New(rand.NewPCG(r.cfg.Seed, uint64(id)))
	w := refptr.NewWeak(own)
	defer w.Release()
	spare := &refptr.SharedPtr[payload]{}
	defer spare.Release()

	for n := 0; n < r.cfg.OpsPerWorker; n++ {
		if err := r.limiter.Wait(ctx); err != nil {
			r.stopped.Store(true)
			r.logger.Debug().Int("worker", id).Int("done", n).Msg("[stress] worker stopped early")
			return
		}
		r.step(rng, own, w, spare)
		r.counters.ops.Add(1)
		if r.torn.Load() != 0 {
			r.early.Store(true)
		}
	}
	r.logger.Trace().Int("worker", id).Msg("[stress] worker finished")
}

// step performs one randomly chosen operation. own stays non-empty on return.
func (r *runner) step(rng *rand.Rand, own *refptr.SharedPtr[payload], w *refptr.WeakPtr[payload], spare *refptr.SharedPtr[payload]) {
	switch rng.IntN(9) {
	case 0:
		own.Clone().Release()
	case 1:
		m := own.Move()
		own.MoveAssign(m)
	case 2:
		spare.Assign(own)
		spare.Reset()
	case 3:
		spare.Assign(own)
		own.Swap(spare)
		spare.Reset()
	case 4:
		r.counters.locks.Add(1)
		locked := w.Lock()
		if !locked.Valid() {
			r.counters.lockMisses.Add(1)
		}
		locked.Release()
	case 5:
		w2 := w.Clone()
		w2.AssignShared(own)
		w2.Release()
	case 6:
		sp := r.slot.Load()
		r.slot.CompareAndSwap(sp, own)
		sp.Release()
	case 7:
		if sp, ok := r.cache.Get("root"); ok {
			r.counters.hits.Add(1)
			sp.Release()
		} else {
			r.counters.misses.Add(1)
		}
	case 8:
		key := "k" + strconv.Itoa(rng.IntN(max(r.cfg.CacheKeys, 1)))
		sp, err := r.cache.GetOrLoad(key, 1, func() (payload, error) {
			return payload{id: len(key)}, nil
		})
		if err == nil {
			sp.Release()
		}
	}
}
