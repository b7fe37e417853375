package refptr

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

var (
	metricSet        = metrics.NewSet()
	blocksCreated    = metricSet.NewCounter("refptr_blocks_created_total")
	blocksReclaimed  = metricSet.NewCounter("refptr_blocks_reclaimed_total")
	objectsDestroyed = metricSet.NewCounter("refptr_objects_destroyed_total")
	lockFailures     = metricSet.NewCounter("refptr_lock_failures_total")
	leakedHandles    = metricSet.NewCounter("refptr_leaked_handles_total")
)

func init() {
	metricSet.NewGauge("refptr_live_blocks", func() float64 {
		return float64(Metrics().LiveBlocks)
	})
	metricSet.NewGauge("refptr_live_objects", func() float64 {
		return float64(Metrics().LiveObjects)
	})
}

// BlockMetrics contains process-wide statistics about control blocks.
type BlockMetrics struct {
	BlocksCreated    uint64 // Control blocks handed out
	BlocksReclaimed  uint64 // Control blocks with no strong or weak references left
	ObjectsDestroyed uint64 // Managed objects torn down
	LockFailures     uint64 // WeakPtr.Lock calls on expired objects
	LeakedHandles    uint64 // Handles collected without Release
	LiveBlocks       int64  // BlocksCreated - BlocksReclaimed
	LiveObjects      int64  // BlocksCreated - ObjectsDestroyed
}

// Metrics returns a snapshot of control block statistics.
func Metrics() BlockMetrics {
	reclaimed := blocksReclaimed.Get()
	destroyed := objectsDestroyed.Get()
	created := blocksCreated.Get()
	return BlockMetrics{
		BlocksCreated:    created,
		BlocksReclaimed:  reclaimed,
		ObjectsDestroyed: destroyed,
		LockFailures:     lockFailures.Get(),
		LeakedHandles:    leakedHandles.Get(),
		LiveBlocks:       int64(created) - int64(reclaimed),
		LiveObjects:      int64(created) - int64(destroyed),
	}
}

// Sub returns the change from base to m. Useful to isolate one workload
// from everything else in the process.
func (m BlockMetrics) Sub(base BlockMetrics) BlockMetrics {
	return BlockMetrics{
		BlocksCreated:    m.BlocksCreated - base.BlocksCreated,
		BlocksReclaimed:  m.BlocksReclaimed - base.BlocksReclaimed,
		ObjectsDestroyed: m.ObjectsDestroyed - base.ObjectsDestroyed,
		LockFailures:     m.LockFailures - base.LockFailures,
		LeakedHandles:    m.LeakedHandles - base.LeakedHandles,
		LiveBlocks:       m.LiveBlocks - base.LiveBlocks,
		LiveObjects:      m.LiveObjects - base.LiveObjects,
	}
}

// WriteMetrics writes the control block metrics in Prometheus text format.
func WriteMetrics(w io.Writer) {
	metricSet.WritePrometheus(w)
}
