package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ProgressReporter periodically logs how many of an expected total
// have completed, mirroring the interval-based StatsThread in
// original_source/dfb/backup.py. Call Add as each item finishes; call
// Stop when the run ends to flush a final line and release the
// ticker.
type ProgressReporter struct {
	log      *logrus.Logger
	label    string
	total    int64
	done     int64
	interval time.Duration
	stop     chan struct{}
	stopped  chan struct{}
}

// NewProgressReporter starts a background ticker that logs progress
// every interval. A zero interval disables periodic logging (Add still
// tracks the count).
func NewProgressReporter(log *logrus.Logger, label string, total int64, interval time.Duration) *ProgressReporter {
	r := &ProgressReporter{
		log:      log,
		label:    label,
		total:    total,
		interval: interval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if interval > 0 {
		go r.run()
	} else {
		close(r.stopped)
	}
	return r
}

func (r *ProgressReporter) run() {
	defer close(r.stopped)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.logLine()
		}
	}
}

func (r *ProgressReporter) logLine() {
	done := atomic.LoadInt64(&r.done)
	if r.log != nil {
		r.log.WithFields(logrus.Fields{
			"done":  done,
			"total": r.total,
		}).Infof("%s progress", r.label)
	}
}

// Add increments the completed count by n.
func (r *ProgressReporter) Add(n int64) { atomic.AddInt64(&r.done, n) }

// Stop halts the background ticker and logs a final line.
func (r *ProgressReporter) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.stopped
	r.logLine()
}
