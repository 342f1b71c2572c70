// Package pipeline runs one action class (transfer, reference, copy,
// or delete) over a batch of items with bounded worker concurrency and
// a single writer goroutine that commits results to the snapshot DB
// (spec.md §4.7, §5). Grounded on original_source/dfb/backup.py's
// transfer/reference/move_by_copy/delete methods (all the same
// functional-pipeline shape over threadmapper.thread_map_unordered)
// and on original_source/dfb/threadmapper.py, adapted to Go with an
// alitto/pond worker pool in place of the original's thread pool —
// the same library and idiom rcowham-gitp4transfer uses for its
// conversion pipeline.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/jwink3101/dfb-go/internal/dstdb"
)

// Task is one unit of work for an action class: do the side-effecting
// work (a transfer, a reference write, a copy, a delete) and produce
// the snapshot row to record, or an error if the item should be
// skipped and counted as a failure.
type Task struct {
	APath string
	Do    func(ctx context.Context) (dstdb.Item, error)
}

// Stats accumulates counts for one pipeline run.
type Stats struct {
	Total     int64
	Succeeded int64
	Failed    int64
}

// Run submits every task to a worker pool sized to concurrency,
// collects results on a bounded channel, and hands each successful
// result to write (called from a single goroutine — the pipeline's
// designated writer — so dstdb never sees concurrent writes). A
// per-item failure is logged and counted; it never aborts the run. If
// ctx is canceled, no further tasks are submitted and Run returns
// after in-flight tasks drain, without having written partial rows for
// anything still in flight.
func Run(ctx context.Context, concurrency int, tasks []Task, write func(dstdb.Item) error, log *logrus.Logger) (Stats, error) {
	var stats Stats
	if len(tasks) == 0 {
		return stats, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	pool := pond.New(concurrency, 0, pond.MinWorkers(concurrency))

	// Bounded so a slow writer applies backpressure to the worker pool
	// rather than letting results pile up unboundedly in memory.
	results := make(chan dstdb.Item, concurrency*2)

	var wg sync.WaitGroup
	var writeErr error
	var writeErrOnce sync.Once

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Once a write fails, keep draining results instead of
		// returning: workers still in flight are blocked sending on
		// the bounded results channel, and abandoning them here would
		// deadlock wg.Wait() below rather than surface the error.
		for item := range results {
			if writeErr != nil {
				continue
			}
			if err := write(item); err != nil {
				writeErrOnce.Do(func() { writeErr = err })
				continue
			}
			atomic.AddInt64(&stats.Succeeded, 1)
		}
	}()

submit:
	for _, task := range tasks {
		select {
		case <-ctx.Done():
			break submit
		default:
		}

		task := task
		atomic.AddInt64(&stats.Total, 1)
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			default:
			}
			item, err := task.Do(ctx)
			if err != nil {
				atomic.AddInt64(&stats.Failed, 1)
				if log != nil {
					log.WithField("apath", task.APath).WithError(err).Error("action failed")
				}
				return
			}
			results <- item
		})
	}

	wg.Wait()
	pool.StopAndWait()
	close(results)
	<-writerDone

	if writeErr != nil {
		return stats, writeErr
	}
	return stats, ctx.Err()
}
