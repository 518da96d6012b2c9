// Package pool runs processing jobs on a bounded number of slots and
// reports aggregate progress while they complete.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dharsanguruparan/ArchiveDrop/internal/metrics"
	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

// ErrJobPanicked wraps the value recovered from a job that panicked.
var ErrJobPanicked = errors.New("processing job panicked")

// Job transforms one item. It returns the updated item or an error; the
// pool never lets either escape the item it belongs to.
type Job interface {
	Run(ctx context.Context, item model.ProcessingItem) (model.ProcessingItem, error)
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context, item model.ProcessingItem) (model.ProcessingItem, error)

// Run calls f.
func (f JobFunc) Run(ctx context.Context, item model.ProcessingItem) (model.ProcessingItem, error) {
	return f(ctx, item)
}

// MaxWorkers returns the slot count for a machine with the given
// parallelism: 70% of it, never less than two.
func MaxWorkers(parallelism int) int {
	n := parallelism * 7 / 10
	if n < 2 {
		return 2
	}
	return n
}

// DefaultSize is MaxWorkers for the current process.
func DefaultSize() int {
	return MaxWorkers(runtime.GOMAXPROCS(0))
}

// Pool owns a fixed number of slots shared by every batch it runs.
type Pool struct {
	size    int
	sem     *semaphore.Weighted
	inUse   atomic.Int64
	log     *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics makes the pool report slot usage and job outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New returns a pool with size slots. A non-positive size selects
// DefaultSize.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	p := &Pool{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.metrics.SetCapacity(size)
	return p
}

// Size is the number of slots.
func (p *Pool) Size() int { return p.size }

// InUse is the number of slots currently held.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// RunBatch runs job once per item and returns the results in input order.
//
// Dispatch blocks while every slot is taken. A slot is held for the whole
// life of a job and released however the job ends. A job that fails or
// panics yields its item with Processed false and Error set; its siblings
// are not affected. Every terminal outcome is counted exactly once and
// reported to sink, scaled into window.
//
// Cancelling ctx stops dispatch: undispatched items come back failed.
// Jobs already running are not interrupted.
func (p *Pool) RunBatch(ctx context.Context, items []model.ProcessingItem, job Job, window Window, sink Sink) []model.ProcessingItem {
	results := make([]model.ProcessingItem, len(items))
	tr := newTracker(len(items), window, sink, p.metrics)
	runCtx := context.WithoutCancel(ctx)

	p.log.Info("batch started", zap.Int("total", len(items)), zap.Int("slots", p.size))
	var wg sync.WaitGroup
	for i := range items {
		if err := p.acquire(ctx); err != nil {
			for j := i; j < len(items); j++ {
				results[j] = items[j].Clone().Fail(fmt.Errorf("not dispatched: %w", err))
				tr.done(results[j])
			}
			p.log.Warn("batch dispatch cancelled", zap.Int("undispatched", len(items)-i), zap.Error(err))
			break
		}
		wg.Add(1)
		go func(i int, item model.ProcessingItem) {
			defer wg.Done()
			defer p.release()
			results[i] = p.execute(runCtx, job, item)
			tr.done(results[i])
		}(i, items[i].Clone())
	}
	wg.Wait()

	state := tr.snapshot()
	p.log.Info("batch finished", zap.Int("processed", state.ProcessedFiles), zap.Int("failed", countFailed(results)))
	return results
}

func (p *Pool) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.inUse.Add(1)
	p.metrics.SlotAcquired()
	return nil
}

func (p *Pool) release() {
	p.inUse.Add(-1)
	p.metrics.SlotReleased()
	p.sem.Release(1)
}

// execute runs job on item and converts every failure, panics included,
// into a failed item.
func (p *Pool) execute(ctx context.Context, job Job, item model.ProcessingItem) (out model.ProcessingItem) {
	start := time.Now()
	log := p.log.With(zap.String("code", item.Code), zap.String("type", string(item.Type)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out = item.Fail(fmt.Errorf("%w: %v", ErrJobPanicked, r))
		}
		p.metrics.JobFinished(string(item.Type), out.Processed, time.Since(start))
	}()

	res, err := job.Run(ctx, item.Clone())
	if err != nil {
		if res.Code == "" {
			res = item
		}
		res = keepIdentity(res, item).Fail(err)
		log.Warn("job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return res
	}
	res = keepIdentity(res, item)
	res.Processed = true
	res.Error = ""
	log.Debug("job finished", zap.Duration("took", time.Since(start)))
	return res
}

// keepIdentity restores the caller supplied identity of an item.
func keepIdentity(res, item model.ProcessingItem) model.ProcessingItem {
	res.Code = item.Code
	res.SourcePath = item.SourcePath
	res.Type = item.Type
	res.Folder = item.Folder
	res.GroupPath = item.GroupPath
	return res
}

func countFailed(items []model.ProcessingItem) int {
	n := 0
	for _, it := range items {
		if !it.Processed {
			n++
		}
	}
	return n
}
