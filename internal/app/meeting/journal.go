package meeting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dalemusser/mentorlink/internal/app/system/meetmetrics"
	"go.uber.org/zap"
)

// errJournalClosed is returned by Submit and Do after Close.
var errJournalClosed = errors.New("journal closed")

// Journal runs persistence jobs off the room step. Jobs with the same key
// (a room id) always land on the same worker, so they run one at a time in
// submission order; different keys spread across workers.
type Journal struct {
	shards  []chan journalJob
	log     *zap.Logger
	metrics *meetmetrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type journalJob struct {
	fn       func(ctx context.Context)
	enqueued time.Time
	done     chan struct{}
}

// NewJournal starts workers goroutines, each with a queue of queueSize jobs.
func NewJournal(workers, queueSize int, log *zap.Logger, metrics *meetmetrics.Metrics) *Journal {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	j := &Journal{
		shards:  make([]chan journalJob, workers),
		log:     log,
		metrics: metrics,
	}
	for i := range j.shards {
		j.shards[i] = make(chan journalJob, queueSize)
		j.wg.Add(1)
		go j.run(j.shards[i])
	}
	return j
}

func (j *Journal) run(queue <-chan journalJob) {
	defer j.wg.Done()
	for job := range queue {
		j.exec(job)
	}
}

func (j *Journal) exec(job journalJob) {
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("journal job panicked", zap.Any("panic", r))
		}
		if job.done != nil {
			close(job.done)
		}
		j.metrics.ObserveJournal(time.Since(job.enqueued))
	}()
	job.fn(context.Background())
}

func (j *Journal) shard(key string) chan journalJob {
	return j.shards[xxhash.Sum64String(key)%uint64(len(j.shards))]
}

func (j *Journal) enqueue(ctx context.Context, key string, job journalJob) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return errJournalClosed
	}
	select {
	case j.shard(key) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn behind every job already submitted for key. It blocks
// only while the shard queue is full.
func (j *Journal) Submit(ctx context.Context, key string, fn func(ctx context.Context)) error {
	return j.enqueue(ctx, key, journalJob{fn: fn, enqueued: time.Now()})
}

// Do queues fn like Submit and waits for it to finish. If ctx ends first
// Do returns ctx.Err() and fn still runs later.
func (j *Journal) Do(ctx context.Context, key string, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	if err := j.enqueue(ctx, key, journalJob{fn: fn, enqueued: time.Now(), done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, runs what is queued and waits for the workers.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	for _, q := range j.shards {
		close(q)
	}
	j.mu.Unlock()
	j.wg.Wait()
}
