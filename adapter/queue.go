package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/armlink/log"
	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/types"
)

// ErrQueueClosed is returned by Queue.Publish after Close.
var ErrQueueClosed = errors.New("publish queue closed")

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Size is the maximum number of queued states (required).
	Size int
	// Logger is an optional logger for drops and downstream failures.
	Logger *log.Logger
	// Collector counts downstream failures. May be nil.
	Collector *metrics.Collector
}

// QueueStats is a point-in-time view of a Queue.
type QueueStats struct {
	Enqueued  int64 `json:"enqueued"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Queue decouples the relay from a slow publisher. States are handed to
// the downstream publisher by one worker in arrival order.
//
// The queue is bounded. When it is full the oldest queued state is dropped:
// joint states supersede each other, so the newest is kept.
type Queue struct {
	next   Publisher
	size   int
	logger *log.Logger

	collector *metrics.Collector

	mu       sync.Mutex // guards everything below
	cond     *sync.Cond
	buf      []*types.JointState
	inflight bool
	closed   bool
	stats    QueueStats

	done chan struct{}
}

var _ Publisher = (*Queue)(nil)

// NewQueue starts a queue in front of next.
func NewQueue(next Publisher, cfg QueueConfig) (*Queue, error) {
	if next == nil {
		return nil, errors.New("publish queue requires a publisher")
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("publish queue size must be > 0, got %d", cfg.Size)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	q := &Queue{
		next:      next,
		size:      cfg.Size,
		logger:    cfg.Logger,
		collector: cfg.Collector,
		buf:       make([]*types.JointState, 0, cfg.Size),
		done:      make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q, nil
}

// Publish enqueues a copy of state. It never blocks on the downstream
// publisher.
func (q *Queue) Publish(ctx context.Context, state *types.JointState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.buf) >= q.size {
		dropped := q.buf[0]
		q.buf[0] = nil
		q.buf = q.buf[1:]
		q.stats.Dropped++
		q.logger.Debug("publish queue full, dropping oldest state", map[string]any{"seq": dropped.Seq})
	}
	q.buf = append(q.buf, state.Clone())
	q.stats.Enqueued++
	q.cond.Broadcast()
	return nil
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.buf) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.buf) == 0 {
			q.mu.Unlock()
			return
		}
		state := q.buf[0]
		q.buf[0] = nil
		q.buf = q.buf[1:]
		q.inflight = true
		q.mu.Unlock()

		err := q.next.Publish(context.Background(), state)

		q.mu.Lock()
		q.inflight = false
		if err != nil {
			q.stats.Failed++
		} else {
			q.stats.Published++
		}
		q.cond.Broadcast()
		q.mu.Unlock()

		if err != nil {
			q.collector.IncPublishFailures()
			q.logger.Warn("queued publish failed", map[string]any{"seq": state.Seq, "error": err.Error()})
		}
	}
}

// Flush waits until every queued state has been handed downstream, or
// ctx ends.
func (q *Queue) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) > 0 || q.inflight {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.buf)
	if q.inflight {
		s.Pending++
	}
	return s
}

// Close drains the queue and closes the downstream publisher.
func (q *Queue) Close() error {
	q.mu.Lock()
	already := q.closed
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done
	if already {
		return nil
	}
	return q.next.Close()
}
