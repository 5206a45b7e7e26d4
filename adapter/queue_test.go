package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/armlink/metrics"
	"github.com/pithecene-io/armlink/types"
)

// gatedPublisher blocks every Publish until release is closed.
type gatedPublisher struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once

	mu   sync.Mutex
	seqs []int64
	err  error
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{release: make(chan struct{}), started: make(chan struct{})}
}

func (g *gatedPublisher) Publish(_ context.Context, s *types.JointState) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seqs = append(g.seqs, s.Seq)
	return g.err
}

func (g *gatedPublisher) Close() error { return nil }

func (g *gatedPublisher) published() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.seqs...)
}

func TestNewQueue_Validation(t *testing.T) {
	if _, err := NewQueue(nil, QueueConfig{Size: 1}); err == nil {
		t.Error("expected error for nil publisher")
	}
	if _, err := NewQueue(NewStubPublisher(0), QueueConfig{}); err == nil {
		t.Error("expected error for zero size")
	}
}

func TestQueue_PublishesInOrder(t *testing.T) {
	stub := NewStubPublisher(0)
	q, err := NewQueue(stub, QueueConfig{Size: 8})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	for i := int64(1); i <= 5; i++ {
		if err := q.Publish(t.Context(), sampleState(i)); err != nil {
			t.Fatalf("Publish(%d): %v", i, err)
		}
	}
	if err := q.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var got []int64
	for _, s := range stub.States() {
		got = append(got, s.Seq)
	}
	if diff := cmp.Diff([]int64{1, 2, 3, 4, 5}, got); diff != "" {
		t.Errorf("published seqs mismatch (-want +got):\n%s", diff)
	}
	want := QueueStats{Enqueued: 5, Published: 5}
	if diff := cmp.Diff(want, q.Stats()); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	gated := newGatedPublisher()
	q, err := NewQueue(gated, QueueConfig{Size: 2})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	// Seq 1 is taken by the worker and blocks downstream.
	if err := q.Publish(t.Context(), sampleState(1)); err != nil {
		t.Fatal(err)
	}
	<-gated.started

	for i := int64(2); i <= 5; i++ {
		if err := q.Publish(t.Context(), sampleState(i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := q.Stats(); got.Dropped != 2 || got.Pending != 3 {
		t.Errorf("stats = %+v, want 2 dropped and 3 pending", got)
	}

	close(gated.release)
	if err := q.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 4, 5}, gated.published()); diff != "" {
		t.Errorf("published seqs mismatch (-want +got):\n%s", diff)
	}
}

func TestQueue_FailuresCounted(t *testing.T) {
	gated := newGatedPublisher()
	gated.err = errors.New("down")
	close(gated.release)

	c := metrics.NewCollector("r1", "test")
	q, err := NewQueue(gated, QueueConfig{Size: 4, Collector: c})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	_ = q.Publish(t.Context(), sampleState(1))
	_ = q.Publish(t.Context(), sampleState(2))
	if err := q.Flush(t.Context()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := q.Stats().Failed; got != 2 {
		t.Errorf("Failed = %d, want 2", got)
	}
	if got := c.Snapshot().PublishFailures; got != 2 {
		t.Errorf("collector PublishFailures = %d, want 2", got)
	}
}

func TestQueue_FlushHonorsContext(t *testing.T) {
	gated := newGatedPublisher()
	q, err := NewQueue(gated, QueueConfig{Size: 1})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	_ = q.Publish(t.Context(), sampleState(1))
	<-gated.started

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if err := q.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush error = %v, want DeadlineExceeded", err)
	}

	close(gated.release)
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestQueue_CloseDrainsAndRejects(t *testing.T) {
	stub := NewStubPublisher(0)
	q, err := NewQueue(stub, QueueConfig{Size: 4})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	_ = q.Publish(t.Context(), sampleState(1))
	_ = q.Publish(t.Context(), sampleState(2))

	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(stub.States()); got != 2 {
		t.Errorf("published %d states before close, want 2", got)
	}
	if err := q.Publish(t.Context(), sampleState(3)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Publish after Close = %v, want ErrQueueClosed", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
