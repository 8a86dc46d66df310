// Package recorder implements the asynchronous lifecycle event recorder.
//
// Events are handed off to a buffered channel and written by a single worker
// goroutine, so recording never blocks the connection lifecycle. A full
// buffer drops the event (counted); a failed insert is logged and dropped.
// Losing a diagnostic record is preferable to stalling a live connection.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/metrics"
)

const insertTimeout = 5 * time.Second

// Store is the persistence capability the recorder needs.
type Store interface {
	Insert(ctx context.Context, event domain.LifecycleEvent) error
}

// Recorder buffers lifecycle events and writes them in the background.
type Recorder struct {
	store     Store
	eventCh   chan domain.LifecycleEvent
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a recorder and starts its worker.
func New(store Store, bufferSize int) *Recorder {
	r := &Recorder{
		store:   store,
		eventCh: make(chan domain.LifecycleEvent, bufferSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues an event for persistence. A zero timestamp is stamped with
// the current time. Never blocks: if the buffer is full the event is dropped
// and counted.
func (r *Recorder) Record(ctx context.Context, event domain.LifecycleEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case r.eventCh <- event:
		metrics.RecorderQueueDepth.Set(float64(len(r.eventCh)))
	default:
		metrics.RecorderDroppedEvents.Inc()
		slog.WarnContext(ctx, "Recorder buffer full, dropping lifecycle event", "stage", string(event.Stage))
	}
}

// Close drains buffered events and stops the worker. Waits until the drain
// completes or ctx expires.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		close(r.eventCh)
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	for event := range r.eventCh {
		metrics.RecorderQueueDepth.Set(float64(len(r.eventCh)))

		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		if err := r.store.Insert(ctx, event); err != nil {
			metrics.RecorderStoreFailures.Inc()
			slog.Error("Failed to persist lifecycle event", "stage", string(event.Stage), "error", err)
		}
		cancel()
	}
}
