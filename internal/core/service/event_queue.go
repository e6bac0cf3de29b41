package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/port"
)

const sinkTimeout = 5 * time.Second

// EventQueue is a bounded EventEmitter drained by RunEventWorker.
type EventQueue struct {
	mu      sync.RWMutex
	closed  bool
	events  chan domain.Event
	metrics *Metrics
	log     *zap.Logger
}

func NewEventQueue(size int, metrics *Metrics, log *zap.Logger) *EventQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventQueue{
		events:  make(chan domain.Event, size),
		metrics: metrics,
		log:     log,
	}
}

// Emit never waits. The event is dropped and counted when the queue is full
// or closed.
func (q *EventQueue) Emit(ctx context.Context, event domain.Event) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(event, "queue closed")
		return
	}
	select {
	case q.events <- event:
	default:
		q.drop(event, "queue full")
	}
}

func (q *EventQueue) drop(event domain.Event, reason string) {
	q.metrics.ObserveEventDropped("queue")
	q.log.Warn("event dropped",
		zap.String("reason", reason),
		zap.String("kind", string(event.Kind)),
		zap.String("event_id", event.ID),
	)
}

func (q *EventQueue) Events() <-chan domain.Event {
	return q.events
}

// Close stops accepting events and lets workers drain what is queued. It is
// safe to call more than once and concurrently with Emit.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.events)
}

// RunEventWorker delivers queued events to the journal and the stream until
// the queue is closed. Either sink may be nil. Failures are logged and
// counted; the event is not redelivered.
func RunEventWorker(id int, queue <-chan domain.Event, journal port.DatabaseRepository, stream port.CacheRepository, metrics *Metrics, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.Int("worker", id))

	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)

		if journal != nil {
			if err := journal.AppendEvent(ctx, event); err != nil {
				metrics.ObserveEventDropped("journal")
				log.Error("failed to journal event", zap.String("event_id", event.ID), zap.Error(err))
			}
		}
		if stream != nil {
			if err := stream.PublishEvent(ctx, event); err != nil {
				metrics.ObserveEventDropped("stream")
				log.Error("failed to publish event", zap.String("event_id", event.ID), zap.Error(err))
			}
		}
		log.Debug("event delivered", zap.String("event_id", event.ID), zap.String("kind", string(event.Kind)))

		cancel()
	}
}
