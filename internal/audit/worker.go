package audit

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultInboxSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

// Worker decouples the request path from publishing. Emit never blocks: when
// the inbox is full the event is dropped and reported through the drop hook.
type Worker struct {
	publisher      Publisher
	inbox          chan Event
	logger         *slog.Logger
	publishTimeout time.Duration
	onDrop         func(Event)
	onFailure      func(Event, error)
}

type WorkerOption func(*Worker)

func WithInboxSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.inbox = make(chan Event, n)
		}
	}
}

func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithPublishTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.publishTimeout = d
		}
	}
}

func WithDropHook(fn func(Event)) WorkerOption {
	return func(w *Worker) {
		w.onDrop = fn
	}
}

func WithFailureHook(fn func(Event, error)) WorkerOption {
	return func(w *Worker) {
		w.onFailure = fn
	}
}

func NewWorker(publisher Publisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		publisher:      publisher,
		inbox:          make(chan Event, defaultInboxSize),
		logger:         slog.Default(),
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Emit queues e for publishing.
func (w *Worker) Emit(_ context.Context, e Event) {
	select {
	case w.inbox <- e:
	default:
		w.logger.Warn("audit inbox full, dropping event", "event_id", e.ID.String(), "outcome", e.Outcome)
		if w.onDrop != nil {
			w.onDrop(e)
		}
	}
}

// Run publishes queued events until ctx is done, then drains what is already
// queued with a fresh deadline.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case e := <-w.inbox:
			w.publish(ctx, e)
		}
	}
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.publishTimeout)
	defer cancel()
	for {
		select {
		case e := <-w.inbox:
			w.publish(ctx, e)
		default:
			return
		}
	}
}

func (w *Worker) publish(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(ctx, w.publishTimeout)
	defer cancel()
	if err := w.publisher.Publish(ctx, e); err != nil {
		w.logger.Error("failed to publish audit event", "event_id", e.ID.String(), "error", err)
		if w.onFailure != nil {
			w.onFailure(e, err)
		}
	}
}
