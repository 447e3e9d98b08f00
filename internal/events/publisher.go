package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"grantflow/pkg/requestcontext"
)

// Publisher appends events to the durable store and hands them to the
// fan-out worker. The store append is part of the emitting operation's
// commit; the fan-out is best-effort and must never fail a transaction.
type Publisher struct {
	store  Store
	inbox  chan Event
	logger *slog.Logger
}

func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		inbox:  make(chan Event, 256),
		logger: logger,
	}
}

// Emit stamps the event with an id, the request time, actor, and correlation
// id, then persists it. A full inbox drops the fan-out copy, never the
// durable record.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	event.ID = uuid.New()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = requestcontext.Now(ctx)
	}
	if event.Actor == "" {
		event.Actor = requestcontext.Caller(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		return err
	}

	select {
	case p.inbox <- event:
	default:
		p.logger.Warn("event fan-out inbox full, dropping copy",
			"type", event.Type, "event_id", event.ID)
	}
	return nil
}

// Inbox exposes the fan-out channel for the worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }

// Sink receives events for external fan-out (Kafka in production).
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Worker drains the publisher inbox into a sink. Run blocks until the
// context is cancelled; sink failures are logged and the event is retried
// once before being dropped from fan-out (it remains in the durable store).
type Worker struct {
	inbox   <-chan Event
	sink    Sink
	backoff time.Duration
	logger  *slog.Logger
}

func NewWorker(inbox <-chan Event, sink Sink, logger *slog.Logger) *Worker {
	return &Worker{inbox: inbox, sink: sink, backoff: 100 * time.Millisecond, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Publish(ctx, event); err != nil {
				w.logger.Warn("event publish failed, retrying once",
					"type", event.Type, "event_id", event.ID, "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(w.backoff):
				}
				if err := w.sink.Publish(ctx, event); err != nil {
					w.logger.Error("event publish failed, dropping from fan-out",
						"type", event.Type, "event_id", event.ID, "error", err)
				}
			}
		}
	}
}
