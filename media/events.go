package media

import (
	"context"
	"log/slog"
)

// EventType classifies a swallowed failure.
type EventType string

const (
	EventRenditionFailed      EventType = "rendition_failed"
	EventRenditionCopyFailed  EventType = "rendition_copy_failed"
	EventCleanupFailed        EventType = "cleanup_failed"
	EventStagingCleanupFailed EventType = "staging_cleanup_failed"
	EventIncompleteRenditions EventType = "incomplete_renditions"
)

// Event describes a failure the pipeline tolerated. Each one may leave an
// orphaned object or a partial rendition set behind.
type Event struct {
	Type EventType
	Op   string
	Key  string
	Err  error
}

// Observer receives pipeline events. Observe is called synchronously from
// pipeline goroutines and must be safe for concurrent use.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

// Observers fans an event out to several observers.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, e Event) {
	for _, obs := range o {
		obs.Observe(ctx, e)
	}
}

func (p *Pipeline) report(ctx context.Context, e Event) {
	attrs := []any{
		slog.String("event", string(e.Type)),
		slog.String("op", e.Op),
		slog.String("key", e.Key),
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	p.log(ctx).Warn("media operation degraded", attrs...)

	if p.observer != nil {
		p.observer.Observe(ctx, e)
	}
}
