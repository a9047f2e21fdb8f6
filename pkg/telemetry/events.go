package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ftschopp/pve-scripts/pkg/engine"
)

var eventLevels = map[string]int{
	engine.LevelInfo:  0,
	engine.LevelWarn:  1,
	engine.LevelError: 2,
}

// EventFilter determines if an event should be delivered.
type EventFilter func(event engine.Event) bool

// EventPublisher fans engine events out to subscribed sinks and optionally
// to the logger. It implements engine.EventSink.
type EventPublisher struct {
	config      EventsConfig
	logger      zerolog.Logger
	subscribers []subscriberEntry
	filters     []EventFilter
	mu          sync.RWMutex
}

type subscriberEntry struct {
	sink   engine.EventSink
	filter EventFilter
}

// NewEventPublisher creates an event publisher.
func NewEventPublisher(cfg EventsConfig, logger zerolog.Logger) *EventPublisher {
	ep := &EventPublisher{
		config: cfg,
		logger: logger.With().Str("component", "events").Logger(),
	}
	if cfg.MinLevel != "" {
		ep.filters = append(ep.filters, FilterByLevel(cfg.MinLevel))
	}
	return ep
}

// Publish delivers event to every matching subscriber in subscription
// order. Subscriber errors are joined; delivery continues past them.
func (ep *EventPublisher) Publish(ctx context.Context, event engine.Event) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, filter := range ep.filters {
		if !filter(event) {
			return nil
		}
	}

	if ep.config.LogEvents {
		ep.log(ctx, event)
	}

	var errs []error
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		if err := entry.sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe adds a sink. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(sink engine.EventSink, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{sink: sink, filter: filter})
}

func (ep *EventPublisher) log(ctx context.Context, event engine.Event) {
	var e *zerolog.Event
	switch event.Level {
	case engine.LevelError:
		e = ep.logger.Error()
	case engine.LevelWarn:
		e = ep.logger.Warn()
	default:
		e = ep.logger.Debug()
	}
	e = e.Str("run_id", event.RunID).Str("event", string(event.Type))
	if event.Phase != "" {
		e = e.Str("phase", string(event.Phase))
	}
	if event.Resource != "" {
		e = e.Str("resource", event.Resource)
	}
	if id := TraceID(ctx); id != "" {
		e = e.Str("trace_id", id)
	}
	e.Msg(event.Message)
}

// FilterByLevel only allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	minValue := eventLevels[minLevel]
	return func(event engine.Event) bool {
		return eventLevels[event.Level] >= minValue
	}
}
