package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one lifecycle notification of a backup run.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	Kind      string         `json:"kind,omitempty"`
	Name      string         `json:"name,omitempty"`
	Profile   string         `json:"profile,omitempty"`
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypePluginStarted   = "plugin.started"
	EventTypePluginCompleted = "plugin.completed"
	EventTypePluginFailed    = "plugin.failed"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a published event.
type EventSubscriber func(event Event)

// EventFilter decides whether an event is delivered.
type EventFilter func(event Event) bool

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// EventPublisher delivers run events to subscribers. Delivery is synchronous,
// in publish order, since a run is strictly sequential.
type EventPublisher struct {
	mu          sync.RWMutex
	subscribers []subscriberEntry
	filters     []EventFilter
	now         func() time.Time
	file        *os.File
	closed      bool
}

// NewEventPublisher creates a publisher. With cfg.File set, every event is
// appended to that file as one JSON object per line.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{now: time.Now}
	if cfg.File == "" {
		return ep, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("create events directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open events file: %w", err)
	}
	ep.file = f
	ep.Subscribe(JSONLinesSubscriber(f), nil)
	return ep, nil
}

// Publish stamps the event and hands it to every matching subscriber.
func (ep *EventPublisher) Publish(event Event) error {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	if ep.closed {
		return fmt.Errorf("event publisher stopped")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = ep.now()
	}
	for _, filter := range ep.filters {
		if !filter(event) {
			return nil
		}
	}
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started", runID),
		Level:   EventLevelInfo,
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	level := EventLevelInfo
	if status != "completed" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   level,
		Data: map[string]any{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]any{
			"reason": reason,
		},
	})
}

// PublishPluginStarted publishes a plugin started event.
func (ep *EventPublisher) PublishPluginStarted(runID, kind, name, profile string) error {
	return ep.Publish(Event{
		Type:    EventTypePluginStarted,
		RunID:   runID,
		Kind:    kind,
		Name:    name,
		Profile: profile,
		Message: fmt.Sprintf("%s %s started", kind, name),
		Level:   EventLevelInfo,
	})
}

// PublishPluginCompleted publishes a plugin completed event.
func (ep *EventPublisher) PublishPluginCompleted(runID, kind, name, profile string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypePluginCompleted,
		RunID:   runID,
		Kind:    kind,
		Name:    name,
		Profile: profile,
		Message: fmt.Sprintf("%s %s completed", kind, name),
		Level:   EventLevelInfo,
		Data: map[string]any{
			"duration": duration.Seconds(),
		},
	})
}

// PublishPluginFailed publishes a plugin failed or skipped event.
func (ep *EventPublisher) PublishPluginFailed(runID, kind, name, profile, status, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePluginFailed,
		RunID:   runID,
		Kind:    kind,
		Name:    name,
		Profile: profile,
		Message: fmt.Sprintf("%s %s %s: %s", kind, name, status, reason),
		Level:   EventLevelError,
		Data: map[string]any{
			"status": status,
			"reason": reason,
		},
	})
}

// Subscribe adds a subscriber; a nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a filter applied before any subscriber.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// Shutdown stops delivery and closes the events file.
func (ep *EventPublisher) Shutdown(_ context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.closed {
		return nil
	}
	ep.closed = true
	if ep.file != nil {
		return ep.file.Close()
	}
	return nil
}

// JSONLinesSubscriber writes each event to w as a single JSON line. Write
// errors are dropped; events never block a run.
func JSONLinesSubscriber(w io.Writer) EventSubscriber {
	enc := json.NewEncoder(w)
	return func(event Event) {
		_ = enc.Encode(event)
	}
}

// FilterByLevel only allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID only allows events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
