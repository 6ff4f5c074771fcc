package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the orchestrator.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// StepID is the associated provisioning step ID, if applicable.
	StepID string `json:"step_id,omitempty"`

	// Service is the associated managed service, if applicable.
	Service string `json:"service,omitempty"`

	// Cadence is the associated maintenance cadence, if applicable.
	Cadence string `json:"cadence,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted         = "run.started"
	EventTypeRunCompleted       = "run.completed"
	EventTypeRunFailed          = "run.failed"
	EventTypeStepStarted        = "step.started"
	EventTypeStepCompleted      = "step.completed"
	EventTypeStepFailed         = "step.failed"
	EventTypeStepSkipped        = "step.skipped"
	EventTypeProbeCompleted     = "probe.completed"
	EventTypeRemediationApplied = "remediation.applied"
	EventTypeRemediationSkipped = "remediation.skipped"
	EventTypeRemediationFailed  = "remediation.failed"
	EventTypeCycleDeferred      = "cycle.deferred"
	EventTypeEscalationRaised   = "escalation.raised"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, kind string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("%s run %s started", kind, runID),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"kind": kind,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStepStarted publishes a step started event.
func (ep *EventPublisher) PublishStepStarted(runID, stepID string, ordinal int) error {
	return ep.Publish(Event{
		Type:    EventTypeStepStarted,
		Source:  "sequencer",
		RunID:   runID,
		StepID:  stepID,
		Message: fmt.Sprintf("Step %d (%s) started", ordinal, stepID),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"ordinal": ordinal,
		},
	})
}

// PublishStepCompleted publishes a step completed event.
func (ep *EventPublisher) PublishStepCompleted(runID, stepID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeStepCompleted,
		Source:  "sequencer",
		RunID:   runID,
		StepID:  stepID,
		Message: fmt.Sprintf("Step %s completed with status: %s", stepID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishStepFailed publishes a step failed event.
func (ep *EventPublisher) PublishStepFailed(runID, stepID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStepFailed,
		Source:  "sequencer",
		RunID:   runID,
		StepID:  stepID,
		Message: fmt.Sprintf("Step %s failed: %s", stepID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStepSkipped publishes a step skipped event.
func (ep *EventPublisher) PublishStepSkipped(runID, stepID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStepSkipped,
		Source:  "sequencer",
		RunID:   runID,
		StepID:  stepID,
		Message: fmt.Sprintf("Step %s skipped: %s", stepID, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishProbeCompleted publishes a probe completed event.
func (ep *EventPublisher) PublishProbeCompleted(runID, service, status string, latency time.Duration) error {
	level := EventLevelInfo
	if status != "healthy" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeProbeCompleted,
		Source:  "probe",
		RunID:   runID,
		Service: service,
		Message: fmt.Sprintf("Probe of %s returned %s in %s", service, status, latency),
		Level:   level,
		Data: map[string]interface{}{
			"status":  status,
			"latency": latency.Seconds(),
		},
	})
}

// PublishRemediationApplied publishes a remediation applied event.
func (ep *EventPublisher) PublishRemediationApplied(runID, service, action, resultStatus string) error {
	return ep.Publish(Event{
		Type:    EventTypeRemediationApplied,
		Source:  "remedy",
		RunID:   runID,
		Service: service,
		Message: fmt.Sprintf("Remediation %q applied to %s, service now %s", action, service, resultStatus),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"action":        action,
			"result_status": resultStatus,
		},
	})
}

// PublishRemediationSkipped publishes a remediation skipped event.
func (ep *EventPublisher) PublishRemediationSkipped(runID, service string, remaining time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRemediationSkipped,
		Source:  "remedy",
		RunID:   runID,
		Service: service,
		Message: fmt.Sprintf("Remediation of %s skipped, cooldown active for another %s", service, remaining),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"cooldown_remaining": remaining.Seconds(),
		},
	})
}

// PublishRemediationFailed publishes a remediation failed event.
func (ep *EventPublisher) PublishRemediationFailed(runID, service, action, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRemediationFailed,
		Source:  "remedy",
		RunID:   runID,
		Service: service,
		Message: fmt.Sprintf("Remediation %q of %s failed: %s", action, service, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"action": action,
			"reason": reason,
		},
	})
}

// PublishCycleDeferred publishes an event for a deferred maintenance trigger.
func (ep *EventPublisher) PublishCycleDeferred(cadence string) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleDeferred,
		Source:  "scheduler",
		Cadence: cadence,
		Message: fmt.Sprintf("%s maintenance deferred, previous cycle still running", cadence),
		Level:   EventLevelWarning,
	})
}

// PublishEscalationRaised publishes an escalation event for a persistently
// unreachable service.
func (ep *EventPublisher) PublishEscalationRaised(service string, consecutive, threshold int) error {
	return ep.Publish(Event{
		Type:    EventTypeEscalationRaised,
		Source:  "orchestrator",
		Service: service,
		Message: fmt.Sprintf("Service %s unreachable for %d consecutive cycles (threshold %d)", service, consecutive, threshold),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"consecutive": consecutive,
			"threshold":   threshold,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
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

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByService creates a filter that only allows events for a specific service.
func FilterByService(service string) EventFilter {
	return func(event Event) bool {
		return event.Service == service
	}
}
