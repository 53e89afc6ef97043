// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventDiscoveryStarted   EventType = "DISCOVERY_STARTED"
	EventProbeCompleted     EventType = "PROBE_COMPLETED"
	EventDiscoveryCompleted EventType = "DISCOVERY_COMPLETED"
)

// DiscoveryEvent represents an event emitted while a discovery run progresses
type DiscoveryEvent struct {
	ID        uuid.UUID      `json:"id"`
	EventType EventType      `json:"event_type"`
	RunID     uuid.UUID      `json:"run_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
}

// NewDiscoveryEvent creates an event stamped with a fresh ID and the current time
func NewDiscoveryEvent(eventType EventType, runID uuid.UUID, data map[string]any) DiscoveryEvent {
	return DiscoveryEvent{
		ID:        uuid.New(),
		EventType: eventType,
		RunID:     runID,
		Data:      data,
		Timestamp: time.Now(),
		Source:    "discovery-service",
	}
}
