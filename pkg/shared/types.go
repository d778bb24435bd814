package shared

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// API Response types
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Event envelope published on the hierarchy streams.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Subject   string                 `json:"subject"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
}

// NewEvent wraps payload in an envelope with a fresh id. The payload's json
// tags define the keys of Data, so producers and consumers share one schema.
func NewEvent(eventType, subject, source string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return Event{}, fmt.Errorf("%s payload must encode as an object: %w", eventType, err)
	}

	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}, nil
}

// ReparentEvent is the payload of EventTypeReparented.
type ReparentEvent struct {
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	FromParentID   string    `json:"from_parent_id,omitempty"`
	ToParentID     string    `json:"to_parent_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ValidationSummary is the payload of EventTypeValidated.
type ValidationSummary struct {
	Fingerprint       string         `json:"fingerprint"`
	OrganizationCount int            `json:"organization_count"`
	ViolationCount    int            `json:"violation_count"`
	ByType            map[string]int `json:"by_type,omitempty"`
	ValidatedAt       time.Time      `json:"validated_at"`
}

// Health check
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version,omitempty"`
	Uptime    time.Duration     `json:"uptime,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// TimestampLayout is fixed width so stored timestamps sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	ServiceName = "hierarchy-api"

	// Event Types
	EventTypeReparented = "reparented"
	EventTypeValidated  = "validated"

	// Event sources
	SourceHierarchyService = "hierarchy-service"
)
