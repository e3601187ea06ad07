package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every envelope produced by this package.
const SchemaVersion = 1

// Event is the JSON envelope written as the Kafka message value. Subject
// identifies the entity the event is about and doubles as the partition key.
type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Subject       string            `json:"subject,omitempty"`
	Source        string            `json:"source"`
	SchemaVersion int               `json:"schema_version"`
	OccurredAt    time.Time         `json:"occurred_at"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// NewEvent builds an envelope around data. A nil data leaves the payload empty.
func NewEvent(source, eventType, subject string, data any) (*Event, error) {
	if eventType == "" {
		return nil, errors.New("kafka: event type is required")
	}

	var payload json.RawMessage
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		payload = raw
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Subject:       subject,
		Source:        source,
		SchemaVersion: SchemaVersion,
		OccurredAt:    time.Now().UTC(),
		Data:          payload,
	}, nil
}

func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

func (e *Event) WithAttribute(key, value string) *Event {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// Key returns the partition key. Events without a subject are spread by ID.
func (e *Event) Key() []byte {
	if e.Subject != "" {
		return []byte(e.Subject)
	}
	return []byte(e.ID)
}

// Decode parses an envelope and rejects ones missing an ID or type.
func Decode(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if e.ID == "" || e.Type == "" {
		return nil, errors.New("decode event: missing id or type")
	}
	return &e, nil
}

// DecodeData unmarshals the payload into target.
func (e *Event) DecodeData(target any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Data, target)
}
