package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// eventNamespace is the fixed UUIDv5 namespace for deterministic event IDs.
var eventNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Event is the immutable fact carried on the bus. Delivery is at-least-once
// and ordering is guaranteed only within one order's partition, so consumers
// dedup on (OrderID, EventID).
type Event struct {
	EventID          string          `json:"event_id"`
	OrderID          string          `json:"order_id"`
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	ProducedAtRegion string          `json:"produced_at_region"`
	Sequence         int64           `json:"sequence"`
	Timestamp        time.Time       `json:"timestamp"`
	Source           string          `json:"source,omitempty"`
}

// DeterministicEventID derives the event ID from (orderID, stepName, outcome)
// so the same logical fact always hashes to the same ID, no matter which
// region or retry produced it.
func DeterministicEventID(orderID, stepName, outcome string) string {
	return uuid.NewSHA1(eventNamespace, []byte(orderID+"|"+stepName+"|"+outcome)).String()
}

// NewEvent builds an event with a deterministic ID. stepName and outcome feed
// the dedup hash; sequence carries the order record version at emission so
// consumers can reject stale replays.
func NewEvent(eventType, orderID, stepName, outcome, region, source string, sequence int64, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	return &Event{
		EventID:          DeterministicEventID(orderID, stepName, outcome),
		OrderID:          orderID,
		Type:             eventType,
		Payload:          data,
		ProducedAtRegion: region,
		Sequence:         sequence,
		Timestamp:        time.Now().UTC(),
		Source:           source,
	}, nil
}

// DedupKey is the key consumers store in their seen-set.
func (e *Event) DedupKey() string {
	return e.OrderID + ":" + e.EventID
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// UnmarshalPayload deserializes the event payload into the given target.
func (e *Event) UnmarshalPayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}
