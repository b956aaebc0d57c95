package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is one row of the transactional outbox.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	// Delivered names the handlers that already took this message.
	Delivered []string
	CreatedAt time.Time
}

const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusDead      = "dead"
)

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("outbox: decode %s payload: %w", m.Topic, err)
	}
	return nil
}

// Fields decodes the payload as a flat JSON object.
func (m Message) Fields() (map[string]any, error) {
	out := map[string]any{}
	if len(m.Payload) == 0 {
		return out, nil
	}
	if err := m.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// String reads a string field from a decoded payload, returning "" when absent.
func String(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
