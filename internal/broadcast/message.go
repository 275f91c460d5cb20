// Package broadcast provides the topic-scoped fan-out channel that keeps
// connected clients in step with the server.
//
// Every successful mutation is published as a Message on a topic. The Hub
// delivers it to every other subscriber of that topic at most once and
// never back to its origin. There is no ordering guarantee across origins,
// and none between a schedule mutation and the post mutations it cascaded
// into; consumers merge idempotently by record id.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/postlink/internal/schema"
)

// DefaultTopic is the room every schedule client joins.
const DefaultTopic = "schedule-room"

// Reserved origins for server-side publishers.
const (
	OriginServer  = "server"
	OriginCascade = "cascade"
)

// IsReservedOrigin reports whether id names a server-side publisher and so
// cannot be claimed by a client.
func IsReservedOrigin(id string) bool {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case OriginServer, OriginCascade:
		return true
	}
	return false
}

// Op is the kind of mutation a Message describes.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Message is one broadcast mutation.
type Message struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Origin    string          `json:"origin"`
	Entity    schema.Entity   `json:"entity"`
	Op        Op              `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeletePayload is the payload of an OpDelete message.
type DeletePayload struct {
	ID string `json:"id"`
}

var errInvalidMessage = errors.New("invalid broadcast message")

// NewMessage builds a Message with a fresh id. For OpDelete, payload may be
// a DeletePayload or the deleted record.
func NewMessage(origin string, entity schema.Entity, op Op, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", entity, err)
	}
	return Message{
		ID:        uuid.NewString(),
		Topic:     DefaultTopic,
		Origin:    origin,
		Entity:    entity,
		Op:        op,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Normalize fills defaults: an id, the default topic and a timestamp.
func (m *Message) Normalize() {
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Topic == "" {
		m.Topic = DefaultTopic
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
}

// Validate checks entity and op.
func (m Message) Validate() error {
	switch m.Entity {
	case schema.EntitySchedule, schema.EntityPost:
	default:
		return fmt.Errorf("%w: unknown entity %q", errInvalidMessage, m.Entity)
	}
	switch m.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: unknown op %q", errInvalidMessage, m.Op)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", errInvalidMessage)
	}
	return nil
}

// RecordID extracts the id of the record the message concerns.
func (m Message) RecordID() (string, error) {
	var p DeletePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return "", fmt.Errorf("failed to decode record id: %w", err)
	}
	if p.ID == "" {
		return "", fmt.Errorf("%w: payload has no id", errInvalidMessage)
	}
	return p.ID, nil
}

// Schedule decodes the payload of a schedule create/update.
func (m Message) Schedule() (*schema.ScheduleEntry, error) {
	if m.Entity != schema.EntitySchedule {
		return nil, fmt.Errorf("%w: entity is %s", errInvalidMessage, m.Entity)
	}
	var s schema.ScheduleEntry
	if err := json.Unmarshal(m.Payload, &s); err != nil {
		return nil, fmt.Errorf("failed to decode schedule payload: %w", err)
	}
	return &s, nil
}

// Post decodes the payload of a post create/update.
func (m Message) Post() (*schema.Post, error) {
	if m.Entity != schema.EntityPost {
		return nil, fmt.Errorf("%w: entity is %s", errInvalidMessage, m.Entity)
	}
	var p schema.Post
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode post payload: %w", err)
	}
	return &p, nil
}
