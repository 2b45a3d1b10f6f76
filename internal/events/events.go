// Package events publishes role lifecycle events. Consumers (the FieldSight
// notification worker, search indexers) subscribe to a single topic keyed by
// user ID, so all events for one user stay ordered within a partition.
package events

import (
	"context"
	"time"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/oklog/ulid/v2"
)

// Event types
const (
	TypeRoleGranted  = "role.granted"
	TypeRoleEnded    = "role.ended"
	TypeSiteAssigned = "site.assigned"
)

// Event is the JSON payload written to the topic.
type Event struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Role       *access.Role `json:"role"`
	ActorID    string       `json:"actor_id,omitempty"`
}

// NewEvent stamps a ULID and the current time.
func NewEvent(eventType string, role *access.Role, actorID string) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:       eventType,
		OccurredAt: now,
		Role:       role,
		ActorID:    actorID,
	}
}

// Key is the partition key of the event.
func (e *Event) Key() string {
	if e.Role == nil {
		return ""
	}
	return e.Role.UserID
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NoopPublisher discards every event. It is used when Kafka is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *Event) error { return nil }
func (NoopPublisher) Close() error                          { return nil }
