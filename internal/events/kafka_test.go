package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fieldsight/fieldsight-access/internal/access"
	"github.com/oklog/ulid/v2"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter records written messages.
type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleRole() *access.Role {
	return &access.Role{
		ID:        7,
		UserID:    "alice",
		Kind:      access.KindSiteSupervisor,
		ProjectID: access.Ref(10),
		SiteID:    access.Ref(100),
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(TypeRoleGranted, sampleRole(), "admin")

	_, err := ulid.ParseStrict(ev.ID)
	assert.NoError(t, err, "event id must be a ULID")
	assert.Equal(t, TypeRoleGranted, ev.Type)
	assert.Equal(t, "alice", ev.Key())
	assert.False(t, ev.OccurredAt.IsZero())
}

func TestEventKey_NilRole(t *testing.T) {
	ev := &Event{Type: TypeRoleEnded}
	assert.Equal(t, "", ev.Key())
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w, "fieldsight.roles")

	ev := NewEvent(TypeSiteAssigned, sampleRole(), "pm-1")
	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "alice", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TypeSiteAssigned, string(msg.Headers[0].Value))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded["id"])
	assert.Equal(t, "site.assigned", decoded["type"])
	assert.Equal(t, "pm-1", decoded["actor_id"])
	role, ok := decoded["role"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "site_supervisor", role["kind"])
	assert.Equal(t, float64(100), role["site_id"])
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker unavailable")
	p := NewKafkaPublisherWithWriter(&fakeWriter{err: boom}, "fieldsight.roles")

	err := p.Publish(context.Background(), NewEvent(TypeRoleEnded, sampleRole(), ""))
	assert.ErrorIs(t, err, boom)
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewKafkaPublisherWithWriter(w, "t").Close())
	assert.True(t, w.closed)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewEvent(TypeRoleGranted, sampleRole(), "")))
	assert.NoError(t, p.Close())
}
