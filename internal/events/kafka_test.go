package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_KeysByProspect(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	msg, err := encode(Event{ID: "e1", Type: TypeCallEnded, ProspectID: 42, CallAttemptID: "a1", CallerID: 7, State: "ended", Outcome: "no-answer", OccurredAt: at})
	require.NoError(t, err)

	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "call.ended", string(msg.Headers[0].Value))

	var back Event
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	assert.Equal(t, "no-answer", back.Outcome)
}

func TestNewKafkaPublisher_Validates(t *testing.T) {
	_, err := NewKafkaPublisher(" , ", "calls")
	assert.Error(t, err)

	_, err = NewKafkaPublisher("localhost:9092", "")
	assert.Error(t, err)

	p, err := NewKafkaPublisher("localhost:9092, localhost:9093", "calls")
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestRecorder_CopiesEvents(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), Event{Type: TypeCallStarted}))
	evs := r.Events()
	evs[0].Type = "mutated"
	assert.Equal(t, TypeCallStarted, r.Events()[0].Type)
}
