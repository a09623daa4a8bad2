package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/driftmq/storage"
)

func msg(topic string, qos byte) *storage.Message {
	return &storage.Message{Topic: topic, QoS: qos, Payload: []byte("x")}
}

func TestInflightAddAckReleases(t *testing.T) {
	inf := NewInflight(10)

	require.NoError(t, inf.Add(1, msg("a", 1), PubAckPending, Outbound))
	assert.True(t, inf.Has(1))
	assert.Equal(t, 1, inf.Count())

	acked, err := inf.Ack(1)
	require.NoError(t, err)
	assert.Equal(t, "a", acked.Topic)
	assert.False(t, inf.Has(1))

	_, err = inf.Ack(1)
	assert.ErrorIs(t, err, ErrPacketNotFound)
}

func TestInflightDuplicateIDRejected(t *testing.T) {
	inf := NewInflight(10)
	require.NoError(t, inf.Add(1, msg("a", 1), PubAckPending, Outbound))
	assert.Error(t, inf.Add(1, msg("b", 1), PubAckPending, Outbound))
}

func TestInflightCapacity(t *testing.T) {
	inf := NewInflight(2)
	require.NoError(t, inf.Add(1, msg("a", 1), PubAckPending, Outbound))
	require.NoError(t, inf.Add(2, msg("b", 1), PubAckPending, Outbound))
	assert.ErrorIs(t, inf.Add(3, msg("c", 1), PubAckPending, Outbound), ErrInflightFull)
}

func TestInflightStateTransitions(t *testing.T) {
	inf := NewInflight(10)
	require.NoError(t, inf.Add(5, msg("a", 2), PubRecPending, Outbound))

	require.NoError(t, inf.UpdateState(5, PubCompPending))
	got, ok := inf.Get(5)
	require.True(t, ok)
	assert.Equal(t, PubCompPending, got.State)

	assert.Error(t, inf.UpdateState(99, PubCompPending))
}

func TestInflightCountOutbound(t *testing.T) {
	inf := NewInflight(10)
	require.NoError(t, inf.Add(1, msg("a", 1), PubAckPending, Outbound))
	require.NoError(t, inf.Add(2, msg("b", 2), PubRecPending, Inbound))

	assert.Equal(t, 2, inf.Count())
	assert.Equal(t, 1, inf.CountOutbound())
}

func TestInflightReceivedTracking(t *testing.T) {
	inf := NewInflight(10)

	assert.False(t, inf.WasReceived(7))
	inf.MarkReceived(7)
	assert.True(t, inf.WasReceived(7))
	assert.Equal(t, 1, inf.CountReceived())

	inf.ClearReceived(7)
	assert.False(t, inf.WasReceived(7))
	assert.Equal(t, 0, inf.CountReceived())
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(10)
	require.NoError(t, q.Enqueue(msg("first", 1)))
	require.NoError(t, q.Enqueue(msg("second", 1)))

	assert.Equal(t, "first", q.Peek().Topic)
	assert.Equal(t, "first", q.Dequeue().Topic)
	assert.Equal(t, "second", q.Dequeue().Topic)
	assert.Nil(t, q.Dequeue())
}

func TestQueueDropsOldestQoS0OnOverflow(t *testing.T) {
	q := NewQueue(3)
	require.NoError(t, q.Enqueue(msg("q1-a", 1)))
	require.NoError(t, q.Enqueue(msg("q0", 0)))
	require.NoError(t, q.Enqueue(msg("q1-b", 1)))

	// Full; the QoS 0 entry gives way.
	require.NoError(t, q.Enqueue(msg("q1-c", 1)))

	drained := q.Drain()
	require.Len(t, drained, 3)
	assert.Equal(t, "q1-a", drained[0].Topic)
	assert.Equal(t, "q1-b", drained[1].Topic)
	assert.Equal(t, "q1-c", drained[2].Topic)
}

func TestQueueFullWithoutQoS0(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Enqueue(msg("a", 1)))
	require.NoError(t, q.Enqueue(msg("b", 2)))

	err := q.Enqueue(msg("c", 1))
	assert.ErrorIs(t, err, ErrQueueFull)

	// EvictOldest makes room regardless of QoS.
	evicted := q.EvictOldest()
	assert.Equal(t, "a", evicted.Topic)
	require.NoError(t, q.Enqueue(msg("c", 1)))
}

func TestQueueCopiesMessages(t *testing.T) {
	q := NewQueue(10)
	original := msg("a", 1)
	require.NoError(t, q.Enqueue(original))

	original.Payload[0] = 'y'
	assert.Equal(t, []byte("x"), q.Peek().Payload)
}
