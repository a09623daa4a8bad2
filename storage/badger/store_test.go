package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/driftmq/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSessionPersistence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess := &storage.Session{ClientID: "c1", Version: 5, ExpiryInterval: 300}
	require.NoError(t, st.Sessions().Save(ctx, sess))

	got, err := st.Sessions().Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, sess.ClientID, got.ClientID)
	assert.Equal(t, sess.ExpiryInterval, got.ExpiryInterval)

	require.NoError(t, st.Sessions().Delete(ctx, "c1"))
	_, err = st.Sessions().Get(ctx, "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMessagePrefixOperations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Messages().Store(ctx, "c1/queue/000001", &storage.Message{Topic: "a", Payload: []byte("1")}))
	require.NoError(t, st.Messages().Store(ctx, "c1/queue/000002", &storage.Message{Topic: "b", Payload: []byte("2")}))
	require.NoError(t, st.Messages().Store(ctx, "c2/queue/000001", &storage.Message{Topic: "c"}))

	msgs, err := st.Messages().List(ctx, "c1/queue/")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Topic)

	require.NoError(t, st.Messages().DeleteByPrefix(ctx, "c1/"))
	msgs, err = st.Messages().List(ctx, "c1/")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRetainedMatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Retained().Set(ctx, "a/b", &storage.Message{Topic: "a/b", Payload: []byte("x")}))
	require.NoError(t, st.Retained().Set(ctx, "a/c", &storage.Message{Topic: "a/c", Payload: []byte("y")}))
	require.NoError(t, st.Retained().Set(ctx, "b", &storage.Message{Topic: "b", Payload: []byte("z")}))

	matched, err := st.Retained().Match(ctx, "a/+")
	require.NoError(t, err)
	assert.Len(t, matched, 2)

	// Empty payload deletes.
	require.NoError(t, st.Retained().Set(ctx, "a/b", &storage.Message{Topic: "a/b"}))
	_, err = st.Retained().Get(ctx, "a/b")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSubscriptionsForClient(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Subscriptions().Add(ctx, &storage.Subscription{ClientID: "c1", Filter: "a/#", QoS: 1}))
	require.NoError(t, st.Subscriptions().Add(ctx, &storage.Subscription{ClientID: "c1", Filter: "b", QoS: 2}))

	subs, err := st.Subscriptions().GetForClient(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	assert.Equal(t, 2, st.Subscriptions().Count(ctx))

	require.NoError(t, st.Subscriptions().RemoveAll(ctx, "c1"))
	assert.Equal(t, 0, st.Subscriptions().Count(ctx))
}

func TestWillPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	due := &storage.WillMessage{ClientID: "c1", Topic: "w", TriggerAt: time.Now().Add(-time.Second)}
	require.NoError(t, st.Wills().Set(ctx, "c1", due))

	pending, err := st.Wills().GetPending(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ClientID)
}
