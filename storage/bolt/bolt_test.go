package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/driftmq/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := New(Config{Path: filepath.Join(t.TempDir(), "driftmq.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSessionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess := &storage.Session{ClientID: "c1", Version: 4, ExpiryInterval: 60}
	require.NoError(t, st.Sessions().Save(ctx, sess))

	got, err := st.Sessions().Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, sess.ClientID, got.ClientID)
	assert.Equal(t, sess.Version, got.Version)

	_, err = st.Sessions().Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMessageQueueKeys(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Messages().Store(ctx, "c1/queue/000001", &storage.Message{Topic: "t1"}))
	require.NoError(t, st.Messages().Store(ctx, "c1/inflight/3", &storage.Message{Topic: "t2", PacketID: 3}))

	queued, err := st.Messages().List(ctx, "c1/queue/")
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "t1", queued[0].Topic)

	require.NoError(t, st.Messages().DeleteByPrefix(ctx, "c1/queue/"))
	queued, err = st.Messages().List(ctx, "c1/queue/")
	require.NoError(t, err)
	assert.Empty(t, queued)

	inflight, err := st.Messages().List(ctx, "c1/inflight/")
	require.NoError(t, err)
	assert.Len(t, inflight, 1)
}

func TestRetainedWildcardMatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Retained().Set(ctx, "x/y", &storage.Message{Topic: "x/y", Payload: []byte("v")}))

	matched, err := st.Retained().Match(ctx, "x/#")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "x/y", matched[0].Topic)

	require.NoError(t, st.Retained().Delete(ctx, "x/y"))
	assert.Equal(t, 0, st.Retained().Count(ctx))
}
