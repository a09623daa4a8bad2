package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/driftmq/broker/events"
)

func TestNotifierDelivers(t *testing.T) {
	var (
		mu       sync.Mutex
		received []envelope
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL})
	n.Notify(context.Background(), events.ClientConnected{ClientID: "c1", Protocol: 5})
	n.Notify(context.Background(), events.MessagePublished{ClientID: "c1", Topic: "t", QoS: 1})
	require.NoError(t, n.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "events.ClientConnected", received[0].Type)
	assert.Equal(t, "events.MessagePublished", received[1].Type)
}

func TestNotifierSurvivesFailingEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL, Timeout: time.Second})
	for i := 0; i < 10; i++ {
		n.Notify(context.Background(), events.ClientDisconnected{ClientID: "c1"})
	}
	assert.NoError(t, n.Close())
}

func TestNotifierDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	n := New(Config{URL: srv.URL, QueueSize: 1, Timeout: 100 * time.Millisecond})
	// Far more events than the queue holds; Notify must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Notify(context.Background(), events.ClientConnected{ClientID: "burst"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
}
