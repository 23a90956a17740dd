package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/shelfsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster records broadcast messages.
type mockBroadcaster struct {
	mu       sync.Mutex
	messages []types.PushMessage
	clients  int
	err      error
}

func (m *mockBroadcaster) Broadcast(msg types.PushMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockBroadcaster) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients
}

func (m *mockBroadcaster) sent() []types.PushMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.PushMessage(nil), m.messages...)
}

func TestHeartbeatWorker_PingsOnInterval(t *testing.T) {
	// Given: two connected clients
	hub := &mockBroadcaster{clients: 2}
	worker := NewHeartbeatWorker(hub, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	// When: several intervals elapse
	time.Sleep(110 * time.Millisecond)
	cancel()
	<-done

	// Then: every broadcast is a ping
	msgs := hub.sent()
	require.GreaterOrEqual(t, len(msgs), 2, "expected at least 2 pings")
	for i, m := range msgs {
		assert.Equal(t, types.MessagePing, m.Type, "message %d", i)
	}
}

func TestHeartbeatWorker_SkipsWithoutClients(t *testing.T) {
	hub := &mockBroadcaster{clients: 0}
	worker := NewHeartbeatWorker(hub, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, hub.sent(), "no pings without clients")
}

func TestHeartbeatWorker_SurvivesBroadcastErrors(t *testing.T) {
	hub := &mockBroadcaster{clients: 1, err: errors.New("hub stopped")}
	worker := NewHeartbeatWorker(hub, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker did not stop on context cancellation")
	}
}
