package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSendAndClose(t *testing.T) {
	sm := NewSessionManager(nil, nil)
	sess := sm.Open(context.Background())

	require.NoError(t, sess.Send(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, json.RawMessage(`{"a":1}`), <-sess.out)

	sess.Close()
	select {
	case <-sess.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
	require.ErrorIs(t, sess.Send(json.RawMessage(`{}`)), ErrSessionClosed)
	assert.ErrorIs(t, sess.Context().Err(), context.Canceled)

	// Close is idempotent.
	sess.Close()
}

func TestSessionOverflowClosesSession(t *testing.T) {
	sm := NewSessionManager(nil, nil)
	sess := sm.Open(context.Background())
	defer sm.CloseAll()

	for i := 0; i < sessionQueueCap; i++ {
		require.NoError(t, sess.Send(json.RawMessage(`{}`)))
	}

	err := sess.Send(json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrQueueFull)
	select {
	case <-sess.Done():
	default:
		t.Fatal("overflow should close the session")
	}
	require.ErrorIs(t, sess.Send(json.RawMessage(`{}`)), ErrSessionClosed)
}

func TestSessionManagerLifecycle(t *testing.T) {
	sm := NewSessionManager(nil, nil)

	a := sm.Open(context.Background())
	b := sm.Open(context.Background())
	require.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, sm.Count())

	got, ok := sm.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	sm.Remove(a.ID)
	_, ok = sm.Get(a.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, sm.Count())
	select {
	case <-a.Done():
	default:
		t.Fatal("Remove should close the session")
	}

	// Removing an unknown ID is a no-op.
	sm.Remove("nope")
	assert.Equal(t, 1, sm.Count())

	sm.CloseAll()
	assert.Equal(t, 0, sm.Count())
	select {
	case <-b.Done():
	default:
		t.Fatal("CloseAll should close every session")
	}
}

func TestSessionContextDescendsFromBase(t *testing.T) {
	sm := NewSessionManager(nil, nil)
	base, cancel := context.WithCancel(context.Background())
	sess := sm.Open(base)
	defer sm.CloseAll()

	cancel()
	assert.ErrorIs(t, sess.Context().Err(), context.Canceled)
}
