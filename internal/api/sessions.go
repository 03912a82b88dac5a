package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/hubspot-mcp/internal/metrics"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// Send failure modes.
var (
	ErrSessionClosed = errors.New("session closed")
	ErrQueueFull     = errors.New("session queue full")
)

// sessionQueueCap bounds the number of responses waiting for a slow SSE
// consumer before the session is declared dead.
const sessionQueueCap = 64

// Session is one SSE stream. Dispatch goroutines produce onto out; the
// /sse handler is the sole consumer.
type Session struct {
	ID      string
	out     chan json.RawMessage
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	once    sync.Once
}

// Context is canceled when the session closes; message dispatch runs under it.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the session and cancels any in-flight dispatches. Safe to call
// more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
	})
}

// Send queues one outbound frame. A queue that is already full closes the
// session and reports ErrQueueFull.
func (s *Session) Send(msg json.RawMessage) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.Close()
		return ErrQueueFull
	}
}

// SessionManager tracks the live SSE sessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   observability.Logger
	metrics  *metrics.Metrics
}

func NewSessionManager(logger observability.Logger, m *metrics.Metrics) *SessionManager {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		logger:   logger.WithPrefix("sessions"),
		metrics:  m,
	}
}

// Open registers a new session whose dispatch context descends from base, so
// server shutdown cancels every session's in-flight work.
func (sm *SessionManager) Open(base context.Context) *Session {
	ctx, cancel := context.WithCancel(base)
	s := &Session{
		ID:      uuid.NewString(),
		out:     make(chan json.RawMessage, sessionQueueCap),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
	}
	sm.mu.Lock()
	sm.sessions[s.ID] = s
	sm.mu.Unlock()

	sm.metrics.RecordSessionStart()
	sm.logger.Info("Session opened", map[string]interface{}{"session": s.ID})
	return s
}

func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[id]
	return s, ok
}

// Remove closes the session and forgets it. Removing an unknown ID is a no-op.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	sm.metrics.RecordSessionEnd(time.Since(s.started))
	sm.logger.Info("Session closed", map[string]interface{}{
		"session":     s.ID,
		"lifetime_ms": time.Since(s.started).Milliseconds(),
	})
}

// CloseAll ends every session. Used during server shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	closing := make([]*Session, 0, len(sm.sessions))
	for id, s := range sm.sessions {
		closing = append(closing, s)
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	for _, s := range closing {
		s.Close()
		sm.metrics.RecordSessionEnd(time.Since(s.started))
	}
	if len(closing) > 0 {
		sm.logger.Info("All sessions closed", map[string]interface{}{"count": len(closing)})
	}
}

func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}
