package httpapi

import (
	"sync"
	"sync/atomic"

	"github.com/aminparva84/InsightShop-sub000/internal/telemetry"
)

// SessionRegistry tracks connected assistant sockets and supports graceful
// draining. When draining is enabled, new connections are rejected while
// open ones finish naturally.
//
// It also makes sure one tab session is served by one socket: claiming a
// session id that is already connected closes the older socket.
type SessionRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
	owners   map[string]*sessionClaim
}

type sessionClaim struct {
	close func()
}

// NewSessionRegistry creates a new SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{owners: make(map[string]*sessionClaim)}
}

// Add registers a new connection. Returns false if the registry is draining.
// The draining check and WaitGroup increment happen under one lock.
func (sr *SessionRegistry) Add() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return false
	}
	sr.wg.Add(1)
	sr.count.Add(1)
	telemetry.ActiveSessions.Inc()
	return true
}

// Done marks a connection as closed. Must be called exactly once per successful Add.
func (sr *SessionRegistry) Done() {
	sr.count.Add(-1)
	telemetry.ActiveSessions.Dec()
	sr.wg.Done()
}

// Claim binds sessionID to the calling connection. A previous holder of the
// same id is closed. The returned release must be called when the
// connection ends; it only unbinds if the claim is still the current one.
func (sr *SessionRegistry) Claim(sessionID string, closeFn func()) (release func()) {
	claim := &sessionClaim{close: closeFn}

	sr.mu.Lock()
	prev := sr.owners[sessionID]
	sr.owners[sessionID] = claim
	sr.mu.Unlock()

	if prev != nil && prev.close != nil {
		prev.close()
	}

	return func() {
		sr.mu.Lock()
		if sr.owners[sessionID] == claim {
			delete(sr.owners, sessionID)
		}
		sr.mu.Unlock()
	}
}

// StartDraining sets the draining flag so that future Add calls return false.
func (sr *SessionRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (sr *SessionRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

// ActiveCount returns the number of open connections.
func (sr *SessionRegistry) ActiveCount() int64 {
	return sr.count.Load()
}

// Wait blocks until every connection has called Done.
func (sr *SessionRegistry) Wait() {
	sr.wg.Wait()
}
