// Package sessions tracks conversation continuity: which backend session
// token belongs to which (tenant, end user) pair, and when it was last used.
// The registry is the single writer of this state; the router reads through
// it and never mutates entries directly.
package sessions

import (
	"fmt"
	"sync"
	"time"
)

// Session binds an end user to a backend conversation.
type Session struct {
	TenantID string
	UserID   string
	// Token is the opaque continuity key issued by the backend.
	Token string
	// Key is the composite diagnostic key: tenant_user_token.
	Key          string
	LastActivity time.Time
}

// Registry is the in-memory session table. Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	// tenant → user → session
	sessions map[string]map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Session),
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Get returns the session for (tenant, user), if any.
func (r *Registry) Get(tenantID, userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[tenantID][userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Upsert creates or updates the session with a fresh token and bumps
// last-activity. Last-activity never moves backwards.
func (r *Registry) Upsert(tenantID, userID, token string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUser, ok := r.sessions[tenantID]
	if !ok {
		byUser = make(map[string]*Session)
		r.sessions[tenantID] = byUser
	}

	now := r.now()
	s, ok := byUser[userID]
	if !ok {
		s = &Session{TenantID: tenantID, UserID: userID}
		byUser[userID] = s
	}
	s.Token = token
	s.Key = fmt.Sprintf("%s_%s_%s", tenantID, userID, token)
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
	return *s
}

// Delete removes the session for (tenant, user).
func (r *Registry) Delete(tenantID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUser, ok := r.sessions[tenantID]
	if !ok {
		return
	}
	delete(byUser, userID)
	if len(byUser) == 0 {
		delete(r.sessions, tenantID)
	}
}

// SweepTenant deletes every session of one tenant idle longer than maxIdle
// and returns how many were removed. Bookkeeping only: the backend expires
// its own state independently and is not notified.
func (r *Registry) SweepTenant(tenantID string, maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	byUser, ok := r.sessions[tenantID]
	if !ok {
		return 0
	}

	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for userID, s := range byUser {
		if s.LastActivity.Before(cutoff) {
			delete(byUser, userID)
			removed++
		}
	}
	if len(byUser) == 0 {
		delete(r.sessions, tenantID)
	}
	return removed
}

// Tenants lists tenant ids that currently hold sessions.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sessions))
	for tenantID := range r.sessions {
		out = append(out, tenantID)
	}
	return out
}

// Count returns the number of live sessions for a tenant.
func (r *Registry) Count(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[tenantID])
}
