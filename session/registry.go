/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"sort"
	"sync"
)

// Store is the set of live call sessions keyed by call id.
type Store interface {
	// Create registers a new session. If one already exists for the call id
	// it is returned with created == false and nothing changes.
	Create(p Params) (s *CallSession, created bool)
	Get(callID string) (*CallSession, bool)
	// Remove deletes s only if it is still the registered session for its id.
	Remove(s *CallSession) bool
	Len() int
	List() []*CallSession
}

// Registry is an in-memory Store guarded by one lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
}

var _ Store = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*CallSession)}
}

func (r *Registry) Create(p Params) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[p.CallID]; ok {
		return existing, false
	}
	s := New(p)
	r.sessions[p.CallID] = s
	return s, true
}

func (r *Registry) Get(callID string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

func (r *Registry) Remove(s *CallSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[s.CallID]; ok && current == s {
		delete(r.sessions, s.CallID)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns live sessions, oldest first.
func (r *Registry) List() []*CallSession {
	r.mu.RLock()
	out := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
