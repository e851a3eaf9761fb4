/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package history keeps a record of finished calls.
package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no record exists for a call id.
var ErrNotFound = errors.New("call record not found")

// Record describes a call after teardown.
type Record struct {
	CallID     string    `json:"callId"`
	CallerName string    `json:"callerName"`
	CallerID   string    `json:"callerId"`
	CreatedAt  time.Time `json:"createdAt"`
	AnsweredAt time.Time `json:"answeredAt,omitzero"`
	EndedAt    time.Time `json:"endedAt"`
	FinalState string    `json:"finalState"`
	Cause      string    `json:"cause"`
}

// Answered reports whether the call reached the answering state.
func (r Record) Answered() bool {
	return !r.AnsweredAt.IsZero()
}

// Duration is the time from connect to teardown.
func (r Record) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.CreatedAt)
}

// Store persists call records.
type Store interface {
	Save(ctx context.Context, record Record) error
	Get(ctx context.Context, callID string) (Record, error)
	// List returns up to limit records, most recently ended first.
	List(ctx context.Context, limit int) ([]Record, error)
}

// MemoryStore is an in-process Store bounded to a fixed number of records.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
	max     int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore keeps at most max records, evicting the oldest saved.
// A non-positive max defaults to 1000.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 1000
	}
	return &MemoryStore{
		records: make(map[string]Record),
		max:     max,
	}
}

func (m *MemoryStore) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[record.CallID]; !ok {
		m.order = append(m.order, record.CallID)
	}
	m.records[record.CallID] = record

	for len(m.order) > m.max {
		delete(m.records, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, callID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[callID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	records := make([]Record, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record)
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].EndedAt.After(records[j].EndedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
