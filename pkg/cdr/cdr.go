// Package cdr записи о завершенных вызовах.
package cdr

import (
	"context"
	"sync"
	"time"
)

// Record запись о вызове
type Record struct {
	Token       string
	CallID      string
	Direction   string
	Local       string
	Remote      string
	Destination string
	Created     time.Time
	Connected   time.Time
	Ended       time.Time
	EndReason   string
}

// Duration длительность разговора
func (r Record) Duration() time.Duration {
	if r.Connected.IsZero() || r.Ended.Before(r.Connected) {
		return 0
	}
	return r.Ended.Sub(r.Connected)
}

// Recorder получатель записей
type Recorder interface {
	Record(ctx context.Context, r Record) error
}

// Nop отбрасывает записи
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }

// Memory хранит записи в памяти
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Record(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// Records копия накопленных записей
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
