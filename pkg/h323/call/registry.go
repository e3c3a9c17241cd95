package call

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
)

// Registry реестр активных вызовов по токену.
// Блокировка держится только на время вставки, удаления и поиска.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*Call

	outgoing atomic.Uint64
	incoming atomic.Uint64
	callRef  atomic.Uint32
}

// NewRegistry создает реестр
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Call)}
}

// NewToken генерирует токен вызова
func (r *Registry) NewToken(dir Direction) string {
	if dir == Incoming {
		return fmt.Sprintf("h323_i_%d", r.incoming.Add(1))
	}
	return fmt.Sprintf("h323_o_%d", r.outgoing.Add(1))
}

// NextCallReference выдает ссылку вызова Q.931 (15 бит, без нуля)
func (r *Registry) NextCallReference() uint16 {
	for {
		ref := uint16(r.callRef.Add(1) & 0x7FFF)
		if ref != 0 {
			return ref
		}
	}
}

// Add регистрирует вызов
func (r *Registry) Add(c *Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.Token]; ok {
		return fmt.Errorf("call %s: %w", c.Token, h323errors.ErrInvalidState)
	}
	r.calls[c.Token] = c
	return nil
}

// Find ищет вызов по токену
func (r *Registry) Find(token string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[token]
	return c, ok
}

// Remove удаляет вызов
func (r *Registry) Remove(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[token]; !ok {
		return false
	}
	delete(r.calls, token)
	return true
}

// Len количество вызовов
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Tokens токены в лексикографическом порядке
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	tokens := make([]string, 0, len(r.calls))
	for t := range r.calls {
		tokens = append(tokens, t)
	}
	r.mu.RUnlock()
	sort.Strings(tokens)
	return tokens
}

// All возвращает копию списка вызовов
func (r *Registry) All() []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c)
	}
	return out
}
