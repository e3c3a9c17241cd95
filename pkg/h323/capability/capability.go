// Package capability описывает медиа возможности конечной точки и
// таблицу, из которой строится TCS и выбираются общие возможности.
package capability

import (
	"fmt"
	"sync"

	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/h245"
)

// MediaCapability медиа возможность. Менеджер каналов вызывает Start*
// при установке логического канала и Stop* при его закрытии.
type MediaCapability interface {
	Name() string
	SessionID() uint8
	CanReceive() bool
	CanTransmit() bool

	StartReceive(token string, lc *call.LogicalChannel) error
	StartTransmit(token string, lc *call.LogicalChannel) error
	StopReceive(token string, lc *call.LogicalChannel) error
	StopTransmit(token string, lc *call.LogicalChannel) error
}

// Start вызывает обработчик запуска для направления канала
func Start(mc MediaCapability, token string, lc *call.LogicalChannel) error {
	if lc.Direction == call.Transmit {
		return mc.StartTransmit(token, lc)
	}
	return mc.StartReceive(token, lc)
}

// Stop вызывает обработчик остановки для направления канала
func Stop(mc MediaCapability, token string, lc *call.LogicalChannel) error {
	if lc.Direction == call.Transmit {
		return mc.StopTransmit(token, lc)
	}
	return mc.StopReceive(token, lc)
}

// Table таблица возможностей в порядке предпочтения
type Table struct {
	mu   sync.RWMutex
	caps []MediaCapability
}

// NewTable создает таблицу
func NewTable(caps ...MediaCapability) *Table {
	t := &Table{}
	for _, c := range caps {
		t.Add(c)
	}
	return t
}

// Add добавляет возможность; имя должно быть уникальным
func (t *Table) Add(mc MediaCapability) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.caps {
		if c.Name() == mc.Name() {
			return fmt.Errorf("capability %q already registered", mc.Name())
		}
	}
	t.caps = append(t.caps, mc)
	return nil
}

// Find ищет возможность по имени
func (t *Table) Find(name string) MediaCapability {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.caps {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Len количество возможностей
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.caps)
}

// Sessions номера сессий в порядке первого упоминания
func (t *Table) Sessions() []uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []uint8
	seen := map[uint8]bool{}
	for _, c := range t.caps {
		if !seen[c.SessionID()] {
			seen[c.SessionID()] = true
			out = append(out, c.SessionID())
		}
	}
	return out
}

// Advertise набор возможностей для TCS
func (t *Table) Advertise() []h245.Capability {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]h245.Capability, 0, len(t.caps))
	for _, c := range t.caps {
		out = append(out, h245.Capability{
			Name:      c.Name(),
			SessionID: c.SessionID(),
			Receive:   c.CanReceive(),
			Transmit:  c.CanTransmit(),
		})
	}
	return out
}

// Supports проверяет возможность для направления канала
func (t *Table) Supports(name string, dir call.ChannelDirection) MediaCapability {
	mc := t.Find(name)
	if mc == nil {
		return nil
	}
	if dir == call.Transmit && !mc.CanTransmit() || dir == call.Receive && !mc.CanReceive() {
		return nil
	}
	return mc
}

// FirstCommon первая локальная возможность сессии с передачей, которую
// удаленная сторона умеет принимать
func (t *Table) FirstCommon(sessionID uint8, remote []h245.Capability) MediaCapability {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.caps {
		if c.SessionID() != sessionID || !c.CanTransmit() {
			continue
		}
		for _, r := range remote {
			if r.Name == c.Name() && r.Receive {
				return c
			}
		}
	}
	return nil
}

// Hooks возможность на функциях; пустые обработчики ничего не делают
type Hooks struct {
	CapName    string
	Session    uint8
	NoReceive  bool
	NoTransmit bool

	OnStartReceive  func(token string, lc *call.LogicalChannel) error
	OnStartTransmit func(token string, lc *call.LogicalChannel) error
	OnStopReceive   func(token string, lc *call.LogicalChannel) error
	OnStopTransmit  func(token string, lc *call.LogicalChannel) error
}

func (h *Hooks) Name() string      { return h.CapName }
func (h *Hooks) SessionID() uint8  { return h.Session }
func (h *Hooks) CanReceive() bool  { return !h.NoReceive }
func (h *Hooks) CanTransmit() bool { return !h.NoTransmit }

func (h *Hooks) StartReceive(token string, lc *call.LogicalChannel) error {
	return callHook(h.OnStartReceive, token, lc)
}

func (h *Hooks) StartTransmit(token string, lc *call.LogicalChannel) error {
	return callHook(h.OnStartTransmit, token, lc)
}

func (h *Hooks) StopReceive(token string, lc *call.LogicalChannel) error {
	return callHook(h.OnStopReceive, token, lc)
}

func (h *Hooks) StopTransmit(token string, lc *call.LogicalChannel) error {
	return callHook(h.OnStopTransmit, token, lc)
}

func callHook(fn func(string, *call.LogicalChannel) error, token string, lc *call.LogicalChannel) error {
	if fn == nil {
		return nil
	}
	return fn(token, lc)
}
