// Package transport содержит сетевые примитивы сигнализации H.323:
// диапазоны портов с переходом по кругу, слушатели и исходящие
// соединения с привязкой к порту из диапазона, настройки сокетов.
package transport

import (
	"fmt"
	"sync"
)

// PortRange диапазон портов [Start, Max] с циклической выдачей
type PortRange struct {
	mu      sync.Mutex
	start   int
	max     int
	current int
}

// NewPortRange создает диапазон. Порты выдаются начиная со start.
func NewPortRange(start, max int) (*PortRange, error) {
	if start <= 0 || max > 65535 || start > max {
		return nil, fmt.Errorf("invalid port range %d-%d", start, max)
	}
	return &PortRange{start: start, max: max, current: start}, nil
}

// MustPortRange как NewPortRange, но паникует на неверном диапазоне
func MustPortRange(start, max int) *PortRange {
	r, err := NewPortRange(start, max)
	if err != nil {
		panic(err)
	}
	return r
}

// Next возвращает следующий порт; после Max выдача начинается с Start
func (r *PortRange) Next() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.current
	r.current++
	if r.current > r.max {
		r.current = r.start
	}
	return p
}

// NextEven возвращает четный порт и следующий за ним (пара RTP/RTCP)
func (r *PortRange) NextEven() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current%2 != 0 {
		r.current++
	}
	if r.current+1 > r.max {
		r.current = r.start + r.start%2
	}
	p := r.current
	r.current += 2
	if r.current > r.max {
		r.current = r.start + r.start%2
	}
	return p, p + 1
}

// Size количество портов в диапазоне
func (r *PortRange) Size() int {
	return r.max - r.start + 1
}

func (r *PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.start, r.max)
}

// Ports диапазоны портов конечной точки
type Ports struct {
	TCP *PortRange
	UDP *PortRange
	RTP *PortRange
}

// DefaultPorts диапазоны по умолчанию
func DefaultPorts() Ports {
	return Ports{
		TCP: MustPortRange(12000, 62230),
		UDP: MustPortRange(13030, 13230),
		RTP: MustPortRange(14030, 14230),
	}
}

// ChannelNumbers выдает номера логических каналов H.245
type ChannelNumbers struct {
	r *PortRange
}

// NewChannelNumbers диапазон номеров 1001-1100
func NewChannelNumbers() *ChannelNumbers {
	return &ChannelNumbers{r: MustPortRange(1001, 1100)}
}

// Next следующий номер логического канала
func (c *ChannelNumbers) Next() uint16 {
	return uint16(c.r.Next())
}
