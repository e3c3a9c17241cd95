package call

import (
	"fmt"
	"net/netip"
)

// ChannelDirection направление логического канала
type ChannelDirection int

const (
	Receive ChannelDirection = iota
	Transmit
)

func (d ChannelDirection) String() string {
	if d == Transmit {
		return "transmit"
	}
	return "receive"
}

// ChannelState состояние логического канала
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelProposed
	ChannelEstablished
)

func (s ChannelState) String() string {
	switch s {
	case ChannelProposed:
		return "proposed"
	case ChannelEstablished:
		return "established"
	}
	return "idle"
}

// Сессии медиа по умолчанию
const (
	SessionAudio uint8 = 1
	SessionVideo uint8 = 2
	SessionData  uint8 = 3
)

// LogicalChannel согласованный медиа канал одного направления
type LogicalChannel struct {
	Number     uint16
	SessionID  uint8
	Direction  ChannelDirection
	Capability string
	State      ChannelState

	LocalRTP   netip.AddrPort
	LocalRTCP  netip.AddrPort
	RemoteRTP  netip.AddrPort
	RemoteRTCP netip.AddrPort
}

func (lc *LogicalChannel) String() string {
	return fmt.Sprintf("lc%d/%s/session%d/%s/%s", lc.Number, lc.Direction, lc.SessionID, lc.Capability, lc.State)
}

// AddChannel добавляет канал в список вызова
func (c *Call) AddChannel(lc *LogicalChannel) {
	c.Channels = append(c.Channels, lc)
}

// FindChannel ищет канал по номеру и направлению
func (c *Call) FindChannel(number uint16, dir ChannelDirection) *LogicalChannel {
	for _, lc := range c.Channels {
		if lc.Number == number && lc.Direction == dir {
			return lc
		}
	}
	return nil
}

// FindChannelByNumber ищет канал по номеру в любом направлении
func (c *Call) FindChannelByNumber(number uint16) *LogicalChannel {
	for _, lc := range c.Channels {
		if lc.Number == number {
			return lc
		}
	}
	return nil
}

// ChannelsFor возвращает каналы сессии и направления в заданном состоянии
func (c *Call) ChannelsFor(sessionID uint8, dir ChannelDirection, state ChannelState) []*LogicalChannel {
	var out []*LogicalChannel
	for _, lc := range c.Channels {
		if lc.SessionID == sessionID && lc.Direction == dir && lc.State == state {
			out = append(out, lc)
		}
	}
	return out
}

// Siblings каналы той же сессии и направления, кроме lc
func (c *Call) Siblings(lc *LogicalChannel) []*LogicalChannel {
	var out []*LogicalChannel
	for _, other := range c.Channels {
		if other != lc && other.SessionID == lc.SessionID && other.Direction == lc.Direction {
			out = append(out, other)
		}
	}
	return out
}

// RemoveChannel удаляет канал из списка
func (c *Call) RemoveChannel(lc *LogicalChannel) bool {
	for i, other := range c.Channels {
		if other == lc {
			c.Channels = append(c.Channels[:i], c.Channels[i+1:]...)
			return true
		}
	}
	return false
}

// EstablishedCount количество установленных каналов
func (c *Call) EstablishedCount() int {
	n := 0
	for _, lc := range c.Channels {
		if lc.State == ChannelEstablished {
			n++
		}
	}
	return n
}
