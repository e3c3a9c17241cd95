// Package call модель вызова H.323: состояние, логические каналы,
// сигнальные каналы и реестр активных вызовов.
package call

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	"github.com/arzzra/h323ep/pkg/h323/h225"
	"github.com/arzzra/h323ep/pkg/h323/h245"
	"github.com/arzzra/h323ep/pkg/h323/tpkt"
	"github.com/arzzra/h323ep/pkg/timer"
	"github.com/google/uuid"
)

// Envelope управляющий конверт исходящего сообщения.
// Для H.225 задан Q931; для Facility с туннелем и для сообщений H.245 задан H245.
type Envelope struct {
	Q931    h225.MsgType
	H245    h245.MsgType
	Channel uint16 // номер логического канала для OLC/CLC/RCC
}

// SignalChannel TCP канал сигнализации (H.225) или управления (H.245)
type SignalChannel struct {
	Conn     net.Conn
	Listener net.Listener // ожидающий слушатель H.245
	Local    netip.AddrPort
	Queue    tpkt.Queue[Envelope]
}

// Open канал подключен
func (sc *SignalChannel) Open() bool { return sc != nil && sc.Conn != nil }

// Close закрывает соединение и слушатель
func (sc *SignalChannel) Close() {
	if sc == nil {
		return
	}
	if sc.Conn != nil {
		sc.Conn.Close()
		sc.Conn = nil
	}
	if sc.Listener != nil {
		sc.Listener.Close()
		sc.Listener = nil
	}
	sc.Queue.Reset()
}

// Flags параметры вызова
type Flags struct {
	FastStart  bool
	Tunneling  bool
	GkRouted   bool
	DisableGk  bool
	AutoAnswer bool
	// ManualRingback Alerting отправляется только по команде приложения
	ManualRingback bool
}

// Call один активный или завершающийся вызов.
// Изменяемые поля защищены блокировкой вызова.
type Call struct {
	mu sync.Mutex

	Token         string
	CallReference uint16
	CallID        uuid.UUID
	ConferenceID  uuid.UUID
	Direction     Direction

	LocalSignal  netip.AddrPort
	RemoteSignal netip.AddrPort
	RemoteH245   netip.AddrPort
	IPv6         bool

	State     State
	EndReason EndReason
	Flags     Flags

	Session       SessionState
	MSD           ProcedureState
	LocalTCS      ProcedureState
	RemoteTCS     bool
	MasterSlave   h245.Decision
	MSDNumber     uint32
	MSDSeq        uint8
	TCSSeq        uint8
	RemoteCaps    []h245.Capability
	MSDRetries    int
	H245Attempts  int
	EndSessionOut bool // EndSessionCommand уже поставлен в очередь
	ReleaseOut    bool // ReleaseComplete уже поставлен в очередь

	LocalAliases  alias.List
	RemoteAliases alias.List
	Destination   string

	H225 *SignalChannel
	H245 *SignalChannel

	Channels       []*LogicalChannel
	FastStartOffer [][]byte // полученные предложения быстрого старта
	FastStartReply [][]byte // принятые предложения для ответа

	Timers *timer.List

	Created     time.Time
	AlertTime   time.Time
	ConnectTime time.Time
	EndTime     time.Time

	nextSessionID uint8
}

// New создает вызов
func New(token string, dir Direction, flags Flags, clock timer.Clock) *Call {
	timers := timer.NewList(clock)
	return &Call{
		Token:         token,
		Direction:     dir,
		Flags:         flags,
		CallID:        uuid.New(),
		ConferenceID:  uuid.New(),
		State:         StateCreated,
		Session:       SessionIdle,
		Timers:        timers,
		Created:       timers.Clock().Now(),
		nextSessionID: 4,
	}
}

// Lock захватывает блокировку вызова
func (c *Call) Lock() { c.mu.Lock() }

// Unlock освобождает блокировку вызова
func (c *Call) Unlock() { c.mu.Unlock() }

// Snapshot копия полей состояния для чтения вне потока вызова
type Snapshot struct {
	Token         string
	Direction     Direction
	State         State
	EndReason     EndReason
	Session       SessionState
	Remote        netip.AddrPort
	RemoteAliases alias.List
	Destination   string
	Channels      int
}

// Snapshot безопасно читает состояние вызова
func (c *Call) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.View()
}

// View то же, что Snapshot, для вызывающего под блокировкой вызова
func (c *Call) View() Snapshot {
	return Snapshot{
		Token:         c.Token,
		Direction:     c.Direction,
		State:         c.State,
		EndReason:     c.EndReason,
		Session:       c.Session,
		Remote:        c.RemoteSignal,
		RemoteAliases: c.RemoteAliases.Clone(),
		Destination:   c.Destination,
		Channels:      len(c.Channels),
	}
}

// SetEndReason задает причину, если она еще не задана
func (c *Call) SetEndReason(r EndReason) {
	if c.EndReason == ReasonUnknown {
		c.EndReason = r
	}
}

// Clear переводит вызов в CLEAR с причиной, если он еще не завершается
func (c *Call) Clear(r EndReason) {
	c.SetEndReason(r)
	if !c.State.Clearing() {
		c.State = StateClear
	}
}

// NextSessionID выдает номер динамической сессии медиа
func (c *Call) NextSessionID() uint8 {
	id := c.nextSessionID
	c.nextSessionID++
	return id
}

// Tunneled H.245 идет внутри H.225
func (c *Call) Tunneled() bool { return c.Flags.Tunneling }

// H225Open канал H.225 подключен
func (c *Call) H225Open() bool { return c.H225.Open() }

// H245Open отдельный канал H.245 подключен
func (c *Call) H245Open() bool { return c.H245.Open() }

// Monitored количество дескрипторов, которые опрашивает цикл вызова
func (c *Call) Monitored() int {
	n := 0
	if c.H225.Open() {
		n++
	}
	if c.H245 != nil && (c.H245.Conn != nil || c.H245.Listener != nil) {
		n++
	}
	return n
}
