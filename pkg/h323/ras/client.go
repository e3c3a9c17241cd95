package ras

import (
	"context"
	stderrors "errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/metrics"
	"github.com/arzzra/h323ep/pkg/timer"
	"github.com/looplab/fsm"
)

// Mode режим использования гейткипера
type Mode int

const (
	ModeDiscover Mode = iota + 1
	ModeSpecific
)

func (m Mode) String() string {
	if m == ModeSpecific {
		return "specific"
	}
	return "discover"
}

// DefaultMulticastAddr группа обнаружения гейткипера
var DefaultMulticastAddr = netip.MustParseAddrPort("224.0.1.41:1718")

// Config параметры клиента гейткипера
type Config struct {
	Mode              Mode
	GatekeeperAddr    netip.AddrPort // для ModeSpecific
	MulticastAddr     netip.AddrPort // для ModeDiscover
	RASAddress        netip.AddrPort // объявляемый адрес RAS конечной точки
	CallSignalAddress netip.AddrPort
	GatekeeperID      string
	Aliases           alias.List

	TTL        time.Duration // запрашиваемое время жизни регистрации
	TTLOffset  time.Duration
	MaxRetries int
	GRQTimeout time.Duration
	RRQTimeout time.Duration
	ARQTimeout time.Duration
	DRQTimeout time.Duration

	PollInterval time.Duration
	GkRouted     bool
	Bandwidth    uint32
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Mode:          ModeDiscover,
		MulticastAddr: DefaultMulticastAddr,
		TTL:           300 * time.Second,
		TTLOffset:     20 * time.Second,
		MaxRetries:    3,
		GRQTimeout:    15 * time.Second,
		RRQTimeout:    10 * time.Second,
		ARQTimeout:    5 * time.Second,
		DRQTimeout:    5 * time.Second,
		PollInterval:  2100 * time.Millisecond,
		Bandwidth:     1280,
	}
}

// KeepAliveDelay задержка повторной регистрации для TTL:
// TTL - offset, при TTL <= offset TTL - 1s, не меньше секунды
func KeepAliveDelay(ttl, offset time.Duration) time.Duration {
	d := ttl - offset
	if ttl <= offset {
		d = ttl - time.Second
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Option настройка клиента
type Option func(*Client)

func WithLogger(l logging.Logger) Option { return func(c *Client) { c.log = l } }
func WithMetrics(m *metrics.Collector) Option { return func(c *Client) { c.metrics = m } }
func WithClock(clock timer.Clock) Option { return func(c *Client) { c.clock = clock } }
func WithCodec(codec Codec) Option { return func(c *Client) { c.codec = codec } }
func WithStateHandler(h func(from, to State)) Option { return func(c *Client) { c.onState = h } }

// Client клиент гейткипера RAS.
//
// Все состояние защищено одной блокировкой mu. Вызовы из потоков вызовов
// (Admit, Disengage, CleanCall, Unregister) передаются в цикл Run через
// канал запросов; без запущенного цикла они выполняются на месте.
type Client struct {
	cfg     Config
	conn    net.PacketConn
	codec   Codec
	log     logging.Logger
	metrics *metrics.Collector
	clock   timer.Clock
	onState func(from, to State)

	mu           sync.Mutex
	fsm          *fsm.FSM
	timers       *timer.List
	seq          uint16
	discovered   bool
	gkAddr       netip.AddrPort
	gkCallSignal netip.AddrPort
	endpointID   string
	gatekeeperID string
	regTTL       time.Duration
	aliases      alias.List
	grqRetries   int
	rrqRetries   int
	lastRRQSeq   uint16
	pending      map[uint16]*admissionRecord
	admitted     map[string]*admissionRecord
	disengaging  map[uint16]string
	notify       []func()
	halted       bool

	reqs    chan func()
	running atomic.Bool
	stopped chan struct{}
}

// New создает клиента поверх UDP сокета RAS
func New(cfg Config, conn net.PacketConn, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.MulticastAddr == (netip.AddrPort{}) {
		cfg.MulticastAddr = def.MulticastAddr
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.TTLOffset <= 0 {
		cfg.TTLOffset = def.TTLOffset
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.GRQTimeout <= 0 {
		cfg.GRQTimeout = def.GRQTimeout
	}
	if cfg.RRQTimeout <= 0 {
		cfg.RRQTimeout = def.RRQTimeout
	}
	if cfg.ARQTimeout <= 0 {
		cfg.ARQTimeout = def.ARQTimeout
	}
	if cfg.DRQTimeout <= 0 {
		cfg.DRQTimeout = def.DRQTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}

	c := &Client{
		cfg:          cfg,
		conn:         conn,
		codec:        TLVCodec{},
		log:          logging.Nop(),
		clock:        timer.SystemClock{},
		gatekeeperID: cfg.GatekeeperID,
		regTTL:       cfg.TTL,
		aliases:      cfg.Aliases.Clone(),
		pending:      make(map[uint16]*admissionRecord),
		admitted:     make(map[string]*admissionRecord),
		disengaging:  make(map[uint16]string),
		reqs:         make(chan func(), 64),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithComponent("gkclient")
	c.timers = timer.NewList(c.clock)
	c.fsm = newStateMachine(c.handleStateChange)
	c.metrics.GatekeeperState("", string(StateIdle))
	return c
}

// handleStateChange вызывается автоматом при смене состояния (под mu)
func (c *Client) handleStateChange(from, to State) {
	c.log.Info("gatekeeper client state changed", logging.String("from", string(from)), logging.String("to", string(to)))
	c.metrics.GatekeeperState(string(from), string(to))
	if c.onState != nil {
		h := c.onState
		c.notify = append(c.notify, func() { h(from, to) })
	}
}

func (c *Client) transition(event string) {
	err := c.fsm.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if stderrors.As(err, &noTransition) {
		return
	}
	c.log.Debug("gatekeeper state transition ignored",
		logging.String("event", event), logging.String("state", c.fsm.Current()), logging.Err(err))
}

// withLock выполняет fn под блокировкой клиента и затем
// вызывает накопленные уведомления без блокировки
func (c *Client) withLock(fn func()) {
	c.mu.Lock()
	fn()
	notify := c.notify
	c.notify = nil
	c.mu.Unlock()
	for _, n := range notify {
		n()
	}
}

// post передает операцию в цикл клиента. Если цикл уже завершился,
// операция выполняется на месте.
func (c *Client) post(fn func()) {
	if c.running.Load() {
		select {
		case c.reqs <- fn:
			return
		case <-c.stopped:
		}
	}
	c.withLock(fn)
}

// State текущее состояние
func (c *Client) State() State { return State(c.fsm.Current()) }

// IsRegistered клиент зарегистрирован
func (c *Client) IsRegistered() bool { return c.State() == StateRegistered }

// RegistrationPending регистрация еще не завершена и не провалилась
func (c *Client) RegistrationPending() bool {
	switch c.State() {
	case StateIdle, StateDiscovered, StateUnregistered:
		return true
	}
	return false
}

// EndpointID идентификатор, выданный гейткипером
func (c *Client) EndpointID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpointID
}

// GatekeeperID идентификатор гейткипера
func (c *Client) GatekeeperID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gatekeeperID
}

// GatekeeperAddr адрес RAS гейткипера, найденный при обнаружении
func (c *Client) GatekeeperAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gkAddr
}

// GatekeeperCallSignal адрес сигнализации гейткипера из RCF
func (c *Client) GatekeeperCallSignal() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gkCallSignal
}

// Aliases копия псевдонимов с флагами регистрации
func (c *Client) Aliases() alias.List {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliases.Clone()
}

// Start начинает обнаружение гейткипера
func (c *Client) Start() error {
	var err error
	c.withLock(func() { err = c.sendGRQ() })
	return err
}

// NextTimeout время до ближайшего таймера клиента
func (c *Client) NextTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers.Wait(c.cfg.PollInterval)
}

// FireTimers вызывает истекшие таймеры
func (c *Client) FireTimers() int {
	var n int
	c.withLock(func() { n = c.timers.FireExpired() })
	return n
}

type datagram struct {
	data []byte
	from netip.AddrPort
}

// Run цикл клиента: датаграммы RAS, запросы вызовов и таймеры.
// Возвращается при отмене ctx, предварительно сняв регистрацию.
func (c *Client) Run(ctx context.Context) error {
	in := make(chan datagram, 64)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go c.readLoop(in, readErr, done)

	c.running.Store(true)
	defer func() {
		c.withLock(c.halt)
		c.running.Store(false)
		close(c.stopped)
	}()

	if err := c.Start(); err != nil {
		c.log.Warn("failed to send initial GRQ", logging.Err(err))
	}

	wake := time.NewTimer(c.NextTimeout())
	defer wake.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Shutdown()
			return nil
		case d := <-in:
			c.HandleDatagram(d.data, d.from)
		case fn := <-c.reqs:
			c.withLock(fn)
		case err := <-readErr:
			return h323errors.Wrap("ras read", h323errors.KindTransport, err)
		case <-wake.C:
		}
		c.FireTimers()
		wake.Reset(c.NextTimeout())
	}
}

func (c *Client) readLoop(in chan<- datagram, errc chan<- error, done <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			select {
			case errc <- err:
			case <-done:
			}
			return
		}
		var from netip.AddrPort
		if ua, ok := addr.(*net.UDPAddr); ok {
			from = ua.AddrPort()
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case in <- datagram{data: data, from: from}:
		case <-done:
			return
		}
	}
}

// Shutdown снимает регистрацию, останавливает таймеры и закрывает сокет
func (c *Client) Shutdown() {
	c.withLock(func() {
		if c.State() == StateRegistered {
			if err := c.sendURQ(); err != nil {
				c.log.Warn("failed to send URQ on shutdown", logging.Err(err))
			}
		}
		c.timers.StopAll()
		c.failPending()
	})
	c.conn.Close()
}

// halt отмечает завершение цикла: новые допуски больше не отправляются
func (c *Client) halt() {
	c.halted = true
	c.timers.StopAll()
	c.failPending()
}


// nextSeq 16-битный номер запроса без нуля
func (c *Client) nextSeq() uint16 {
	c.seq++
	if c.seq == 0 {
		c.seq = 1
	}
	return c.seq
}

// slowRetry период повтора после исчерпания попыток
func (c *Client) slowRetry() time.Duration {
	if c.regTTL > 0 {
		return c.regTTL
	}
	return c.cfg.TTL
}

// destination адрес для запросов до и после обнаружения
func (c *Client) destination() netip.AddrPort {
	if c.discovered {
		return c.gkAddr
	}
	if c.cfg.Mode == ModeSpecific {
		return c.cfg.GatekeeperAddr
	}
	return c.cfg.MulticastAddr
}

func (c *Client) send(m *Message, to netip.AddrPort) error {
	data, err := c.codec.Encode(m)
	if err != nil {
		c.log.Error("failed to build RAS message", logging.Stringer("type", m.Type), logging.Err(err))
		c.transition(evFailed)
		return h323errors.Wrap("ras build "+m.Type.String(), h323errors.KindResource, err)
	}
	if !to.IsValid() {
		return h323errors.Wrap("ras send "+m.Type.String(), h323errors.KindState, h323errors.ErrNoGatekeeper)
	}
	if _, err := c.conn.WriteTo(data, net.UDPAddrFromAddrPort(to)); err != nil {
		c.log.Warn("failed to send RAS message", logging.Stringer("type", m.Type), logging.Err(err))
		return h323errors.Wrap("ras send "+m.Type.String(), h323errors.KindTransport, err)
	}
	c.metrics.MessageSent("ras", m.Type.String())
	c.log.Debug("sent RAS message", logging.Stringer("type", m.Type),
		logging.Uint16("seq", m.SeqNum), logging.String("to", to.String()))
	return nil
}

// enterGkError переводит клиента в GkError и планирует восстановление:
// повторное обнаружение или, в режиме specific, новую регистрацию
func (c *Client) enterGkError() {
	c.timers.DeleteKind(timer.KindGRQ)
	c.timers.DeleteKind(timer.KindRRQ)
	c.timers.DeleteKind(timer.KindREG)
	c.transition(evGkError)
	c.timers.Create(timer.KindGRQ, c.slowRetry(), func(*timer.Timer) { c.recoverRegistration() })
}

func (c *Client) recoverRegistration() {
	if c.cfg.Mode != ModeSpecific {
		c.restart()
		return
	}
	c.gkAddr = c.cfg.GatekeeperAddr
	c.discovered = true
	c.grqRetries = 0
	c.rrqRetries = 0
	c.aliases.MarkRegistered(nil, false)
	c.timers.DeleteKind(timer.KindREG)
	c.transition(evDiscovered)
	if err := c.sendRRQ(false, nil); err != nil {
		c.log.Warn("failed to re-register with gatekeeper", logging.Err(err))
	}
}

// restart начинает обнаружение заново
func (c *Client) restart() {
	c.discovered = false
	c.gkAddr = netip.AddrPort{}
	c.grqRetries = 0
	c.rrqRetries = 0
	c.aliases.MarkRegistered(nil, false)
	c.timers.DeleteKind(timer.KindRRQ)
	c.timers.DeleteKind(timer.KindREG)
	c.transition(evReset)
	if err := c.sendGRQ(); err != nil {
		c.log.Warn("failed to restart discovery", logging.Err(err))
	}
}
