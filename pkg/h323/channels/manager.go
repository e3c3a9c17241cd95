// Package channels управляет сигнальными каналами вызовов H.323.
//
// Каждый вызов обслуживается отдельной горутиной с собственным циклом
// событий: кадры H.225 и H.245 от читающих горутин, результаты
// подключения, таймеры вызова и операции из входящей очереди
// (команды приложения, ответы гейткипера). Все изменения вызова
// выполняются в этом цикле под блокировкой вызова.
package channels

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/arzzra/h323ep/pkg/cdr"
	"github.com/arzzra/h323ep/pkg/h323/alias"
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/capability"
	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/h323/h225"
	"github.com/arzzra/h323ep/pkg/h323/h245"
	"github.com/arzzra/h323ep/pkg/h323/ras"
	"github.com/arzzra/h323ep/pkg/h323/tpkt"
	"github.com/arzzra/h323ep/pkg/h323/transport"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/metrics"
	"github.com/arzzra/h323ep/pkg/timer"
)

// DefaultSignalPort порт сигнализации H.225
const DefaultSignalPort = 1720

// Gatekeeper операции клиента гейткипера, нужные вызовам
type Gatekeeper interface {
	IsRegistered() bool
	Admit(req ras.AdmitRequest, done func(ras.AdmitResult))
	Disengage(req ras.DisengageInfo)
	CleanCall(token string)
}

// Callbacks уведомления приложения. Вызываются из горутины вызова
// без блокировки вызова.
type Callbacks struct {
	OnIncomingCall    func(call.Snapshot)
	OnAlerting        func(call.Snapshot)
	OnCallEstablished func(call.Snapshot)
	OnCallCleared     func(call.Snapshot)
	OnDigits          func(token, digits string)
}

// Config параметры менеджера каналов
type Config struct {
	LocalIP   netip.Addr
	Aliases   alias.List
	Display   string
	Flags     call.Flags
	Bandwidth uint32

	CallEstablishmentTimeout time.Duration
	MSDTimeout               time.Duration
	TCSTimeout               time.Duration
	LogicalChannelTimeout    time.Duration
	EndSessionTimeout        time.Duration
	H245ConnectDelay         time.Duration
	H245ConnectAttempts      int
	MaxRetries               int

	PartialWait    time.Duration
	PollInterval   time.Duration
	EmptyLoopLimit time.Duration
	MaxPayload     int

	Ports transport.Ports
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		LocalIP:                  netip.IPv4Unspecified(),
		Flags:                    call.Flags{FastStart: true, Tunneling: true},
		Bandwidth:                1280,
		CallEstablishmentTimeout: 60 * time.Second,
		MSDTimeout:               30 * time.Second,
		TCSTimeout:               30 * time.Second,
		LogicalChannelTimeout:    30 * time.Second,
		EndSessionTimeout:        15 * time.Second,
		H245ConnectDelay:         2 * time.Second,
		H245ConnectAttempts:      3,
		MaxRetries:               3,
		PartialWait:              tpkt.DefaultPartialWait,
		PollInterval:             2100 * time.Millisecond,
		EmptyLoopLimit:           10 * time.Second,
		MaxPayload:               tpkt.DefaultMaxPayload,
		Ports:                    transport.DefaultPorts(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if !c.LocalIP.IsValid() {
		c.LocalIP = def.LocalIP
	}
	if c.CallEstablishmentTimeout <= 0 {
		c.CallEstablishmentTimeout = def.CallEstablishmentTimeout
	}
	if c.MSDTimeout <= 0 {
		c.MSDTimeout = def.MSDTimeout
	}
	if c.TCSTimeout <= 0 {
		c.TCSTimeout = def.TCSTimeout
	}
	if c.LogicalChannelTimeout <= 0 {
		c.LogicalChannelTimeout = def.LogicalChannelTimeout
	}
	if c.EndSessionTimeout <= 0 {
		c.EndSessionTimeout = def.EndSessionTimeout
	}
	if c.H245ConnectDelay <= 0 {
		c.H245ConnectDelay = def.H245ConnectDelay
	}
	if c.H245ConnectAttempts <= 0 {
		c.H245ConnectAttempts = def.H245ConnectAttempts
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.PartialWait <= 0 {
		c.PartialWait = def.PartialWait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.EmptyLoopLimit <= 0 {
		c.EmptyLoopLimit = def.EmptyLoopLimit
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = def.MaxPayload
	}
	if c.Ports.TCP == nil {
		c.Ports.TCP = def.Ports.TCP
	}
	if c.Ports.RTP == nil {
		c.Ports.RTP = def.Ports.RTP
	}
}

// Option настройка менеджера
type Option func(*Manager)

func WithLogger(l logging.Logger) Option { return func(m *Manager) { m.log = l } }
func WithMetrics(c *metrics.Collector) Option { return func(m *Manager) { m.metrics = c } }
func WithClock(c timer.Clock) Option { return func(m *Manager) { m.clock = c } }
func WithGatekeeper(gk Gatekeeper) Option { return func(m *Manager) { m.gk = gk } }
func WithRecorder(r cdr.Recorder) Option { return func(m *Manager) { m.recorder = r } }
func WithCallbacks(cb Callbacks) Option { return func(m *Manager) { m.callbacks = cb } }
func WithH225Codec(c h225.Codec) Option { return func(m *Manager) { m.h225 = c } }
func WithH245Codec(c h245.Codec) Option { return func(m *Manager) { m.h245 = c } }
func WithRegistry(r *call.Registry) Option { return func(m *Manager) { m.registry = r } }

// Manager менеджер каналов всех вызовов конечной точки
type Manager struct {
	cfg       Config
	caps      *capability.Table
	registry  *call.Registry
	gk        Gatekeeper
	h225      h225.Codec
	h245      h245.Codec
	log       logging.Logger
	metrics   *metrics.Collector
	clock     timer.Clock
	recorder  cdr.Recorder
	callbacks Callbacks
	numbers   *transport.ChannelNumbers

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	loops map[string]*loop
	wg    sync.WaitGroup
}

// NewManager создает менеджер каналов
func NewManager(cfg Config, caps *capability.Table, opts ...Option) *Manager {
	cfg.applyDefaults()
	if caps == nil {
		caps = capability.NewTable()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		caps:     caps,
		h225:     h225.TLVCodec{},
		h245:     h245.TLVCodec{},
		log:      logging.Nop(),
		clock:    timer.SystemClock{},
		recorder: cdr.Nop{},
		numbers:  transport.NewChannelNumbers(),
		ctx:      ctx,
		cancel:   cancel,
		loops:    make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = call.NewRegistry()
	}
	m.log = m.log.WithComponent("channels")
	return m
}

// Registry реестр вызовов менеджера
func (m *Manager) Registry() *call.Registry { return m.registry }

// Capabilities таблица возможностей
func (m *Manager) Capabilities() *capability.Table { return m.caps }

// CallOptions параметры исходящего вызова
type CallOptions struct {
	Token string
	Flags *call.Flags
}

// MakeCall начинает исходящий вызов. dest: "alias@host:port",
// "host[:port]" или псевдоним, разрешаемый гейткипером.
func (m *Manager) MakeCall(dest string, opts CallOptions) (string, error) {
	aliases, addr, err := ParseDestination(dest)
	if err != nil {
		return "", err
	}
	if !addr.IsValid() && m.gk == nil {
		return "", h323errors.Wrap("make call "+dest, h323errors.KindState,
			fmt.Errorf("%w: no address and no gatekeeper", h323errors.ErrInvalidState))
	}

	token := opts.Token
	if token == "" {
		token = m.registry.NewToken(call.Outgoing)
	}
	if _, ok := m.registry.Find(token); ok {
		return "", h323errors.Wrap("make call "+token, h323errors.KindState,
			fmt.Errorf("%w: token in use", h323errors.ErrInvalidState))
	}
	flags := m.cfg.Flags
	if opts.Flags != nil {
		flags = *opts.Flags
	}

	c := call.New(token, call.Outgoing, flags, m.clock)
	c.CallReference = m.registry.NextCallReference()
	c.LocalAliases = m.cfg.Aliases.Clone()
	c.RemoteAliases = aliases
	c.RemoteSignal = addr
	c.Destination = dest

	if err := m.start(c); err != nil {
		return "", err
	}
	return token, nil
}

// Accept принимает входящее соединение H.225 и создает вызов
func (m *Manager) Accept(conn net.Conn) (string, error) {
	token := m.registry.NewToken(call.Incoming)
	c := call.New(token, call.Incoming, m.cfg.Flags, m.clock)
	c.LocalAliases = m.cfg.Aliases.Clone()
	c.LocalSignal = transport.LocalAddrPort(conn.LocalAddr())
	c.RemoteSignal = transport.LocalAddrPort(conn.RemoteAddr())
	c.IPv6 = c.LocalSignal.Addr().Is6()
	c.H225 = &call.SignalChannel{Conn: conn, Local: c.LocalSignal}

	if err := m.start(c); err != nil {
		conn.Close()
		return "", err
	}
	return token, nil
}

func (m *Manager) start(c *call.Call) error {
	if err := m.registry.Add(c); err != nil {
		return err
	}
	l := newLoop(m, c)
	m.mu.Lock()
	m.loops[c.Token] = l
	m.mu.Unlock()
	m.metrics.CallCreated(c.Direction.String())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		l.run(m.ctx)
	}()
	return nil
}

func (m *Manager) remove(token string) {
	m.mu.Lock()
	delete(m.loops, token)
	m.mu.Unlock()
	m.registry.Remove(token)
}

// post выполняет fn в цикле вызова
func (m *Manager) post(token string, fn func(l *loop)) error {
	m.mu.Lock()
	l, ok := m.loops[token]
	m.mu.Unlock()
	if !ok {
		return h323errors.Wrap("call "+token, h323errors.KindState, h323errors.ErrCallNotFound)
	}
	l.inbox.post(func() { fn(l) })
	return nil
}

// AnswerCall отвечает на входящий вызов
func (m *Manager) AnswerCall(token string) error {
	return m.post(token, func(l *loop) { l.answer() })
}

// ManualRingback отправляет Alerting для входящего вызова
func (m *Manager) ManualRingback(token string) error {
	return m.post(token, func(l *loop) { l.ringback() })
}

// ForwardCall перенаправляет вызов на dest
func (m *Manager) ForwardCall(token, dest string) error {
	aliases, addr, err := ParseDestination(dest)
	if err != nil {
		return err
	}
	return m.post(token, func(l *loop) { l.forward(aliases, addr) })
}

// HangCall завершает вызов с причиной
func (m *Manager) HangCall(token string, reason call.EndReason) error {
	if reason == call.ReasonUnknown {
		reason = call.ReasonLocalCleared
	}
	return m.post(token, func(l *loop) {
		l.log.Info("hanging up call", logging.Stringer("reason", reason))
		l.c.Clear(reason)
	})
}

// SendDigit отправляет DTMF в UserInputIndication
func (m *Manager) SendDigit(token, digits string) error {
	if digits == "" {
		return fmt.Errorf("empty digits")
	}
	return m.post(token, func(l *loop) { l.sendDigits(digits) })
}

// ActiveCalls количество вызовов с работающим циклом
func (m *Manager) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// Shutdown завершает все вызовы и ждет остановки их циклов
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	tokens := make([]string, 0, len(m.loops))
	for t := range m.loops {
		tokens = append(tokens, t)
	}
	m.mu.Unlock()
	for _, t := range tokens {
		m.HangCall(t, call.ReasonLocalCleared)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

// ParseDestination разбирает адрес назначения вызова
func ParseDestination(dest string) (alias.List, netip.AddrPort, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return nil, netip.AddrPort{}, fmt.Errorf("empty destination")
	}

	var aliases alias.List
	host := dest
	if i := strings.LastIndex(dest, "@"); i >= 0 {
		if i > 0 {
			aliases = alias.List{alias.Guess(dest[:i])}
		}
		host = dest[i+1:]
	} else if addr, ok := parseHost(dest); ok {
		return nil, addr, nil
	} else {
		return alias.List{alias.Guess(dest)}, netip.AddrPort{}, nil
	}

	addr, ok := parseHost(host)
	if !ok {
		tcp, err := net.ResolveTCPAddr("tcp", withPort(host))
		if err != nil {
			return nil, netip.AddrPort{}, fmt.Errorf("invalid destination %q: %w", dest, err)
		}
		ap := tcp.AddrPort()
		addr = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return aliases, addr, nil
}

func parseHost(s string) (netip.AddrPort, bool) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, true
	}
	if a, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return netip.AddrPortFrom(a, DefaultSignalPort), true
	}
	return netip.AddrPort{}, false
}

func withPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, fmt.Sprint(DefaultSignalPort))
}
