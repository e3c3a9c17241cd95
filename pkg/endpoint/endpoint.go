// Package endpoint собирает конечную точку H.323 из слушателя
// сигнализации H.225, клиента гейткипера и менеджера каналов.
//
// Глобальный цикл Run обслуживает три задачи под одной errgroup:
// прием входящих соединений, цикл клиента RAS и очередь команд
// приложения. Команды выполняются строго по одной в порядке поступления.
package endpoint

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arzzra/h323ep/pkg/cdr"
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/capability"
	"github.com/arzzra/h323ep/pkg/h323/channels"
	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/h323/ras"
	"github.com/arzzra/h323ep/pkg/h323/transport"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/metrics"
	"github.com/arzzra/h323ep/pkg/timer"
)

const (
	// DefaultCommandQueue емкость очереди команд
	DefaultCommandQueue = 64
	// DefaultShutdownTimeout ожидание завершения вызовов при остановке
	DefaultShutdownTimeout = 5 * time.Second
)

var (
	// ErrRegistrationPending команда отброшена до завершения регистрации
	ErrRegistrationPending = h323errors.New(h323errors.KindState, "gatekeeper registration pending")

	errStopMonitor = stderrors.New("stop monitor")
)

// Config параметры конечной точки
type Config struct {
	// SignalAddr адрес слушателя H.225. Порт 0 выбирается системой.
	SignalAddr netip.AddrPort
	// Calls параметры вызовов
	Calls channels.Config
	// Gatekeeper параметры клиента RAS; nil работает без гейткипера
	Gatekeeper *ras.Config
	// RASAddr локальный адрес RAS. Без порта берется порт из Calls.Ports.UDP.
	RASAddr netip.AddrPort

	CommandQueue    int
	ShutdownTimeout time.Duration
}

// Option настройка конечной точки
type Option func(*Endpoint)

func WithLogger(l logging.Logger) Option { return func(e *Endpoint) { e.log = l } }
func WithMetrics(c *metrics.Collector) Option { return func(e *Endpoint) { e.metrics = c } }
func WithRecorder(r cdr.Recorder) Option { return func(e *Endpoint) { e.recorder = r } }
func WithCallbacks(cb channels.Callbacks) Option { return func(e *Endpoint) { e.callbacks = cb } }
func WithClock(c timer.Clock) Option { return func(e *Endpoint) { e.clock = c } }
func WithRASCodec(c ras.Codec) Option { return func(e *Endpoint) { e.rasCodec = c } }

// Endpoint конечная точка H.323
type Endpoint struct {
	cfg       Config
	log       logging.Logger
	metrics   *metrics.Collector
	recorder  cdr.Recorder
	callbacks channels.Callbacks
	clock     timer.Clock
	rasCodec  ras.Codec

	listener *net.TCPListener
	signal   netip.AddrPort
	rasConn  *net.UDPConn
	gk       *ras.Client
	calls    *channels.Manager

	cmds      chan Command
	done      chan struct{}
	runOnce   sync.Once
	closeOnce sync.Once
}

// New открывает сокеты конечной точки и создает ее компоненты.
// Сокеты закрываются по завершении Run или вызовом Close.
func New(ctx context.Context, cfg Config, caps *capability.Table, opts ...Option) (*Endpoint, error) {
	if cfg.CommandQueue <= 0 {
		cfg.CommandQueue = DefaultCommandQueue
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if !cfg.Calls.LocalIP.IsValid() {
		cfg.Calls.LocalIP = netip.IPv4Unspecified()
	}
	if !cfg.SignalAddr.IsValid() {
		cfg.SignalAddr = netip.AddrPortFrom(cfg.Calls.LocalIP, channels.DefaultSignalPort)
	}
	if cfg.Calls.Ports.UDP == nil {
		cfg.Calls.Ports.UDP = transport.DefaultPorts().UDP
	}

	e := &Endpoint{
		cfg:      cfg,
		log:      logging.Nop(),
		recorder: cdr.Nop{},
		clock:    timer.SystemClock{},
		cmds:     make(chan Command, cfg.CommandQueue),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithComponent("endpoint")

	ln, err := transport.ListenTCP(ctx, cfg.SignalAddr)
	if err != nil {
		return nil, err
	}
	e.listener = ln
	e.signal = advertised(transport.LocalAddrPort(ln.Addr()), cfg.Calls.LocalIP)

	callOpts := []channels.Option{
		channels.WithLogger(e.log),
		channels.WithMetrics(e.metrics),
		channels.WithClock(e.clock),
		channels.WithRecorder(e.recorder),
		channels.WithCallbacks(e.callbacks),
	}

	if cfg.Gatekeeper != nil && !cfg.Calls.Flags.DisableGk {
		if err := e.newGatekeeper(ctx, *cfg.Gatekeeper); err != nil {
			ln.Close()
			return nil, err
		}
		callOpts = append(callOpts, channels.WithGatekeeper(e.gk))
	}

	e.calls = channels.NewManager(cfg.Calls, caps, callOpts...)
	return e, nil
}

func (e *Endpoint) newGatekeeper(ctx context.Context, gkCfg ras.Config) error {
	conn, err := e.listenRAS(ctx)
	if err != nil {
		return err
	}
	e.rasConn = conn

	if !gkCfg.RASAddress.IsValid() {
		gkCfg.RASAddress = advertised(transport.LocalAddrPort(conn.LocalAddr()), e.cfg.Calls.LocalIP)
	}
	if !gkCfg.CallSignalAddress.IsValid() {
		gkCfg.CallSignalAddress = e.signal
	}
	if len(gkCfg.Aliases) == 0 {
		gkCfg.Aliases = e.cfg.Calls.Aliases.Clone()
	}
	gkCfg.GkRouted = gkCfg.GkRouted || e.cfg.Calls.Flags.GkRouted

	opts := []ras.Option{
		ras.WithLogger(e.log),
		ras.WithMetrics(e.metrics),
		ras.WithClock(e.clock),
	}
	if e.rasCodec != nil {
		opts = append(opts, ras.WithCodec(e.rasCodec))
	}
	e.gk = ras.New(gkCfg, conn, opts...)
	return nil
}

// listenRAS открывает сокет RAS на заданном адресе или на первом
// свободном порту из диапазона UDP
func (e *Endpoint) listenRAS(ctx context.Context) (*net.UDPConn, error) {
	addr := e.cfg.RASAddr
	if !addr.IsValid() {
		addr = netip.AddrPortFrom(e.cfg.Calls.LocalIP, 0)
	}
	if addr.Port() != 0 {
		return transport.ListenUDP(ctx, addr)
	}

	r := e.cfg.Calls.Ports.UDP
	var lastErr error
	for i := 0; i < r.Size(); i++ {
		conn, err := transport.ListenUDP(ctx, netip.AddrPortFrom(addr.Addr(), uint16(r.Next())))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, h323errors.Wrap("listen ras "+r.String(), h323errors.KindResource,
		fmt.Errorf("%w: %v", h323errors.ErrNoPortAvailable, lastErr))
}

// advertised заменяет неуказанный адрес сокета на локальный IP
func advertised(ap netip.AddrPort, local netip.Addr) netip.AddrPort {
	if ap.Addr().IsUnspecified() && local.IsValid() && !local.IsUnspecified() {
		return netip.AddrPortFrom(local, ap.Port())
	}
	return ap
}

// SignalAddr адрес сигнализации H.225 конечной точки
func (e *Endpoint) SignalAddr() netip.AddrPort { return e.signal }

// Gatekeeper клиент RAS или nil без гейткипера
func (e *Endpoint) Gatekeeper() *ras.Client { return e.gk }

// Calls менеджер каналов вызовов
func (e *Endpoint) Calls() *channels.Manager { return e.calls }

// ActiveCalls количество активных вызовов
func (e *Endpoint) ActiveCalls() int { return e.calls.ActiveCalls() }

// RegistrationPending регистрация у гейткипера еще не завершена
func (e *Endpoint) RegistrationPending() bool {
	return e.gk != nil && e.gk.RegistrationPending()
}

// Run запускает глобальный цикл и блокируется до отмены ctx, команды
// StopMonitor или ошибки одной из задач. Перед возвратом завершает все
// вызовы и снимает регистрацию.
func (e *Endpoint) Run(ctx context.Context) error {
	started := false
	e.runOnce.Do(func() { started = true })
	if !started {
		return h323errors.Wrap("endpoint run", h323errors.KindState, h323errors.ErrInvalidState)
	}
	defer close(e.done)
	defer e.Close()

	e.log.Info("endpoint started", logging.String("signal", e.signal.String()),
		logging.Bool("gatekeeper", e.gk != nil))

	// клиент RAS останавливается последним, чтобы успеть отправить DRQ
	gkCtx, stopGk := context.WithCancel(context.WithoutCancel(ctx))
	defer stopGk()

	g, gctx := errgroup.WithContext(ctx)
	if e.gk != nil {
		g.Go(func() error { return e.gk.Run(gkCtx) })
	}
	g.Go(func() error { return e.serve(gctx) })
	g.Go(func() error {
		err := e.monitor(gctx)
		e.shutdownCalls()
		stopGk()
		return err
	})

	err := g.Wait()
	e.log.Info("endpoint stopped")
	if stderrors.Is(err, errStopMonitor) {
		return nil
	}
	return err
}

func (e *Endpoint) serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.listener.Close()
	}()

	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if stderrors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return h323errors.Wrap("accept h225", h323errors.KindTransport, err)
		}
		token, err := e.calls.Accept(conn)
		if err != nil {
			e.log.Warn("failed to accept call", logging.Err(err))
			conn.Close()
			continue
		}
		e.log.Debug("accepted signalling connection", logging.String("token", token),
			logging.String("remote", conn.RemoteAddr().String()))
	}
}

// monitor обрабатывает команды приложения
func (e *Endpoint) monitor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-e.cmds:
			if err := e.dispatch(cmd); err != nil {
				return err
			}
		}
	}
}

func (e *Endpoint) dispatch(cmd Command) error {
	if !alwaysAllowed(cmd) && e.RegistrationPending() {
		e.log.Warn("gatekeeper registration pending, command dropped", logging.String("command", cmd.command()))
		if mc, ok := cmd.(MakeCall); ok && mc.Done != nil {
			mc.Done("", ErrRegistrationPending)
		}
		return nil
	}

	var err error
	switch c := cmd.(type) {
	case NoOp:
	case StopMonitor:
		e.log.Info("stop requested")
		return errStopMonitor
	case MakeCall:
		var token string
		token, err = e.calls.MakeCall(c.Dest, channels.CallOptions{Token: c.Token, Flags: c.Flags})
		if c.Done != nil {
			c.Done(token, err)
		}
	case AnswerCall:
		err = e.calls.AnswerCall(c.Token)
	case ForwardCall:
		err = e.calls.ForwardCall(c.Token, c.Dest)
	case HangCall:
		err = e.calls.HangCall(c.Token, c.Reason)
	case SendDigit:
		err = e.calls.SendDigit(c.Token, c.Digits)
	case ManualRingback:
		err = e.calls.ManualRingback(c.Token)
	}
	if err != nil {
		e.log.Warn("command failed", logging.String("command", cmd.command()), logging.Err(err))
	}
	return nil
}

func (e *Endpoint) shutdownCalls() {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.calls.Shutdown(ctx); err != nil {
		e.log.Warn("calls did not finish in time", logging.Err(err))
	}
}

// Submit ставит команду в очередь глобального цикла
func (e *Endpoint) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-e.done:
		return h323errors.Wrap("submit "+cmd.command(), h323errors.KindState, h323errors.ErrStopped)
	default:
	}
	select {
	case e.cmds <- cmd:
		return nil
	case <-e.done:
		return h323errors.Wrap("submit "+cmd.command(), h323errors.KindState, h323errors.ErrStopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MakeCall выполняет команду MakeCall и ждет токен вызова
func (e *Endpoint) MakeCall(ctx context.Context, dest string, opts channels.CallOptions) (string, error) {
	type result struct {
		token string
		err   error
	}
	res := make(chan result, 1)
	cmd := MakeCall{
		Dest:  dest,
		Token: opts.Token,
		Flags: opts.Flags,
		Done:  func(token string, err error) { res <- result{token, err} },
	}
	if err := e.Submit(ctx, cmd); err != nil {
		return "", err
	}
	select {
	case r := <-res:
		return r.token, r.err
	case <-e.done:
		return "", h323errors.Wrap("make call", h323errors.KindState, h323errors.ErrStopped)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// HangCall ставит в очередь завершение вызова
func (e *Endpoint) HangCall(ctx context.Context, token string, reason call.EndReason) error {
	return e.Submit(ctx, HangCall{Token: token, Reason: reason})
}

// Stop ставит в очередь команду остановки
func (e *Endpoint) Stop(ctx context.Context) error {
	return e.Submit(ctx, StopMonitor{})
}

// Close закрывает сокеты конечной точки. Нужен, только если Run не вызывался.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.shutdownCalls()
		err = e.listener.Close()
		if e.rasConn != nil {
			e.rasConn.Close()
		}
	})
	if err != nil && stderrors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
