package channels

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/arzzra/h323ep/pkg/h323/call"
	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/h323/tpkt"
	"github.com/arzzra/h323ep/pkg/h323/transport"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/timer"
)

const dialTimeout = 10 * time.Second

type eventKind int

const (
	evH225Frame eventKind = iota
	evH245Frame
	evH225Dialed
	evH245Dialed
	evH245Accepted
)

// event результат работы читающей или подключающей горутины
type event struct {
	kind eventKind
	conn net.Conn
	data []byte
	err  error
}

// inbox очередь операций для цикла вызова
type inbox struct {
	mu    sync.Mutex
	fns   []func()
	ready chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (b *inbox) post(fn func()) {
	b.mu.Lock()
	b.fns = append(b.fns, fn)
	b.mu.Unlock()
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	fns := b.fns
	b.fns = nil
	return fns
}

// loop цикл событий одного вызова
type loop struct {
	m   *Manager
	c   *call.Call
	log logging.Logger

	events chan event
	inbox  *inbox
	done   chan struct{}

	// notify уведомления приложения, выполняются после снятия блокировки вызова
	notify []func()

	dialing        bool
	idleSince      time.Time
	alerted        bool
	answerPending  bool
	channelsOpened bool
	fsSent         bool // ответ быстрого старта отправлен
	fsStarted      bool // каналы быстрого старта установлены
	forwardTo      *forwardTarget
	record         callRecord
}

// forwardTarget адрес, на который удаленная сторона перенаправила вызов
type forwardTarget struct {
	dest string
}

func newLoop(m *Manager, c *call.Call) *loop {
	return &loop{
		m:      m,
		c:      c,
		log:    m.log.WithCall(c.Token),
		events: make(chan event, 8),
		inbox:  newInbox(),
		done:   make(chan struct{}),
	}
}

func (l *loop) later(fn func()) {
	l.notify = append(l.notify, fn)
}

func (l *loop) runNotify() {
	for len(l.notify) > 0 {
		fns := l.notify
		l.notify = nil
		for _, fn := range fns {
			fn()
		}
	}
}

func (l *loop) run(ctx context.Context) {
	defer close(l.done)

	l.c.Lock()
	l.begin()
	l.c.Unlock()
	l.runNotify()

	wake := time.NewTimer(l.m.cfg.PollInterval)
	defer wake.Stop()
	stop := ctx.Done()

	for {
		l.c.Lock()
		wait := l.c.Timers.Wait(l.m.cfg.PollInterval)
		if l.pendingOutput() {
			wait = 0
		}
		l.c.Unlock()

		if !wake.Stop() {
			select {
			case <-wake.C:
			default:
			}
		}
		wake.Reset(wait)

		select {
		case <-stop:
			stop = nil
			l.c.Lock()
			l.log.Warn("call loop stopped, dropping call")
			l.c.SetEndReason(call.ReasonLocalCleared)
			l.c.H225.Close()
			l.c.State = call.StateCleared
			l.c.Unlock()
		case ev := <-l.events:
			l.c.Lock()
			l.handleEvent(ev)
			l.c.Unlock()
		case <-l.inbox.ready:
			l.c.Lock()
			for _, fn := range l.inbox.drain() {
				fn()
			}
			l.c.Unlock()
		case <-wake.C:
		}

		l.c.Lock()
		l.c.Timers.FireExpired()
		l.flush()
		l.checkIdle()
		if l.c.State.Clearing() {
			l.endCall()
		}
		removed := l.c.State == call.StateRemoved
		l.c.Unlock()
		l.runNotify()

		if removed {
			l.finish()
			return
		}
	}
}

func (l *loop) pendingOutput() bool {
	if l.c.H225.Open() && l.c.H225.Queue.Len() > 0 {
		return true
	}
	return l.c.H245.Open() && l.c.H245.Queue.Len() > 0
}

// checkIdle завершает вызов без сигнальных соединений
func (l *loop) checkIdle() {
	if l.c.Monitored() > 0 || l.dialing || l.c.State == call.StateWaitingAdmission || l.c.State == call.StateRemoved {
		l.idleSince = time.Time{}
		return
	}
	now := time.Now()
	if l.idleSince.IsZero() {
		l.idleSince = now
		return
	}
	if now.Sub(l.idleSince) < l.m.cfg.EmptyLoopLimit {
		return
	}
	l.log.Warn("no signalling channels left, clearing call", logging.Stringer("state", l.c.State))
	l.c.SetEndReason(call.ReasonTransportFailure)
	l.c.State = call.StateCleared
}

func (l *loop) deliver(ev event) {
	select {
	case l.events <- ev:
	case <-l.done:
		if ev.conn != nil {
			ev.conn.Close()
		}
	}
}

// startReader запускает чтение кадров TPKT из соединения
func (l *loop) startReader(kind eventKind, conn net.Conn) {
	r := tpkt.NewReader(conn, l.m.cfg.MaxPayload, l.m.cfg.PartialWait)
	go func() {
		for {
			data, err := r.ReadMessage()
			select {
			case l.events <- event{kind: kind, conn: conn, data: data, err: err}:
			case <-l.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// dialH225 подключается к удаленному адресу сигнализации
func (l *loop) dialH225() {
	remote := l.c.RemoteSignal
	local := l.m.cfg.LocalIP
	ports := l.m.cfg.Ports.TCP
	l.dialing = true
	l.log.Debug("connecting signalling channel", logging.String("remote", remote.String()))
	go func() {
		ctx, cancel := context.WithTimeout(l.m.ctx, dialTimeout)
		defer cancel()
		ev := event{kind: evH225Dialed}
		if conn, err := transport.DialTCP(ctx, local, ports, remote); err != nil {
			ev.err = err
		} else {
			ev.conn = conn
		}
		l.deliver(ev)
	}()
}

// dialH245 подключается к адресу H.245 удаленной стороны
func (l *loop) dialH245() {
	remote := l.c.RemoteH245
	local := l.m.cfg.LocalIP
	ports := l.m.cfg.Ports.TCP
	l.c.H245Attempts++
	l.dialing = true
	l.log.Debug("connecting H.245 channel", logging.String("remote", remote.String()),
		logging.Int("attempt", l.c.H245Attempts))
	go func() {
		ctx, cancel := context.WithTimeout(l.m.ctx, dialTimeout)
		defer cancel()
		ev := event{kind: evH245Dialed}
		if conn, err := transport.DialTCP(ctx, local, ports, remote); err != nil {
			ev.err = err
		} else {
			ev.conn = conn
		}
		l.deliver(ev)
	}()
}

// acceptH245 ждет одно входящее соединение H.245 на слушателе
func (l *loop) acceptH245(ln net.Listener) {
	go func() {
		conn, err := ln.Accept()
		l.deliver(event{kind: evH245Accepted, conn: conn, err: err})
	}()
}

func (l *loop) handleEvent(ev event) {
	switch ev.kind {
	case evH225Frame:
		if !l.c.H225.Open() || l.c.H225.Conn != ev.conn {
			return
		}
		if ev.err != nil {
			l.onH225ReadError(ev.err)
			return
		}
		l.receiveH225(ev.data)

	case evH245Frame:
		if !l.c.H245.Open() || l.c.H245.Conn != ev.conn {
			return
		}
		if ev.err != nil {
			l.onH245ReadError(ev.err)
			return
		}
		l.receiveH245(ev.data, false)

	case evH225Dialed:
		l.dialing = false
		l.onH225Dialed(ev.conn, ev.err)

	case evH245Dialed:
		l.dialing = false
		l.onH245Connected(ev.conn, ev.err, false)

	case evH245Accepted:
		l.onH245Connected(ev.conn, ev.err, true)
	}
}

func (l *loop) onH225ReadError(err error) {
	if h323errors.IsDecode(err) {
		l.log.Warn("invalid signalling frame, closing channel", logging.Err(err))
		l.m.metrics.DecodeError("h225")
		l.c.SetEndReason(call.ReasonInvalidMessage)
	} else {
		l.log.Info("signalling channel closed", logging.Err(err))
		if l.c.State < call.StateClear {
			l.c.SetEndReason(call.ReasonTransportFailure)
		}
	}
	l.c.H225.Close()
	if l.c.State < call.StateCleared {
		l.c.State = call.StateCleared
	}
}

func (l *loop) onH245ReadError(err error) {
	if h323errors.IsDecode(err) {
		l.m.metrics.DecodeError("h245")
	}
	l.log.Info("H.245 channel closed", logging.Err(err))
	l.closeH245()
	if l.c.State < call.StateClear {
		l.c.Clear(call.ReasonTransportFailure)
	}
}

func (l *loop) onH225Dialed(conn net.Conn, err error) {
	if l.c.State.Clearing() {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		l.log.Warn("failed to connect signalling channel", logging.Err(err))
		l.c.Clear(call.ReasonTransportFailure)
		return
	}
	l.c.LocalSignal = transport.LocalAddrPort(conn.LocalAddr())
	l.c.IPv6 = l.c.LocalSignal.Addr().Is6()
	l.c.H225 = &call.SignalChannel{Conn: conn, Local: l.c.LocalSignal}
	l.startReader(evH225Frame, conn)
	l.c.State = call.StateConnecting
	l.log.Info("signalling channel connected", logging.String("local", l.c.LocalSignal.String()),
		logging.String("remote", l.c.RemoteSignal.String()))
	l.sendSetup()
}

func (l *loop) onH245Connected(conn net.Conn, err error, accepted bool) {
	if accepted && l.c.H245 != nil && l.c.H245.Listener != nil {
		l.c.H245.Listener.Close()
		l.c.H245.Listener = nil
	}
	if l.c.State.Clearing() || l.c.Session == call.SessionClosed {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		if accepted {
			l.log.Warn("failed to accept H.245 connection", logging.Err(err))
			return
		}
		if l.c.H245Attempts < l.m.cfg.H245ConnectAttempts {
			l.log.Warn("H.245 connect failed, will retry", logging.Err(err),
				logging.Duration("retry_in", l.m.cfg.H245ConnectDelay))
			l.c.Timers.Create(timer.KindH245Connect, l.m.cfg.H245ConnectDelay, l.onH245ConnectTimer)
			return
		}
		l.log.Warn("H.245 connect failed", logging.Err(err))
		l.c.Clear(call.ReasonTransportFailure)
		return
	}
	if l.c.H245.Open() {
		conn.Close()
		return
	}
	ch := l.c.H245
	if ch == nil {
		ch = &call.SignalChannel{}
		l.c.H245 = ch
	}
	ch.Conn = conn
	ch.Local = transport.LocalAddrPort(conn.LocalAddr())
	l.c.Flags.Tunneling = false
	l.startReader(evH245Frame, conn)
	l.log.Info("H.245 channel connected", logging.String("local", ch.Local.String()),
		logging.Bool("accepted", accepted))
	l.startH245Procedures()
}

// finish выполняется после выхода из цикла без блокировки вызова
func (l *loop) finish() {
	l.m.remove(l.c.Token)
	rec := l.record
	if err := l.m.recorder.Record(context.Background(), rec.cdr); err != nil {
		l.log.Warn("failed to write call detail record", logging.Err(err))
	}
	l.m.metrics.CallEnded(rec.cdr.EndReason)
	if cb := l.m.callbacks.OnCallCleared; cb != nil {
		cb(rec.snapshot)
	}
	if l.forwardTo != nil {
		token, err := l.m.MakeCall(l.forwardTo.dest, CallOptions{})
		if err != nil {
			l.log.Warn("failed to follow call forwarding", logging.String("dest", l.forwardTo.dest), logging.Err(err))
			return
		}
		l.log.Info("call forwarded by remote", logging.String("dest", l.forwardTo.dest), logging.String("new_call", token))
	}
}
