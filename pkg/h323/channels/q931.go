package channels

import (
	"context"
	"net/netip"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/h225"
	"github.com/arzzra/h323ep/pkg/h323/ras"
	"github.com/arzzra/h323ep/pkg/h323/transport"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/timer"
	"github.com/google/uuid"
)

func (l *loop) useGk() bool {
	return l.m.gk != nil && !l.c.Flags.DisableGk
}

// begin первое действие цикла: допуск у гейткипера или подключение
func (l *loop) begin() {
	c := l.c
	if c.Direction == call.Incoming {
		l.startReader(evH225Frame, c.H225.Conn)
		return
	}

	if !l.useGk() {
		l.dialH225()
		return
	}
	if !l.m.gk.IsRegistered() {
		l.log.Warn("gatekeeper not registered, clearing outgoing call")
		c.Clear(call.ReasonGkUnreachable)
		return
	}
	c.State = call.StateWaitingAdmission
	l.admit(false)
}

// admit запрашивает допуск; результат возвращается в цикл через inbox
func (l *loop) admit(answer bool) {
	c := l.c
	req := ras.AdmitRequest{
		Token:         c.Token,
		CallReference: c.CallReference,
		CallID:        c.CallID,
		ConferenceID:  c.ConferenceID,
		Direction:     c.Direction,
		LocalAliases:  c.LocalAliases.Clone(),
		RemoteAliases: c.RemoteAliases.Clone(),
		LocalSignal:   c.LocalSignal,
		RemoteSignal:  c.RemoteSignal,
		Bandwidth:     l.m.cfg.Bandwidth,
		GkRouted:      c.Flags.GkRouted,
	}
	l.log.Debug("requesting admission", logging.Bool("answer", answer))
	l.m.gk.Admit(req, func(res ras.AdmitResult) {
		l.inbox.post(func() { l.onAdmission(res) })
	})
}

func (l *loop) onAdmission(res ras.AdmitResult) {
	c := l.c
	if c.State != call.StateWaitingAdmission {
		return
	}
	if !res.Admitted {
		l.log.Info("admission rejected", logging.Stringer("reason", res.Reason))
		c.Clear(res.Reason)
		return
	}
	l.log.Info("call admitted", logging.String("dest", res.DestAddress.String()))

	if c.Direction == call.Incoming {
		c.State = call.StateCreated
		l.callAdmitted()
		return
	}
	if res.DestAddress.IsValid() {
		c.RemoteSignal = res.DestAddress
	}
	if res.CallModel == ras.CallModelGatekeeperRouted {
		c.Flags.GkRouted = true
	}
	if !c.RemoteSignal.IsValid() {
		l.log.Warn("gatekeeper returned no destination address")
		c.Clear(call.ReasonNoRoute)
		return
	}
	c.State = call.StateCreated
	l.dialH225()
}

// disengage сообщает гейткиперу о завершении вызова
func (l *loop) disengage() {
	c := l.c
	if !l.useGk() || !l.m.gk.IsRegistered() {
		return
	}
	c.EndTime = c.Timers.Clock().Now()
	cause, _ := call.Q931Cause(c.EndReason)
	l.m.gk.Disengage(ras.DisengageInfo{
		Token:         c.Token,
		CallReference: c.CallReference,
		CallID:        c.CallID,
		ConferenceID:  c.ConferenceID,
		Direction:     c.Direction,
		Reason:        cause,
		AlertTime:     c.AlertTime,
		ConnectTime:   c.ConnectTime,
		EndTime:       c.EndTime,
	})
}

func (l *loop) sendSetup() {
	c := l.c
	m := &h225.Message{
		Type:             h225.Setup,
		Display:          l.m.cfg.Display,
		SourceAliases:    c.LocalAliases.Clone(),
		DestAliases:      c.RemoteAliases.Clone(),
		SourceCallSignal: c.LocalSignal,
		DestCallSignal:   c.RemoteSignal,
	}
	if a, ok := c.LocalAliases.First(alias.DialedDigits); ok {
		m.CallingNumber = a.Value
	}
	if a, ok := c.RemoteAliases.First(alias.DialedDigits); ok {
		m.CalledNumber = a.Value
	}
	if c.Flags.FastStart {
		m.FastStart = l.proposeFastStart()
	}
	l.sendH225(m)
}

func (l *loop) receiveH225(data []byte) {
	c := l.c
	m, err := l.m.h225.Decode(data)
	if err != nil {
		l.m.metrics.DecodeError("h225")
		l.log.Warn("failed to decode H.225 message, clearing call", logging.Err(err))
		c.Clear(call.ReasonInvalidMessage)
		return
	}
	l.m.metrics.MessageReceived("h225", m.Type.String())
	l.log.Debug("received message", logging.Stringer("type", m.Type), logging.Stringer("state", c.State))

	switch m.Type {
	case h225.Setup:
		l.onSetup(m)
	case h225.CallProceeding:
		l.onCallProceeding(m)
	case h225.Alerting:
		l.onAlerting(m)
	case h225.Progress:
		l.onProgress(m)
	case h225.Connect:
		l.onConnect(m)
	case h225.ReleaseComplete:
		l.onReleaseComplete(m)
		return
	case h225.Facility:
		l.onFacility(m)
	case h225.StatusEnquiry:
		l.sendH225(&h225.Message{Type: h225.Status, Cause: h225.CauseNormalUnspecified})
	case h225.Status, h225.Notify, h225.Information:
	default:
		l.log.Debug("unhandled message", logging.Stringer("type", m.Type))
	}

	if c.Flags.Tunneling {
		for _, b := range m.H245Control {
			l.receiveH245(b, true)
		}
	}
}

func (l *loop) onSetup(m *h225.Message) {
	c := l.c
	if c.Direction != call.Incoming || c.State != call.StateCreated || c.CallReference != 0 {
		l.log.Warn("unexpected Setup ignored", logging.Stringer("state", c.State))
		return
	}
	c.CallReference = m.CallReference
	c.CallID = uuid.UUID(m.CallID)
	c.ConferenceID = uuid.UUID(m.ConferenceID)
	c.RemoteAliases = m.SourceAliases.Clone()
	c.Destination = m.CalledNumber
	if c.Destination == "" && len(m.DestAliases) > 0 {
		c.Destination = m.DestAliases[0].Value
	}
	c.Flags.Tunneling = c.Flags.Tunneling && m.H245Tunneling
	if m.H245Address.IsValid() && !c.Flags.Tunneling {
		c.RemoteH245 = m.H245Address
	}
	if c.Flags.FastStart && len(m.FastStart) > 0 {
		c.FastStartOffer = m.FastStart
	}

	l.log.Info("incoming call", logging.String("from", c.RemoteAliases.String()),
		logging.String("to", c.Destination), logging.Bool("tunneling", c.Flags.Tunneling),
		logging.Int("fast_start", len(c.FastStartOffer)))
	if cb := l.m.callbacks.OnIncomingCall; cb != nil {
		view := c.View()
		l.later(func() { cb(view) })
	}

	if !l.useGk() {
		l.callAdmitted()
		return
	}
	if !l.m.gk.IsRegistered() {
		l.log.Warn("gatekeeper not registered, rejecting incoming call")
		c.Clear(call.ReasonGkUnreachable)
		return
	}
	c.State = call.StateWaitingAdmission
	l.admit(true)
}

// callAdmitted продолжает входящий вызов после допуска
func (l *loop) callAdmitted() {
	c := l.c
	c.State = call.StateConnecting
	l.sendH225(&h225.Message{Type: h225.CallProceeding})
	l.acceptFastStart()

	switch {
	case c.Flags.AutoAnswer || l.answerPending:
		l.answer()
	case !c.Flags.ManualRingback:
		l.ringback()
	}
}

// ringback отправляет Alerting входящему вызову
func (l *loop) ringback() {
	c := l.c
	if c.Direction != call.Incoming || l.alerted || c.State != call.StateConnecting {
		return
	}
	l.alerted = true
	c.AlertTime = c.Timers.Clock().Now()
	m := &h225.Message{Type: h225.Alerting}
	l.attachFastStart(m)
	l.sendH225(m)
}

// answer отправляет Connect входящему вызову
func (l *loop) answer() {
	c := l.c
	if c.Direction != call.Incoming || c.State.Clearing() || c.State == call.StateConnected {
		return
	}
	if c.State != call.StateConnecting {
		l.answerPending = true
		return
	}
	l.answerPending = false

	m := &h225.Message{Type: h225.Connect}
	l.attachFastStart(m)
	if !c.Flags.Tunneling {
		if c.RemoteH245.IsValid() {
			l.dialH245()
		} else if addr, ok := l.listenH245(); ok {
			m.H245Address = addr
		}
	}
	l.sendH225(m)
}

// listenH245 открывает слушатель H.245 для удаленной стороны
func (l *loop) listenH245() (netip.AddrPort, bool) {
	c := l.c
	if c.H245 != nil && c.H245.Listener != nil {
		return c.H245.Local, true
	}
	ln, err := transport.ListenTCPRange(context.Background(), c.LocalSignal.Addr(), l.m.cfg.Ports.TCP)
	if err != nil {
		l.log.Warn("failed to open H.245 listener", logging.Err(err))
		return netip.AddrPort{}, false
	}
	local := transport.LocalAddrPort(ln.Addr())
	c.H245 = &call.SignalChannel{Listener: ln, Local: local}
	l.acceptH245(ln)
	l.log.Debug("H.245 listener opened", logging.String("local", local.String()))
	return local, true
}

func (l *loop) onCallProceeding(m *h225.Message) {
	if l.c.Direction != call.Outgoing {
		return
	}
	l.processFastStartReply(m)
}

func (l *loop) onAlerting(m *h225.Message) {
	c := l.c
	if c.Direction != call.Outgoing || c.State.Clearing() {
		return
	}
	c.AlertTime = c.Timers.Clock().Now()
	l.processFastStartReply(m)
	if cb := l.m.callbacks.OnAlerting; cb != nil {
		view := c.View()
		l.later(func() { cb(view) })
	}
}

func (l *loop) onProgress(m *h225.Message) {
	if l.c.Direction != call.Outgoing {
		return
	}
	l.processFastStartReply(m)
}

func (l *loop) onConnect(m *h225.Message) {
	c := l.c
	if c.Direction != call.Outgoing || c.State.Clearing() || c.State == call.StateConnected {
		return
	}
	c.Timers.DeleteKind(timer.KindCallEstablishment)
	l.processFastStartReply(m)
	if !l.fsStarted {
		l.fsStarted = true
		l.dropProposals()
	}
	l.established()

	if !m.H245Tunneling && c.Flags.Tunneling {
		l.log.Debug("remote does not tunnel H.245")
		c.Flags.Tunneling = false
	}
	switch {
	case c.Flags.Tunneling:
		l.startH245Procedures()
	case m.H245Address.IsValid():
		c.RemoteH245 = m.H245Address
		l.dialH245()
	}
}

func (l *loop) established() {
	c := l.c
	c.State = call.StateConnected
	c.ConnectTime = c.Timers.Clock().Now()
	l.log.Info("call established")
	if cb := l.m.callbacks.OnCallEstablished; cb != nil {
		view := c.View()
		l.later(func() { cb(view) })
	}
}

func (l *loop) onReleaseComplete(m *h225.Message) {
	c := l.c
	c.Timers.DeleteKind(timer.KindCallEstablishment)
	c.EndTime = c.Timers.Clock().Now()
	reason := call.ReasonFromRelease(m)
	l.log.Info("remote released call", logging.Stringer("reason", reason))

	c.SetEndReason(reason)
	if c.State == call.StateClearReleaseSent {
		c.State = call.StateCleared
		return
	}
	c.State = call.StateClearReleaseRecvd
	l.disengage()
}

func (l *loop) onFacility(m *h225.Message) {
	c := l.c
	switch m.FacilityReason {
	case h225.FacilityCallForwarded:
		dest := forwardDestination(m)
		l.log.Info("call forwarded by remote", logging.String("dest", dest))
		if dest != "" && c.Direction == call.Outgoing {
			l.forwardTo = &forwardTarget{dest: dest}
		}
		c.Clear(call.ReasonRemoteForwarded)

	case h225.FacilityStartH245:
		if c.H245Open() || !m.H245Address.IsValid() {
			return
		}
		c.Flags.Tunneling = false
		c.RemoteH245 = m.H245Address
		l.dialH245()
	}
}

func forwardDestination(m *h225.Message) string {
	var name string
	if len(m.AlternativeAliases) > 0 {
		name = m.AlternativeAliases[0].Value
	}
	switch {
	case m.AlternativeAddress.IsValid() && name != "":
		return name + "@" + m.AlternativeAddress.String()
	case m.AlternativeAddress.IsValid():
		return m.AlternativeAddress.String()
	}
	return name
}

// forward перенаправляет вызов по команде приложения
func (l *loop) forward(aliases alias.List, addr netip.AddrPort) {
	c := l.c
	if c.State.Clearing() {
		return
	}
	l.log.Info("forwarding call", logging.String("address", addr.String()), logging.String("aliases", aliases.String()))
	l.sendH225(&h225.Message{
		Type:               h225.Facility,
		FacilityReason:     h225.FacilityCallForwarded,
		AlternativeAddress: addr,
		AlternativeAliases: aliases,
	})
	c.Clear(call.ReasonLocalForwarded)
}

func (l *loop) onCallEstablishmentTimeout(*timer.Timer) {
	l.log.Warn("call establishment timed out")
	l.c.Clear(call.ReasonLocalCleared)
}

func (l *loop) onH245ConnectTimer(*timer.Timer) {
	if l.c.State.Clearing() || l.c.H245Open() {
		return
	}
	l.dialH245()
}
