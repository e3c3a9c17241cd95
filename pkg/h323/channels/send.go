package channels

import (
	"time"

	"github.com/arzzra/h323ep/pkg/h323/call"
	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/h323/h225"
	"github.com/arzzra/h323ep/pkg/h323/h245"
	"github.com/arzzra/h323ep/pkg/h323/tpkt"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/timer"
)

// sendH225 кодирует сообщение Q.931 и ставит его в очередь канала H.225
func (l *loop) sendH225(m *h225.Message) {
	l.queueH225(m, call.Envelope{Q931: m.Type})
}

func (l *loop) queueH225(m *h225.Message, env call.Envelope) {
	if !l.c.H225.Open() {
		l.log.Debug("signalling channel closed, message dropped", logging.Stringer("type", m.Type))
		return
	}
	m.CallReference = l.c.CallReference
	m.FromDestination = l.c.Direction == call.Incoming
	m.CallID = l.c.CallID
	m.ConferenceID = l.c.ConferenceID
	m.H245Tunneling = l.c.Flags.Tunneling

	frame, err := l.encodeH225(m)
	if err != nil {
		l.log.Error("failed to encode H.225 message", logging.Stringer("type", m.Type), logging.Err(err))
		l.c.Clear(call.ReasonInvalidMessage)
		return
	}

	if m.Type == h225.ReleaseComplete || env.H245 == h245.EndSessionCommand {
		if dropped := l.c.H225.Queue.PushPriority(env, frame); dropped > 0 {
			l.log.Debug("flushed signalling queue for teardown", logging.Int("dropped", dropped))
		}
		return
	}
	l.c.H225.Queue.Push(env, frame)
}

func (l *loop) encodeH225(m *h225.Message) ([]byte, error) {
	payload, err := l.m.h225.Encode(m)
	if err != nil {
		return nil, err
	}
	return tpkt.Encode(payload)
}

// sendH245 отправляет сообщение H.245 по отдельному каналу или в туннеле
func (l *loop) sendH245(m *h245.Message) {
	payload, err := l.m.h245.Encode(m)
	if err != nil {
		l.log.Error("failed to encode H.245 message", logging.Stringer("type", m.Type), logging.Err(err))
		return
	}
	env := call.Envelope{H245: m.Type, Channel: m.ChannelNumber}

	if l.c.H245.Open() {
		frame, err := tpkt.Encode(payload)
		if err != nil {
			l.log.Error("failed to frame H.245 message", logging.Stringer("type", m.Type), logging.Err(err))
			return
		}
		if m.Type == h245.EndSessionCommand {
			l.c.H245.Queue.PushPriority(env, frame)
			return
		}
		l.c.H245.Queue.Push(env, frame)
		return
	}

	if !l.c.Flags.Tunneling {
		l.log.Debug("no H.245 channel, message dropped", logging.Stringer("type", m.Type))
		return
	}
	env.Q931 = h225.Facility
	l.queueH225(&h225.Message{
		Type:           h225.Facility,
		FacilityReason: h225.FacilityUndefined,
		H245Control:    [][]byte{payload},
	}, env)
}

func (l *loop) flush() {
	l.flushChannel(l.c.H225, "h225")
	l.flushChannel(l.c.H245, "h245")
}

// flushChannel записывает одно сообщение из очереди канала
func (l *loop) flushChannel(ch *call.SignalChannel, protocol string) {
	if !ch.Open() {
		return
	}
	out, ok := ch.Queue.Pop()
	if !ok {
		return
	}
	conn := ch.Conn
	conn.SetWriteDeadline(time.Now().Add(l.m.cfg.PartialWait))
	_, err := conn.Write(out.Data)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		err = h323errors.Wrap("write "+protocol, h323errors.KindTransport, err)
		if protocol == "h225" {
			l.onH225ReadError(err)
		} else {
			l.onH245ReadError(err)
		}
		return
	}

	if out.Envelope.Q931 != h225.MsgNone {
		l.m.metrics.MessageSent("h225", out.Envelope.Q931.String())
		l.onSentH225(out.Envelope)
		return
	}
	l.m.metrics.MessageSent("h245", out.Envelope.H245.String())
	l.onSentH245(out.Envelope)
}

func (l *loop) onSentH225(env call.Envelope) {
	c := l.c
	l.log.Debug("sent message", logging.Stringer("type", env.Q931), logging.Stringer("state", c.State))

	switch env.Q931 {
	case h225.Setup:
		c.Timers.Create(timer.KindCallEstablishment, l.m.cfg.CallEstablishmentTimeout, l.onCallEstablishmentTimeout)

	case h225.Alerting, h225.CallProceeding:
		l.startFastStart()

	case h225.Connect:
		c.Timers.DeleteKind(timer.KindCallEstablishment)
		l.startFastStart()
		l.established()
		if c.Flags.Tunneling {
			l.startH245Procedures()
		}

	case h225.ReleaseComplete:
		l.onReleaseSent()

	case h225.Facility:
		if env.H245 != h245.MsgNone {
			l.m.metrics.MessageSent("h245", env.H245.String())
			l.onSentH245(env)
		}
	}
}

func (l *loop) onReleaseSent() {
	c := l.c
	if c.State == call.StateClearReleaseRecvd {
		c.State = call.StateCleared
	} else {
		c.State = call.StateClearReleaseSent
		l.disengage()
	}

	if c.State == call.StateClearReleaseSent && c.Session == call.SessionIdle && c.H245Open() {
		c.Timers.Create(timer.KindSession, l.m.cfg.EndSessionTimeout, l.onSessionTimeout)
	}
	if c.Session == call.SessionClosed {
		c.State = call.StateCleared
	}
}

func (l *loop) onSentH245(env call.Envelope) {
	c := l.c
	l.log.Debug("sent H.245 message", logging.Stringer("type", env.H245),
		logging.Uint16("channel", env.Channel), logging.Bool("tunneled", env.Q931 == h225.Facility))

	switch env.H245 {
	case h245.MasterSlaveDetermination:
		c.Timers.DeleteKind(timer.KindMSD)
		c.Timers.Create(timer.KindMSD, l.m.cfg.MSDTimeout, l.onMSDTimeout)

	case h245.TerminalCapabilitySet:
		if c.Flags.Tunneling && (c.Session == call.SessionIdle || c.Session == call.SessionPaused) {
			c.Session = call.SessionActive
		}
		c.Timers.DeleteKind(timer.KindTCS)
		c.Timers.Create(timer.KindTCS, l.m.cfg.TCSTimeout, l.onTCSTimeout)

	case h245.OpenLogicalChannel:
		c.Timers.CreateFor(timer.KindOLC, env.Channel, nil, l.m.cfg.LogicalChannelTimeout, l.onOLCTimeout)

	case h245.CloseLogicalChannel:
		c.Timers.CreateFor(timer.KindCLC, env.Channel, nil, l.m.cfg.LogicalChannelTimeout, l.onCLCTimeout)

	case h245.RequestChannelClose:
		c.Timers.CreateFor(timer.KindRCC, env.Channel, nil, l.m.cfg.LogicalChannelTimeout, l.onRCCTimeout)

	case h245.EndSessionCommand:
		if c.Session == call.SessionActive {
			c.Session = call.SessionEndSent
			c.Timers.Create(timer.KindSession, l.m.cfg.EndSessionTimeout, l.onSessionTimeout)
			return
		}
		l.closeH245()
		if c.State < call.StateClear {
			c.State = call.StateClear
		}
	}
}

// closeH245 закрывает отдельный канал H.245 и завершает сессию
func (l *loop) closeH245() {
	if l.c.H245 != nil {
		l.c.H245.Close()
	}
	l.c.Session = call.SessionClosed
	l.c.Timers.DeleteKind(timer.KindSession)
}
