package channels

import (
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/h225"
	"github.com/arzzra/h323ep/pkg/h323/h245"
	"github.com/arzzra/h323ep/pkg/logging"
)

// proposeFastStart предложения каналов для Setup: передача и прием
// для каждой возможности. Reverse отмечает предложение на прием.
func (l *loop) proposeFastStart() [][]byte {
	c := l.c
	var out [][]byte
	for _, cp := range l.m.caps.Advertise() {
		if cp.Transmit {
			lc := l.proposal(cp, call.Transmit)
			out = l.appendOffer(out, &h245.Message{
				Type:          h245.OpenLogicalChannel,
				ChannelNumber: lc.Number,
				SessionID:     lc.SessionID,
				Capability:    lc.Capability,
				MediaControl:  lc.LocalRTCP,
			})
		}
		if cp.Receive {
			lc := l.proposal(cp, call.Receive)
			out = l.appendOffer(out, &h245.Message{
				Type:          h245.OpenLogicalChannel,
				ChannelNumber: lc.Number,
				SessionID:     lc.SessionID,
				Capability:    lc.Capability,
				MediaChannel:  lc.LocalRTP,
				MediaControl:  lc.LocalRTCP,
				Reverse:       true,
			})
		}
	}
	l.log.Debug("proposing fast start", logging.Int("channels", len(c.Channels)))
	return out
}

func (l *loop) proposal(cp h245.Capability, dir call.ChannelDirection) *call.LogicalChannel {
	lc := &call.LogicalChannel{
		Number:     l.m.numbers.Next(),
		SessionID:  cp.SessionID,
		Direction:  dir,
		Capability: cp.Name,
		State:      call.ChannelProposed,
	}
	l.allocRTP(lc)
	l.c.AddChannel(lc)
	return lc
}

func (l *loop) appendOffer(out [][]byte, m *h245.Message) [][]byte {
	b, err := l.m.h245.Encode(m)
	if err != nil {
		l.log.Warn("failed to encode fast start element", logging.Err(err))
		return out
	}
	return append(out, b)
}

type sessionDir struct {
	session uint8
	dir     call.ChannelDirection
}

// acceptFastStart выбирает первое поддерживаемое предложение для каждой
// пары сессия/направление и готовит ответ
func (l *loop) acceptFastStart() {
	c := l.c
	offers := c.FastStartOffer
	c.FastStartOffer = nil
	if len(offers) == 0 {
		return
	}

	accepted := make(map[sessionDir]bool)
	for _, b := range offers {
		m, err := l.m.h245.Decode(b)
		if err != nil || m.Type != h245.OpenLogicalChannel {
			l.log.Debug("skipping invalid fast start element", logging.Err(err))
			continue
		}
		// предложение на прием удаленной стороны означает нашу передачу
		dir := call.Receive
		if m.Reverse {
			dir = call.Transmit
		}
		key := sessionDir{m.SessionID, dir}
		if accepted[key] {
			continue
		}
		mc := l.m.caps.Supports(m.Capability, dir)
		if mc == nil || mc.SessionID() != m.SessionID {
			continue
		}

		lc := &call.LogicalChannel{
			Number:     m.ChannelNumber,
			SessionID:  m.SessionID,
			Direction:  dir,
			Capability: m.Capability,
			State:      call.ChannelProposed,
			RemoteRTCP: m.MediaControl,
		}
		l.allocRTP(lc)
		reply := &h245.Message{
			Type:          h245.OpenLogicalChannel,
			ChannelNumber: lc.Number,
			SessionID:     lc.SessionID,
			Capability:    lc.Capability,
			MediaControl:  lc.LocalRTCP,
			Reverse:       m.Reverse,
		}
		if dir == call.Transmit {
			lc.RemoteRTP = m.MediaChannel
		} else {
			reply.MediaChannel = lc.LocalRTP
		}
		b, err := l.m.h245.Encode(reply)
		if err != nil {
			l.log.Warn("failed to encode fast start reply", logging.Err(err))
			continue
		}
		c.AddChannel(lc)
		c.FastStartReply = append(c.FastStartReply, b)
		accepted[key] = true
	}
	l.log.Debug("fast start proposals processed", logging.Int("offered", len(offers)),
		logging.Int("accepted", len(c.FastStartReply)))
}

// attachFastStart добавляет ответ быстрого старта к первому Alerting или Connect
func (l *loop) attachFastStart(m *h225.Message) {
	if l.fsSent || len(l.c.FastStartReply) == 0 {
		return
	}
	m.FastStart = l.c.FastStartReply
	l.fsSent = true
}

// startFastStart устанавливает принятые каналы после отправки ответа
func (l *loop) startFastStart() {
	if !l.fsSent || l.fsStarted {
		return
	}
	l.fsStarted = true
	l.c.FastStartReply = nil
	l.establishProposals(nil)
}

// processFastStartReply обрабатывает ответ на предложения из Setup
func (l *loop) processFastStartReply(m *h225.Message) {
	c := l.c
	if l.fsStarted || len(m.FastStart) == 0 {
		return
	}
	l.fsStarted = true

	accepted := make(map[*call.LogicalChannel]bool)
	for _, b := range m.FastStart {
		reply, err := l.m.h245.Decode(b)
		if err != nil || reply.Type != h245.OpenLogicalChannel {
			l.log.Debug("skipping invalid fast start reply", logging.Err(err))
			continue
		}
		dir := call.Transmit
		if reply.Reverse {
			dir = call.Receive
		}
		lc := c.FindChannel(reply.ChannelNumber, dir)
		if lc == nil || lc.State != call.ChannelProposed {
			continue
		}
		if dir == call.Transmit {
			lc.RemoteRTP = reply.MediaChannel
		}
		lc.RemoteRTCP = reply.MediaControl
		accepted[lc] = true
	}
	l.establishProposals(accepted)
}

// establishProposals устанавливает принятые предложения и удаляет
// остальные. accepted nil означает все предложения.
func (l *loop) establishProposals(accepted map[*call.LogicalChannel]bool) {
	c := l.c
	for _, lc := range append([]*call.LogicalChannel(nil), c.Channels...) {
		if lc.State != call.ChannelProposed || c.FindChannel(lc.Number, lc.Direction) != lc {
			continue
		}
		if accepted != nil && !accepted[lc] {
			c.RemoveChannel(lc)
			continue
		}
		mc := l.m.caps.Find(lc.Capability)
		if mc == nil {
			c.RemoveChannel(lc)
			continue
		}
		if err := l.establish(lc, mc); err != nil {
			l.log.Warn("failed to start fast start channel", logging.Stringer("channel", lc), logging.Err(err))
			c.RemoveChannel(lc)
		}
	}
}

// dropProposals удаляет предложения, оставшиеся без ответа
func (l *loop) dropProposals() {
	c := l.c
	for _, lc := range append([]*call.LogicalChannel(nil), c.Channels...) {
		if lc.State == call.ChannelProposed {
			c.RemoveChannel(lc)
		}
	}
}
