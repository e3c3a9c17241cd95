package channels

import (
	"math/rand/v2"
	"net/netip"

	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/capability"
	"github.com/arzzra/h323ep/pkg/h323/h245"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/timer"
)

const (
	msdNumberRange = 0xFFFFFF
	msdHalfRange   = 0x800000
	msdNumberMask  = 0xFFFFFF
	localTerminal  = h245.TerminalTypeEndpoint
)

func (l *loop) receiveH245(data []byte, tunneled bool) {
	m, err := l.m.h245.Decode(data)
	if err != nil {
		l.m.metrics.DecodeError("h245")
		l.log.Warn("failed to decode H.245 message", logging.Err(err), logging.Bool("tunneled", tunneled))
		return
	}
	l.m.metrics.MessageReceived("h245", m.Type.String())
	l.log.Debug("received H.245 message", logging.Stringer("type", m.Type),
		logging.Uint16("channel", m.ChannelNumber), logging.Bool("tunneled", tunneled))

	switch m.Type {
	case h245.MasterSlaveDetermination:
		l.onMSD(m)
	case h245.MasterSlaveDeterminationAck:
		l.onMSDAck(m)
	case h245.MasterSlaveDeterminationReject:
		l.onMSDReject()
	case h245.MasterSlaveDeterminationRelease:
		l.c.Timers.DeleteKind(timer.KindMSD)
		l.c.MSD = call.ProcedureIdle
	case h245.TerminalCapabilitySet:
		l.onTCS(m)
	case h245.TerminalCapabilitySetAck:
		l.c.Timers.DeleteKind(timer.KindTCS)
		l.c.LocalTCS = call.ProcedureDone
		l.openChannels()
	case h245.TerminalCapabilitySetReject:
		l.c.Timers.DeleteKind(timer.KindTCS)
		l.log.Warn("capability set rejected", logging.Int("cause", int(m.Cause)))
		l.c.Clear(call.ReasonNoCommonCapabilities)
	case h245.TerminalCapabilitySetRelease:
		l.c.RemoteTCS = false
	case h245.OpenLogicalChannel:
		l.onOLC(m)
	case h245.OpenLogicalChannelAck:
		l.onOLCAck(m)
	case h245.OpenLogicalChannelReject:
		l.onOLCReject(m)
	case h245.CloseLogicalChannel:
		l.onCLC(m)
	case h245.CloseLogicalChannelAck:
		l.onCLCAck(m)
	case h245.RequestChannelClose:
		l.onRCC(m)
	case h245.RequestChannelCloseAck:
		l.c.Timers.DeleteChannel(timer.KindRCC, m.ChannelNumber)
	case h245.RequestChannelCloseReject:
		l.c.Timers.DeleteChannel(timer.KindRCC, m.ChannelNumber)
		l.log.Warn("request channel close rejected", logging.Uint16("channel", m.ChannelNumber))
		l.c.Clear(call.ReasonLocalCleared)
	case h245.RequestChannelCloseRelease:
		l.c.Timers.DeleteChannel(timer.KindRCC, m.ChannelNumber)
	case h245.EndSessionCommand:
		l.onEndSession()
	case h245.UserInputIndication:
		if cb := l.m.callbacks.OnDigits; cb != nil && m.Digits != "" {
			token, digits := l.c.Token, m.Digits
			l.later(func() { cb(token, digits) })
		}
	case h245.RoundTripDelayRequest:
		l.sendH245(&h245.Message{Type: h245.RoundTripDelayResponse, SeqNum: m.SeqNum})
	case h245.RoundTripDelayResponse:
	}
}

// startH245Procedures запускает обмен возможностями и MSD
func (l *loop) startH245Procedures() {
	c := l.c
	if c.State.Clearing() || c.Session == call.SessionClosed {
		return
	}
	if !c.Flags.Tunneling {
		c.Session = call.SessionActive
	}
	l.sendTCS()
	l.sendMSD()
}

func (l *loop) sendTCS() {
	c := l.c
	if c.LocalTCS != call.ProcedureIdle {
		return
	}
	c.TCSSeq++
	c.LocalTCS = call.ProcedureSent
	l.sendH245(&h245.Message{
		Type:         h245.TerminalCapabilitySet,
		SeqNum:       c.TCSSeq,
		Capabilities: l.m.caps.Advertise(),
	})
}

func (l *loop) sendMSD() {
	c := l.c
	if c.MSD != call.ProcedureIdle {
		return
	}
	c.MSDNumber = rand.Uint32N(msdNumberRange)
	c.MSDSeq++
	c.MSD = call.ProcedureSent
	l.sendH245(&h245.Message{
		Type:                      h245.MasterSlaveDetermination,
		SeqNum:                    c.MSDSeq,
		TerminalType:              localTerminal,
		StatusDeterminationNumber: c.MSDNumber,
	})
}

// DecideMasterSlave роль локальной стороны по MSD удаленной.
// DecisionIndeterminate означает совпадение номеров.
func DecideMasterSlave(localType uint8, localNumber uint32, remoteType uint8, remoteNumber uint32) h245.Decision {
	switch {
	case remoteType < localType:
		return h245.DecisionMaster
	case remoteType > localType:
		return h245.DecisionSlave
	}
	diff := (remoteNumber - localNumber) & msdNumberMask
	switch {
	case diff == 0 || diff == msdHalfRange:
		return h245.DecisionIndeterminate
	case diff < msdHalfRange:
		return h245.DecisionMaster
	}
	return h245.DecisionSlave
}

func (l *loop) onMSD(m *h245.Message) {
	c := l.c
	if c.MSD == call.ProcedureIdle {
		c.MSDNumber = rand.Uint32N(msdNumberRange)
	}
	decision := DecideMasterSlave(localTerminal, c.MSDNumber, m.TerminalType, m.StatusDeterminationNumber)
	if decision == h245.DecisionIndeterminate {
		l.log.Debug("identical MSD numbers, rejecting")
		l.sendH245(&h245.Message{Type: h245.MasterSlaveDeterminationReject, Cause: h245.CauseIdenticalNumbers})
		return
	}

	c.Timers.DeleteKind(timer.KindMSD)
	c.MasterSlave = decision
	c.MSD = call.ProcedureDone
	l.log.Debug("master-slave determined", logging.Stringer("role", decision))
	l.sendH245(&h245.Message{
		Type:     h245.MasterSlaveDeterminationAck,
		SeqNum:   m.SeqNum,
		Decision: decision.Opposite(),
	})
	l.openChannels()
}

func (l *loop) onMSDAck(m *h245.Message) {
	c := l.c
	c.Timers.DeleteKind(timer.KindMSD)
	if c.MSD != call.ProcedureDone {
		c.MasterSlave = m.Decision
		c.MSD = call.ProcedureDone
		l.log.Debug("master-slave determined", logging.Stringer("role", m.Decision))
	}
	l.openChannels()
}

func (l *loop) onMSDReject() {
	c := l.c
	c.Timers.DeleteKind(timer.KindMSD)
	c.MSDRetries++
	if c.MSDRetries > l.m.cfg.MaxRetries {
		l.log.Warn("master-slave determination failed", logging.Int("attempts", c.MSDRetries))
		c.Clear(call.ReasonLocalCleared)
		return
	}
	c.MSD = call.ProcedureIdle
	l.sendMSD()
}

func (l *loop) onTCS(m *h245.Message) {
	c := l.c
	ack := &h245.Message{Type: h245.TerminalCapabilitySetAck, SeqNum: m.SeqNum}
	if m.IsEmptyCapabilitySet() {
		l.sendH245(ack)
		l.pause()
		return
	}

	c.RemoteCaps = m.Capabilities
	c.RemoteTCS = true
	l.sendH245(ack)

	if c.Session == call.SessionPaused {
		l.log.Info("H.245 session resumed")
		c.Session = call.SessionActive
		if c.State == call.StatePaused {
			c.State = call.StateConnected
		}
	}
	if c.Session == call.SessionActive || c.Flags.Tunneling {
		l.startH245Procedures()
	}
	l.openChannels()
}

// pause переводит сессию H.245 в паузу по пустому TCS
func (l *loop) pause() {
	c := l.c
	l.log.Info("H.245 session paused by remote")
	for _, lc := range append([]*call.LogicalChannel(nil), c.Channels...) {
		if lc.Direction == call.Transmit && lc.State == call.ChannelEstablished {
			l.closeChannel(lc)
		}
	}
	c.Timers.DeleteKind(timer.KindMSD)
	c.Timers.DeleteKind(timer.KindTCS)
	c.LocalTCS = call.ProcedureIdle
	c.MSD = call.ProcedureIdle
	c.RemoteTCS = false
	c.MasterSlave = h245.DecisionIndeterminate
	c.Session = call.SessionPaused
	if c.State == call.StateConnected {
		c.State = call.StatePaused
	}
	l.channelsOpened = false
}

// openChannels открывает передающие каналы после обмена возможностями и MSD
func (l *loop) openChannels() {
	c := l.c
	if c.LocalTCS != call.ProcedureDone || !c.RemoteTCS || c.MSD != call.ProcedureDone {
		return
	}
	if c.State.Clearing() || l.channelsOpened {
		return
	}
	l.channelsOpened = true

	audio := false
	for _, sid := range l.m.caps.Sessions() {
		if len(c.ChannelsFor(sid, call.Transmit, call.ChannelEstablished)) > 0 ||
			len(c.ChannelsFor(sid, call.Transmit, call.ChannelProposed)) > 0 {
			audio = audio || sid == call.SessionAudio
			continue
		}
		mc := l.m.caps.FirstCommon(sid, c.RemoteCaps)
		if mc == nil {
			l.log.Debug("no common capability for session", logging.Int("session", int(sid)))
			continue
		}
		l.openChannel(mc)
		audio = audio || sid == call.SessionAudio
	}
	if !audio {
		l.log.Warn("no common audio capability")
		c.Clear(call.ReasonNoCommonCapabilities)
	}
}

func (l *loop) openChannel(mc capability.MediaCapability) {
	lc := &call.LogicalChannel{
		Number:     l.m.numbers.Next(),
		SessionID:  mc.SessionID(),
		Direction:  call.Transmit,
		Capability: mc.Name(),
		State:      call.ChannelProposed,
	}
	l.allocRTP(lc)
	l.c.AddChannel(lc)
	l.log.Debug("opening logical channel", logging.Stringer("channel", lc))
	l.sendH245(&h245.Message{
		Type:          h245.OpenLogicalChannel,
		ChannelNumber: lc.Number,
		SessionID:     lc.SessionID,
		Capability:    lc.Capability,
		MediaControl:  lc.LocalRTCP,
	})
}

// allocRTP выделяет пару портов RTP/RTCP для канала
func (l *loop) allocRTP(lc *call.LogicalChannel) {
	ip := l.c.LocalSignal.Addr()
	if !ip.IsValid() || ip.IsUnspecified() {
		ip = l.m.cfg.LocalIP
	}
	rtp, rtcp := l.m.cfg.Ports.RTP.NextEven()
	lc.LocalRTP = netip.AddrPortFrom(ip, uint16(rtp))
	lc.LocalRTCP = netip.AddrPortFrom(ip, uint16(rtcp))
}

func (l *loop) onOLC(m *h245.Message) {
	c := l.c
	reject := &h245.Message{Type: h245.OpenLogicalChannelReject, ChannelNumber: m.ChannelNumber}

	mc := l.m.caps.Supports(m.Capability, call.Receive)
	if mc == nil || mc.SessionID() != m.SessionID {
		l.log.Info("rejecting unsupported logical channel", logging.String("capability", m.Capability))
		reject.Cause = h245.CauseDataTypeNotSupported
		l.sendH245(reject)
		return
	}
	if c.FindChannel(m.ChannelNumber, call.Receive) != nil {
		l.log.Warn("duplicate logical channel number", logging.Uint16("channel", m.ChannelNumber))
		reject.Cause = h245.CauseUnspecified
		l.sendH245(reject)
		return
	}

	lc := &call.LogicalChannel{
		Number:     m.ChannelNumber,
		SessionID:  m.SessionID,
		Direction:  call.Receive,
		Capability: m.Capability,
		State:      call.ChannelProposed,
		RemoteRTCP: m.MediaControl,
	}
	l.allocRTP(lc)
	c.AddChannel(lc)
	if err := l.establish(lc, mc); err != nil {
		l.log.Warn("failed to start receive channel", logging.Stringer("channel", lc), logging.Err(err))
		c.RemoveChannel(lc)
		reject.Cause = h245.CauseDataTypeNotAvailable
		l.sendH245(reject)
		return
	}
	l.sendH245(&h245.Message{
		Type:          h245.OpenLogicalChannelAck,
		ChannelNumber: lc.Number,
		SessionID:     lc.SessionID,
		Capability:    lc.Capability,
		MediaChannel:  lc.LocalRTP,
		MediaControl:  lc.LocalRTCP,
	})
}

func (l *loop) onOLCAck(m *h245.Message) {
	c := l.c
	c.Timers.DeleteChannel(timer.KindOLC, m.ChannelNumber)
	lc := c.FindChannel(m.ChannelNumber, call.Transmit)
	if lc == nil || lc.State != call.ChannelProposed {
		l.log.Debug("OLCAck for unknown channel", logging.Uint16("channel", m.ChannelNumber))
		return
	}
	lc.RemoteRTP = m.MediaChannel
	lc.RemoteRTCP = m.MediaControl
	mc := l.m.caps.Find(lc.Capability)
	if mc == nil {
		c.RemoveChannel(lc)
		return
	}
	if err := l.establish(lc, mc); err != nil {
		l.log.Warn("failed to start transmit channel", logging.Stringer("channel", lc), logging.Err(err))
		l.closeChannel(lc)
	}
}

func (l *loop) onOLCReject(m *h245.Message) {
	c := l.c
	c.Timers.DeleteChannel(timer.KindOLC, m.ChannelNumber)
	if lc := c.FindChannel(m.ChannelNumber, call.Transmit); lc != nil {
		c.RemoveChannel(lc)
	}
	l.log.Warn("logical channel rejected", logging.Uint16("channel", m.ChannelNumber), logging.Int("cause", int(m.Cause)))
	c.Clear(call.ReasonNoCommonCapabilities)
}

func (l *loop) onCLC(m *h245.Message) {
	c := l.c
	if lc := c.FindChannel(m.ChannelNumber, call.Receive); lc != nil {
		l.stopChannel(lc)
		c.RemoveChannel(lc)
	}
	l.sendH245(&h245.Message{Type: h245.CloseLogicalChannelAck, ChannelNumber: m.ChannelNumber})
}

func (l *loop) onCLCAck(m *h245.Message) {
	c := l.c
	c.Timers.DeleteChannel(timer.KindCLC, m.ChannelNumber)
	if lc := c.FindChannel(m.ChannelNumber, call.Transmit); lc != nil {
		l.stopChannel(lc)
		c.RemoveChannel(lc)
	}
}

func (l *loop) onRCC(m *h245.Message) {
	c := l.c
	lc := c.FindChannel(m.ChannelNumber, call.Transmit)
	if lc == nil {
		l.sendH245(&h245.Message{Type: h245.RequestChannelCloseReject, ChannelNumber: m.ChannelNumber})
		return
	}
	l.sendH245(&h245.Message{Type: h245.RequestChannelCloseAck, ChannelNumber: m.ChannelNumber})
	l.closeChannel(lc)
}

func (l *loop) onEndSession() {
	c := l.c
	l.clearChannels()
	if c.Session == call.SessionEndSent {
		l.closeH245()
	} else {
		c.Session = call.SessionEndRecvd
		if !c.EndSessionOut {
			c.EndSessionOut = true
			l.sendH245(&h245.Message{Type: h245.EndSessionCommand})
		}
	}
	if c.State < call.StateClear {
		c.Clear(call.ReasonRemoteCleared)
	}
}

func (l *loop) sendDigits(digits string) {
	c := l.c
	if c.State != call.StateConnected {
		l.log.Warn("cannot send digits, call not connected", logging.Stringer("state", c.State))
		return
	}
	l.sendH245(&h245.Message{Type: h245.UserInputIndication, Digits: digits})
}

// establish переводит канал в established, закрывая каналы той же
// сессии и направления
func (l *loop) establish(lc *call.LogicalChannel, mc capability.MediaCapability) error {
	c := l.c
	for _, sib := range c.Siblings(lc) {
		l.stopChannel(sib)
		c.RemoveChannel(sib)
	}
	if err := capability.Start(mc, c.Token, lc); err != nil {
		return err
	}
	lc.State = call.ChannelEstablished
	l.m.metrics.LogicalChannelDelta(1)
	l.log.Info("logical channel established", logging.Stringer("channel", lc),
		logging.String("local", lc.LocalRTP.String()), logging.String("remote", lc.RemoteRTP.String()))
	return nil
}

// stopChannel останавливает медиа установленного канала
func (l *loop) stopChannel(lc *call.LogicalChannel) {
	if lc.State != call.ChannelEstablished {
		return
	}
	lc.State = call.ChannelIdle
	l.m.metrics.LogicalChannelDelta(-1)
	mc := l.m.caps.Find(lc.Capability)
	if mc == nil {
		return
	}
	if err := capability.Stop(mc, l.c.Token, lc); err != nil {
		l.log.Warn("failed to stop media", logging.Stringer("channel", lc), logging.Err(err))
	}
}

// closeChannel закрывает канал по инициативе локальной стороны
func (l *loop) closeChannel(lc *call.LogicalChannel) {
	l.stopChannel(lc)
	if lc.Direction == call.Receive {
		l.sendH245(&h245.Message{Type: h245.RequestChannelClose, ChannelNumber: lc.Number})
		return
	}
	l.sendH245(&h245.Message{Type: h245.CloseLogicalChannel, ChannelNumber: lc.Number, Source: h245.SourceUser})
}

// clearChannels останавливает и удаляет все каналы без сигнализации
func (l *loop) clearChannels() {
	c := l.c
	for _, lc := range c.Channels {
		l.stopChannel(lc)
		c.Timers.DeleteChannel(timer.KindOLC, lc.Number)
		c.Timers.DeleteChannel(timer.KindCLC, lc.Number)
		c.Timers.DeleteChannel(timer.KindRCC, lc.Number)
	}
	c.Channels = nil
}
