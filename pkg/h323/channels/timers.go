package channels

import (
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/h245"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/timer"
)

func (l *loop) onMSDTimeout(*timer.Timer) {
	l.log.Warn("master-slave determination timed out")
	l.sendH245(&h245.Message{Type: h245.MasterSlaveDeterminationRelease})
	l.c.Clear(call.ReasonLocalCleared)
}

func (l *loop) onTCSTimeout(*timer.Timer) {
	l.log.Warn("capability exchange timed out")
	l.sendH245(&h245.Message{Type: h245.TerminalCapabilitySetRelease})
	l.c.Clear(call.ReasonLocalCleared)
}

func (l *loop) onOLCTimeout(t *timer.Timer) {
	l.log.Warn("open logical channel timed out", logging.Uint16("channel", t.Channel))
	if lc := l.c.FindChannel(t.Channel, call.Transmit); lc != nil {
		l.closeChannel(lc)
	}
	l.c.Clear(call.ReasonLocalCleared)
}

func (l *loop) onCLCTimeout(t *timer.Timer) {
	l.log.Warn("close logical channel timed out", logging.Uint16("channel", t.Channel))
	if lc := l.c.FindChannel(t.Channel, call.Transmit); lc != nil {
		l.stopChannel(lc)
		l.c.RemoveChannel(lc)
	}
	l.c.Clear(call.ReasonLocalCleared)
}

func (l *loop) onRCCTimeout(t *timer.Timer) {
	l.log.Warn("request channel close timed out", logging.Uint16("channel", t.Channel))
	l.c.Clear(call.ReasonLocalCleared)
}

func (l *loop) onSessionTimeout(*timer.Timer) {
	c := l.c
	l.log.Debug("end session timer expired", logging.Stringer("session", c.Session))
	switch c.Session {
	case call.SessionIdle, call.SessionClosed, call.SessionPaused:
	default:
		l.closeH245()
	}
	if c.State == call.StateClearReleaseSent {
		c.State = call.StateCleared
	}
}
