package channels

import (
	"github.com/arzzra/h323ep/pkg/cdr"
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/h225"
	"github.com/arzzra/h323ep/pkg/h323/h245"
	"github.com/arzzra/h323ep/pkg/logging"
)

// callRecord итог вызова для CDR и уведомления приложения
type callRecord struct {
	cdr      cdr.Record
	snapshot call.Snapshot
}

// endCall продвигает завершение вызова; вызывается на каждой итерации
// цикла, пока вызов в состоянии завершения
func (l *loop) endCall() {
	c := l.c
	if c.State == call.StateRemoved {
		return
	}
	if !c.H225.Open() {
		c.State = call.StateCleared
	}
	if c.State == call.StateCleared || c.State == call.StateClearReleaseSent {
		l.cleanCall()
		c.State = call.StateRemoved
		return
	}

	if len(c.Channels) > 0 {
		l.clearChannels()
	}
	if !c.EndSessionOut && (c.Session == call.SessionActive || c.Session == call.SessionEndRecvd) {
		c.EndSessionOut = true
		l.sendH245(&h245.Message{Type: h245.EndSessionCommand})
	}
	if !c.ReleaseOut && (c.State == call.StateClear || c.State == call.StateClearReleaseRecvd) && !l.endSessionQueued() {
		c.ReleaseOut = true
		l.sendRelease()
	}
}

// endSessionQueued туннелированный EndSession еще не записан в канал
func (l *loop) endSessionQueued() bool {
	out, ok := l.c.H225.Queue.Peek()
	return ok && out.Envelope.H245 == h245.EndSessionCommand
}

func (l *loop) sendRelease() {
	c := l.c
	c.SetEndReason(call.ReasonLocalCleared)
	cause, reason := call.Q931Cause(c.EndReason)
	l.log.Info("releasing call", logging.Stringer("reason", c.EndReason), logging.Int("cause", int(cause)))
	l.sendH225(&h225.Message{
		Type:          h225.ReleaseComplete,
		Cause:         cause,
		ReleaseReason: reason,
		HasReason:     true,
	})
}

// cleanCall освобождает ресурсы вызова
func (l *loop) cleanCall() {
	c := l.c
	l.clearChannels()
	if c.H245 != nil {
		c.H245.Close()
	}
	c.H225.Close()
	c.Timers.StopAll()
	if l.m.gk != nil {
		l.m.gk.CleanCall(c.Token)
	}
	if c.EndTime.IsZero() {
		c.EndTime = c.Timers.Clock().Now()
	}
	c.SetEndReason(call.ReasonLocalCleared)

	l.record = callRecord{
		cdr: cdr.Record{
			Token:       c.Token,
			CallID:      c.CallID.String(),
			Direction:   c.Direction.String(),
			Local:       c.LocalSignal.String(),
			Remote:      c.RemoteSignal.String(),
			Destination: c.Destination,
			Created:     c.Created,
			Connected:   c.ConnectTime,
			Ended:       c.EndTime,
			EndReason:   c.EndReason.String(),
		},
		snapshot: c.View(),
	}
	l.record.snapshot.State = call.StateRemoved
	l.log.Info("call cleared", logging.Stringer("reason", c.EndReason),
		logging.Duration("duration", l.record.cdr.Duration()))
}
