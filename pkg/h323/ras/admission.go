package ras

import (
	"net/netip"
	"time"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	"github.com/arzzra/h323ep/pkg/h323/call"
	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/timer"
)

// AdmitRequest снимок данных вызова для ARQ
type AdmitRequest struct {
	Token         string
	CallReference uint16
	CallID        [16]byte
	ConferenceID  [16]byte
	Direction     call.Direction
	LocalAliases  alias.List
	RemoteAliases alias.List
	LocalSignal   netip.AddrPort
	RemoteSignal  netip.AddrPort
	Bandwidth     uint32
	GkRouted      bool
}

// AdmitResult решение гейткипера по вызову
type AdmitResult struct {
	Token        string
	Admitted     bool
	DestAddress  netip.AddrPort
	CallModel    CallModel
	Bandwidth    uint32
	Reason       call.EndReason
	RejectReason RejectReason
}

// admissionRecord пара вызов - ожидающий номер запроса с таймером повтора
type admissionRecord struct {
	req     AdmitRequest
	seq     uint16
	retries int
	timer   *timer.Timer
	done    func(AdmitResult)
}

// DisengageInfo данные вызова для DRQ
type DisengageInfo struct {
	Token         string
	CallReference uint16
	CallID        [16]byte
	ConferenceID  [16]byte
	Direction     call.Direction
	Reason        uint8
	AlertTime     time.Time
	ConnectTime   time.Time
	EndTime       time.Time
}

// Admit запрашивает допуск вызова. done вызывается из цикла клиента
// ровно один раз, если вызов не будет очищен раньше.
func (c *Client) Admit(req AdmitRequest, done func(AdmitResult)) {
	c.post(func() {
		if err := c.sendARQ(req, done); err != nil {
			c.log.Warn("admission request failed", logging.String("call", req.Token), logging.Err(err))
		}
	})
}

// SendARQ синхронно отправляет ARQ
func (c *Client) SendARQ(req AdmitRequest, done func(AdmitResult)) error {
	var err error
	c.withLock(func() { err = c.sendARQ(req, done) })
	return err
}

// Disengage сообщает гейткиперу о завершении вызова
func (c *Client) Disengage(req DisengageInfo) {
	c.post(func() {
		if err := c.sendDRQ(req); err != nil {
			c.log.Debug("DRQ not sent", logging.String("call", req.Token), logging.Err(err))
		}
	})
}

// SendDRQ синхронно отправляет DRQ
func (c *Client) SendDRQ(req DisengageInfo) error {
	var err error
	c.withLock(func() { err = c.sendDRQ(req) })
	return err
}

// CleanCall удаляет записи допуска вызова и их таймеры
func (c *Client) CleanCall(token string) {
	c.post(func() { c.cleanCall(token) })
}

// PendingAdmissions количество ожидающих допусков
func (c *Client) PendingAdmissions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsAdmitted вызов находится в списке допущенных
func (c *Client) IsAdmitted(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.admitted[token]
	return ok
}

func (c *Client) sendARQ(req AdmitRequest, done func(AdmitResult)) error {
	if c.halted || c.State() != StateRegistered {
		c.notifyAdmission(&admissionRecord{req: req, done: done}, AdmitResult{
			Token:  req.Token,
			Reason: call.ReasonGkUnreachable,
		})
		return h323errors.Wrap("ras admit", h323errors.KindState, h323errors.ErrNoGatekeeper)
	}
	c.dropPending(req.Token)
	return c.transmitARQ(&admissionRecord{req: req, done: done})
}

func (c *Client) transmitARQ(rec *admissionRecord) error {
	rec.seq = c.nextSeq()
	req := rec.req

	m := &Message{
		Type:          AdmissionRequest,
		SeqNum:        rec.seq,
		EndpointID:    c.endpointID,
		GatekeeperID:  c.gatekeeperID,
		CallReference: req.CallReference,
		CallID:        req.CallID,
		ConferenceID:  req.ConferenceID,
		AnswerCall:    req.Direction == call.Incoming,
		Bandwidth:     req.Bandwidth,
	}
	if m.Bandwidth == 0 {
		m.Bandwidth = c.cfg.Bandwidth
	}
	if req.GkRouted || c.cfg.GkRouted {
		m.CallModel = CallModelGatekeeperRouted
	}
	if req.Direction == call.Outgoing {
		m.SrcAliases, m.DestAliases = req.LocalAliases, req.RemoteAliases
		m.SrcCallSignal, m.DestCallSignal = req.LocalSignal, req.RemoteSignal
	} else {
		m.SrcAliases, m.DestAliases = req.RemoteAliases, req.LocalAliases
		m.SrcCallSignal, m.DestCallSignal = req.RemoteSignal, req.LocalSignal
	}

	c.pending[rec.seq] = rec
	rec.timer = c.timers.CreateFor(timer.KindARQ, 0, rec, c.cfg.ARQTimeout, c.onARQTimeout)

	if err := c.send(m, c.destination()); err != nil {
		if h323errors.KindOf(err) == h323errors.KindResource {
			c.timers.Delete(rec.timer)
			delete(c.pending, rec.seq)
			c.notifyAdmission(rec, AdmitResult{Token: req.Token, Reason: call.ReasonGkCleared})
			return err
		}
		c.log.Warn("ARQ not sent, will retry", logging.String("call", req.Token), logging.Err(err))
	}
	c.metrics.RASRequest("ARQ")
	return nil
}

func (c *Client) onARQTimeout(t *timer.Timer) {
	rec, ok := t.Data.(*admissionRecord)
	if !ok || c.pending[rec.seq] != rec {
		return
	}
	delete(c.pending, rec.seq)

	if rec.retries < c.cfg.MaxRetries {
		rec.retries++
		c.metrics.RASRetransmission("ARQ")
		c.log.Warn("ARQ timed out, retransmitting",
			logging.String("call", rec.req.Token), logging.Int("retry", rec.retries))
		c.transmitARQ(rec)
		return
	}

	c.log.Error("admission failed, gatekeeper not responding", logging.String("call", rec.req.Token))
	c.enterGkError()
	c.notifyAdmission(rec, AdmitResult{Token: rec.req.Token, Reason: call.ReasonGkUnreachable})
}

func (c *Client) onACF(m *Message) {
	rec, ok := c.pending[m.SeqNum]
	if !ok {
		c.log.Debug("ignoring ACF with unknown sequence number", logging.Uint16("seq", m.SeqNum))
		return
	}
	c.timers.Delete(rec.timer)
	delete(c.pending, m.SeqNum)
	c.admitted[rec.req.Token] = rec

	c.log.Info("call admitted", logging.String("call", rec.req.Token),
		logging.String("dest", m.DestCallSignal.String()), logging.Stringer("model", m.CallModel))
	c.notifyAdmission(rec, AdmitResult{
		Token:       rec.req.Token,
		Admitted:    true,
		DestAddress: m.DestCallSignal,
		CallModel:   m.CallModel,
		Bandwidth:   m.Bandwidth,
	})
}

func (c *Client) onARJ(m *Message) {
	rec, ok := c.pending[m.SeqNum]
	if !ok {
		c.log.Debug("ignoring ARJ with unknown sequence number", logging.Uint16("seq", m.SeqNum))
		return
	}
	c.timers.Delete(rec.timer)
	delete(c.pending, m.SeqNum)
	c.metrics.RASReject("ARJ", m.RejectReason.String())

	reason := AdmissionEndReason(m.RejectReason)
	c.log.Warn("call admission rejected", logging.String("call", rec.req.Token),
		logging.Stringer("reason", m.RejectReason), logging.Stringer("end_reason", reason))
	c.notifyAdmission(rec, AdmitResult{
		Token:        rec.req.Token,
		Reason:       reason,
		RejectReason: m.RejectReason,
	})
}

func (c *Client) notifyAdmission(rec *admissionRecord, res AdmitResult) {
	if rec.done == nil {
		return
	}
	done := rec.done
	c.notify = append(c.notify, func() { done(res) })
}

// failPending завершает ожидающие допуски, их таймеры уже не сработают
func (c *Client) failPending() {
	for seq, rec := range c.pending {
		delete(c.pending, seq)
		c.notifyAdmission(rec, AdmitResult{Token: rec.req.Token, Reason: call.ReasonGkUnreachable})
	}
}

func (c *Client) dropPending(token string) {
	for seq, rec := range c.pending {
		if rec.req.Token == token {
			c.timers.Delete(rec.timer)
			delete(c.pending, seq)
		}
	}
}

func (c *Client) cleanCall(token string) {
	c.dropPending(token)
	delete(c.admitted, token)
}

func (c *Client) sendDRQ(req DisengageInfo) error {
	delete(c.admitted, req.Token)
	if c.State() != StateRegistered {
		return h323errors.Wrap("ras disengage", h323errors.KindState, h323errors.ErrNoGatekeeper)
	}

	m := &Message{
		Type:            DisengageRequest,
		SeqNum:          c.nextSeq(),
		EndpointID:      c.endpointID,
		GatekeeperID:    c.gatekeeperID,
		CallReference:   req.CallReference,
		CallID:          req.CallID,
		ConferenceID:    req.ConferenceID,
		AnswerCall:      req.Direction == call.Incoming,
		DisengageReason: req.Reason,
		AlertTime:       unixOrZero(req.AlertTime),
		ConnectTime:     unixOrZero(req.ConnectTime),
		EndTime:         unixOrZero(req.EndTime),
	}
	if err := c.send(m, c.destination()); err != nil {
		return err
	}
	c.metrics.RASRequest("DRQ")

	seq := m.SeqNum
	c.disengaging[seq] = req.Token
	c.timers.CreateFor(timer.KindDRQ, 0, seq, c.cfg.DRQTimeout, func(*timer.Timer) {
		if token, ok := c.disengaging[seq]; ok {
			delete(c.disengaging, seq)
			c.log.Debug("no DCF received", logging.String("call", token))
		}
	})
	return nil
}

// onDCF подтверждение отбоя; допускается без записи (после очистки вызова)
func (c *Client) onDCF(m *Message) {
	token, ok := c.disengaging[m.SeqNum]
	if !ok {
		c.log.Debug("DCF for unknown request", logging.Uint16("seq", m.SeqNum))
		return
	}
	delete(c.disengaging, m.SeqNum)
	c.timers.DeleteFunc(func(t *timer.Timer) bool { return t.Kind == timer.KindDRQ && t.Data == m.SeqNum })
	c.log.Debug("disengage confirmed", logging.String("call", token))
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
