package ras

import (
	"net/netip"
	"time"

	"github.com/arzzra/h323ep/pkg/h323/alias"
	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
	"github.com/arzzra/h323ep/pkg/logging"
	"github.com/arzzra/h323ep/pkg/timer"
)

// SendGRQ отправляет запрос обнаружения гейткипера
func (c *Client) SendGRQ() error {
	var err error
	c.withLock(func() { err = c.sendGRQ() })
	return err
}

// SendRRQ отправляет запрос регистрации
func (c *Client) SendRRQ(keepAlive bool) error {
	var err error
	c.withLock(func() { err = c.sendRRQ(keepAlive, nil) })
	return err
}

// SendURQ снимает регистрацию по инициативе конечной точки
func (c *Client) SendURQ() error {
	var err error
	c.withLock(func() { err = c.sendURQ() })
	return err
}

// Unregister снимает регистрацию через цикл клиента
func (c *Client) Unregister() {
	c.post(func() {
		if err := c.sendURQ(); err != nil {
			c.log.Warn("failed to unregister", logging.Err(err))
		}
	})
}

func (c *Client) sendGRQ() error {
	m := &Message{
		Type:         GatekeeperRequest,
		SeqNum:       c.nextSeq(),
		RASAddress:   c.cfg.RASAddress,
		GatekeeperID: c.cfg.GatekeeperID,
		Aliases:      c.aliases.Clone(),
	}
	dest := c.cfg.MulticastAddr
	if c.cfg.Mode == ModeSpecific {
		dest = c.cfg.GatekeeperAddr
	}

	c.timers.DeleteKind(timer.KindGRQ)
	if err := c.send(m, dest); err != nil {
		if h323errors.KindOf(err) == h323errors.KindResource {
			return err
		}
		c.log.Warn("GRQ not sent, will retry", logging.Err(err))
	}
	c.metrics.RASRequest("GRQ")
	c.timers.Create(timer.KindGRQ, c.cfg.GRQTimeout, c.onGRQTimeout)
	return nil
}

func (c *Client) onGRQTimeout(*timer.Timer) {
	if c.grqRetries < c.cfg.MaxRetries {
		c.grqRetries++
		c.metrics.RASRetransmission("GRQ")
		c.log.Warn("GRQ timed out, retransmitting", logging.Int("retry", c.grqRetries))
		c.sendGRQ()
		return
	}

	c.log.Warn("no gatekeeper found, will retry discovery later", logging.Duration("retry_in", c.slowRetry()))
	c.grqRetries = 0
	c.transition(evUnregistered)
	c.timers.Create(timer.KindGRQ, c.slowRetry(), func(*timer.Timer) { c.sendGRQ() })
}

func (c *Client) onGCF(m *Message, from netip.AddrPort) {
	if c.discovered {
		c.log.Debug("ignoring GCF, discovery already complete", logging.String("from", from.String()))
		return
	}
	c.timers.DeleteKind(timer.KindGRQ)
	c.grqRetries = 0

	c.gkAddr = m.RASAddress
	if !c.gkAddr.IsValid() {
		c.gkAddr = from
	}
	c.gkAddr = netip.AddrPortFrom(c.gkAddr.Addr().Unmap(), c.gkAddr.Port())
	if c.gatekeeperID == "" {
		c.gatekeeperID = m.GatekeeperID
	}
	c.discovered = true
	c.log.Info("gatekeeper discovered",
		logging.String("address", c.gkAddr.String()), logging.String("gatekeeper_id", c.gatekeeperID))
	c.transition(evDiscovered)

	if err := c.sendRRQ(false, nil); err != nil {
		c.log.Warn("failed to send RRQ after discovery", logging.Err(err))
	}
}

func (c *Client) onGRJ(m *Message) {
	c.metrics.RASReject("GRJ", m.RejectReason.String())
	c.log.Warn("GRQ rejected", logging.Stringer("reason", m.RejectReason))
	if c.cfg.Mode == ModeSpecific {
		c.enterGkError()
	}
	// в режиме обнаружения ждем ответа другого гейткипера или таймаута
}

// sendRRQ отправляет RRQ. only - подмножество псевдонимов для повторной
// регистрации; nil означает все.
func (c *Client) sendRRQ(keepAlive bool, only alias.List) error {
	m := &Message{
		Type:              RegistrationRequest,
		SeqNum:            c.nextSeq(),
		RASAddress:        c.cfg.RASAddress,
		CallSignalAddress: c.cfg.CallSignalAddress,
		GatekeeperID:      c.gatekeeperID,
		EndpointID:        c.endpointID,
		KeepAlive:         keepAlive,
		TTL:               uint32(c.cfg.TTL / time.Second),
	}
	if !keepAlive {
		if only != nil {
			m.Aliases = only.Clone()
		} else {
			m.Aliases = c.aliases.Clone()
		}
	}
	c.lastRRQSeq = m.SeqNum

	c.timers.DeleteKind(timer.KindRRQ)
	if err := c.send(m, c.destination()); err != nil {
		if h323errors.KindOf(err) == h323errors.KindResource {
			return err
		}
		c.log.Warn("RRQ not sent, will retry", logging.Err(err))
	}
	c.metrics.RASRequest("RRQ")
	c.timers.CreateFor(timer.KindRRQ, 0, rrqContext{keepAlive: keepAlive, only: only}, c.cfg.RRQTimeout, c.onRRQTimeout)
	return nil
}

type rrqContext struct {
	keepAlive bool
	only      alias.List
}

func (c *Client) onRRQTimeout(t *timer.Timer) {
	ctx, _ := t.Data.(rrqContext)
	if c.rrqRetries < c.cfg.MaxRetries {
		c.rrqRetries++
		c.metrics.RASRetransmission("RRQ")
		c.log.Warn("RRQ timed out, retransmitting", logging.Int("retry", c.rrqRetries))
		c.sendRRQ(ctx.keepAlive, ctx.only)
		return
	}

	c.log.Warn("registration failed, will retry later", logging.Duration("retry_in", c.slowRetry()))
	c.rrqRetries = 0
	c.aliases.MarkRegistered(nil, false)
	c.timers.DeleteKind(timer.KindREG)
	c.transition(evUnregistered)
	c.timers.Create(timer.KindRRQ, c.slowRetry(), func(*timer.Timer) { c.sendRRQ(false, nil) })
}

func (c *Client) onRCF(m *Message) {
	if m.SeqNum != c.lastRRQSeq {
		c.log.Debug("ignoring RCF with unknown sequence number", logging.Uint16("seq", m.SeqNum))
		return
	}
	if !c.fsm.Can(evRegistered) {
		c.log.Debug("ignoring RCF", logging.String("state", c.fsm.Current()))
		return
	}
	c.timers.DeleteKind(timer.KindRRQ)
	c.rrqRetries = 0

	if m.EndpointID != "" {
		c.endpointID = m.EndpointID
	}
	if c.gatekeeperID == "" {
		c.gatekeeperID = m.GatekeeperID
	}
	if m.CallSignalAddress.IsValid() {
		c.gkCallSignal = m.CallSignalAddress
	}
	c.aliases.MarkRegistered(m.Aliases, true)

	c.timers.DeleteKind(timer.KindREG)
	if m.TTL > 0 {
		c.regTTL = time.Duration(m.TTL) * time.Second
		delay := KeepAliveDelay(c.regTTL, c.cfg.TTLOffset)
		c.timers.Create(timer.KindREG, delay, c.onREGTimeout)
		c.log.Debug("keep-alive scheduled", logging.Duration("in", delay))
	}

	c.log.Info("registered with gatekeeper",
		logging.String("endpoint_id", c.endpointID), logging.Duration("ttl", c.regTTL))
	c.transition(evRegistered)
}

func (c *Client) onREGTimeout(*timer.Timer) {
	if err := c.sendRRQ(true, nil); err != nil {
		c.log.Warn("failed to send keep-alive RRQ", logging.Err(err))
	}
}

func (c *Client) onRRJ(m *Message) {
	if m.SeqNum != c.lastRRQSeq {
		c.log.Debug("ignoring RRJ with unknown sequence number", logging.Uint16("seq", m.SeqNum))
		return
	}
	c.timers.DeleteKind(timer.KindRRQ)
	c.rrqRetries = 0
	c.metrics.RASReject("RRJ", m.RejectReason.String())
	c.log.Warn("registration rejected", logging.Stringer("reason", m.RejectReason))

	switch m.RejectReason {
	case ReasonDiscoveryRequired:
		c.restart()
	case ReasonFullRegistrationRequired:
		if err := c.sendRRQ(false, nil); err != nil {
			c.log.Warn("failed to send full RRQ", logging.Err(err))
		}
	default:
		c.enterGkError()
	}
}

// onURQ обрабатывает снятие регистрации по инициативе гейткипера
func (c *Client) onURQ(m *Message) {
	ucf := &Message{Type: UnregistrationConfirm, SeqNum: m.SeqNum}
	if err := c.send(ucf, c.destination()); err != nil {
		c.log.Warn("failed to send UCF", logging.Err(err))
	}

	if len(m.Aliases) > 0 {
		c.aliases.MarkRegistered(m.Aliases, false)
		if remaining := c.aliases.Registered(); len(remaining) > 0 {
			c.log.Info("gatekeeper unregistered some aliases", logging.Int("remaining", len(remaining)))
			if err := c.sendRRQ(false, remaining); err != nil {
				c.log.Warn("failed to re-register remaining aliases", logging.Err(err))
			}
			return
		}
	}

	c.log.Info("gatekeeper unregistered endpoint, registering again")
	c.aliases.MarkRegistered(nil, false)
	c.timers.DeleteKind(timer.KindRRQ)
	c.timers.DeleteKind(timer.KindREG)
	c.transition(evDiscovered)
	if err := c.sendRRQ(false, nil); err != nil {
		c.log.Warn("failed to send RRQ after URQ", logging.Err(err))
	}
}

func (c *Client) sendURQ() error {
	if c.State() != StateRegistered {
		return nil
	}
	m := &Message{
		Type:              UnregistrationRequest,
		SeqNum:            c.nextSeq(),
		CallSignalAddress: c.cfg.CallSignalAddress,
		GatekeeperID:      c.gatekeeperID,
		EndpointID:        c.endpointID,
		Aliases:           c.aliases.Registered(),
	}
	err := c.send(m, c.destination())
	c.metrics.RASRequest("URQ")
	c.aliases.MarkRegistered(nil, false)
	c.timers.DeleteKind(timer.KindREG)
	c.timers.DeleteKind(timer.KindRRQ)
	c.transition(evUnregistered)
	return err
}
