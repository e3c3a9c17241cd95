package ras

import (
	"net/netip"

	"github.com/arzzra/h323ep/pkg/logging"
)

// HandleDatagram разбирает и обрабатывает одну датаграмму RAS
func (c *Client) HandleDatagram(data []byte, from netip.AddrPort) {
	c.withLock(func() { c.handleDatagram(data, from) })
}

func (c *Client) handleDatagram(data []byte, from netip.AddrPort) {
	m, err := c.codec.Decode(data)
	if err != nil {
		c.metrics.DecodeError("ras")
		c.log.Warn("failed to decode RAS message", logging.String("from", from.String()), logging.Err(err))
		return
	}

	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	if c.discovered && from != c.gkAddr {
		c.log.Debug("ignoring RAS message from unknown source",
			logging.Stringer("type", m.Type), logging.String("from", from.String()))
		return
	}
	c.metrics.MessageReceived("ras", m.Type.String())

	switch m.Type {
	case GatekeeperConfirm:
		c.onGCF(m, from)
	case GatekeeperReject:
		c.onGRJ(m)
	case RegistrationConfirm:
		c.onRCF(m)
	case RegistrationReject:
		c.onRRJ(m)
	case UnregistrationRequest:
		c.onURQ(m)
	case UnregistrationConfirm:
		c.log.Info("unregistration confirmed")
	case UnregistrationReject:
		c.log.Warn("unregistration rejected", logging.Stringer("reason", m.RejectReason))
	case AdmissionConfirm:
		c.onACF(m)
	case AdmissionReject:
		c.onARJ(m)
	case DisengageConfirm:
		c.onDCF(m)
	case DisengageReject:
		c.log.Warn("disengage rejected", logging.Stringer("reason", m.RejectReason))
	default:
		c.log.Debug("unhandled RAS message", logging.Stringer("type", m.Type))
	}
}
