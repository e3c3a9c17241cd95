package config

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/arzzra/h323ep/pkg/endpoint"
	"github.com/arzzra/h323ep/pkg/h323/call"
	"github.com/arzzra/h323ep/pkg/h323/channels"
	"github.com/arzzra/h323ep/pkg/h323/ras"
	"github.com/arzzra/h323ep/pkg/h323/transport"
)

// DefaultRASPort порт RAS гейткипера
const DefaultRASPort = 1719

// Flags флаги вызовов по умолчанию
func (c *Config) Flags() call.Flags {
	return call.Flags{
		FastStart:      c.Endpoint.FastStart,
		Tunneling:      c.Endpoint.Tunneling,
		GkRouted:       c.Endpoint.GkRouted,
		DisableGk:      c.Gatekeeper.Mode == GatekeeperNone,
		AutoAnswer:     c.Endpoint.AutoAnswer,
		ManualRingback: c.Endpoint.ManualRingback,
	}
}

// PortRanges диапазоны портов транспорта
func (c *Config) PortRanges() (transport.Ports, error) {
	var p transport.Ports
	var err error
	if p.TCP, err = transport.NewPortRange(c.Ports.TCP.Start, c.Ports.TCP.Max); err != nil {
		return p, fmt.Errorf("tcp: %w", err)
	}
	if p.UDP, err = transport.NewPortRange(c.Ports.UDP.Start, c.Ports.UDP.Max); err != nil {
		return p, fmt.Errorf("udp: %w", err)
	}
	if p.RTP, err = transport.NewPortRange(c.Ports.RTP.Start, c.Ports.RTP.Max); err != nil {
		return p, fmt.Errorf("rtp: %w", err)
	}
	return p, nil
}

// Channels параметры менеджера каналов
func (c *Config) Channels() (channels.Config, error) {
	ip, err := netip.ParseAddr(c.Endpoint.BindAddr)
	if err != nil {
		return channels.Config{}, fmt.Errorf("invalid bind address %q: %w", c.Endpoint.BindAddr, err)
	}
	ports, err := c.PortRanges()
	if err != nil {
		return channels.Config{}, err
	}

	cc := channels.DefaultConfig()
	cc.LocalIP = ip
	cc.Aliases = c.Endpoint.Aliases.List()
	cc.Display = c.Endpoint.Name
	cc.Flags = c.Flags()
	cc.Bandwidth = c.Media.Bandwidth
	cc.CallEstablishmentTimeout = c.Timeouts.CallEstablishment
	cc.MSDTimeout = c.Timeouts.MSD
	cc.TCSTimeout = c.Timeouts.TCS
	cc.LogicalChannelTimeout = c.Timeouts.LogicalChannel
	cc.EndSessionTimeout = c.Timeouts.EndSession
	cc.H245ConnectDelay = c.Timeouts.H245ConnectDelay
	cc.H245ConnectAttempts = c.Timeouts.H245ConnectAttempts
	cc.MaxRetries = c.Gatekeeper.MaxRetries
	cc.PartialWait = c.Timeouts.PartialWait
	cc.PollInterval = c.Timeouts.PollInterval
	cc.EmptyLoopLimit = c.Timeouts.EmptyLoopLimit
	cc.Ports = ports
	return cc, nil
}

// GatekeeperClient параметры клиента RAS или nil без гейткипера
func (c *Config) GatekeeperClient() (*ras.Config, error) {
	if c.Gatekeeper.Mode == GatekeeperNone {
		return nil, nil
	}

	rc := ras.DefaultConfig()
	rc.Mode = ras.ModeDiscover
	if c.Gatekeeper.Mode == GatekeeperSpecific {
		addr, err := resolveRAS(c.Gatekeeper.Address)
		if err != nil {
			return nil, err
		}
		rc.Mode = ras.ModeSpecific
		rc.GatekeeperAddr = addr
	}
	rc.GatekeeperID = c.Gatekeeper.GatekeeperID
	rc.Aliases = c.Endpoint.Aliases.List()
	rc.TTL = c.Gatekeeper.TTL
	rc.TTLOffset = c.Gatekeeper.TTLOffset
	rc.MaxRetries = c.Gatekeeper.MaxRetries
	rc.GRQTimeout = c.Gatekeeper.GRQTimeout
	rc.RRQTimeout = c.Gatekeeper.RRQTimeout
	rc.ARQTimeout = c.Gatekeeper.ARQTimeout
	rc.DRQTimeout = c.Gatekeeper.DRQTimeout
	rc.PollInterval = c.Timeouts.PollInterval
	rc.GkRouted = c.Endpoint.GkRouted
	rc.Bandwidth = c.Media.Bandwidth
	return &rc, nil
}

// resolveRAS разбирает host[:port] гейткипера, порт по умолчанию 1719
func resolveRAS(address string) (netip.AddrPort, error) {
	host, port := address, strconv.Itoa(DefaultRASPort)
	if h, p, err := net.SplitHostPort(address); err == nil {
		host, port = h, p
	}
	udp, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid gatekeeper address %q: %w", address, err)
	}
	ap := udp.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// EndpointConfig параметры конечной точки
func (c *Config) EndpointConfig() (endpoint.Config, error) {
	calls, err := c.Channels()
	if err != nil {
		return endpoint.Config{}, err
	}
	gk, err := c.GatekeeperClient()
	if err != nil {
		return endpoint.Config{}, err
	}

	ec := endpoint.Config{
		SignalAddr: netip.AddrPortFrom(calls.LocalIP, uint16(c.Endpoint.SignalPort)),
		Calls:      calls,
		Gatekeeper: gk,
	}
	if c.Gatekeeper.RASPort > 0 {
		ec.RASAddr = netip.AddrPortFrom(calls.LocalIP, uint16(c.Gatekeeper.RASPort))
	}
	return ec, nil
}
