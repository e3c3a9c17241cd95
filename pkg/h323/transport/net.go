package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	h323errors "github.com/arzzra/h323ep/pkg/h323/core/errors"
)

// reuseAddrControl функция Control для net.ListenConfig и net.Dialer
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) { sockErr = setSockOptReuseAddr(fd) }); err != nil {
		return err
	}
	return sockErr
}

// ListenConfig конфигурация слушателя с SO_REUSEADDR
func ListenConfig() *net.ListenConfig {
	return &net.ListenConfig{Control: reuseAddrControl}
}

// ListenTCP открывает TCP слушатель на addr
func ListenTCP(ctx context.Context, addr netip.AddrPort) (*net.TCPListener, error) {
	ln, err := ListenConfig().Listen(ctx, "tcp", addr.String())
	if err != nil {
		return nil, h323errors.Wrap("listen tcp "+addr.String(), h323errors.KindTransport, err)
	}
	return ln.(*net.TCPListener), nil
}

// ListenUDP открывает UDP сокет на addr
func ListenUDP(ctx context.Context, addr netip.AddrPort) (*net.UDPConn, error) {
	pc, err := ListenConfig().ListenPacket(ctx, "udp", addr.String())
	if err != nil {
		return nil, h323errors.Wrap("listen udp "+addr.String(), h323errors.KindTransport, err)
	}
	return pc.(*net.UDPConn), nil
}

// ListenTCPRange открывает слушатель на первом свободном порту из диапазона
func ListenTCPRange(ctx context.Context, ip netip.Addr, r *PortRange) (*net.TCPListener, error) {
	var lastErr error
	for i := 0; i < r.Size(); i++ {
		ln, err := ListenTCP(ctx, netip.AddrPortFrom(ip, uint16(r.Next())))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, h323errors.Wrap("listen tcp range "+r.String(), h323errors.KindResource,
		fmt.Errorf("%w: %v", h323errors.ErrNoPortAvailable, lastErr))
}

// ListenUDPPair открывает пару RTP/RTCP сокетов на соседних портах
func ListenUDPPair(ctx context.Context, ip netip.Addr, r *PortRange) (rtp, rtcp *net.UDPConn, err error) {
	for i := 0; i < r.Size()/2+1; i++ {
		p1, p2 := r.NextEven()
		rtp, err = ListenUDP(ctx, netip.AddrPortFrom(ip, uint16(p1)))
		if err != nil {
			continue
		}
		rtcp, err = ListenUDP(ctx, netip.AddrPortFrom(ip, uint16(p2)))
		if err != nil {
			rtp.Close()
			continue
		}
		return rtp, rtcp, nil
	}
	return nil, nil, h323errors.Wrap("listen udp range "+r.String(), h323errors.KindResource,
		fmt.Errorf("%w: %v", h323errors.ErrNoPortAvailable, err))
}

// DialTCP соединяется с remote, привязывая локальный порт из диапазона.
// r может быть nil, тогда порт выбирает система.
func DialTCP(ctx context.Context, local netip.Addr, r *PortRange, remote netip.AddrPort) (*net.TCPConn, error) {
	attempts := 1
	if r != nil {
		attempts = r.Size()
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		d := net.Dialer{Control: reuseAddrControl}
		if r != nil || local.IsValid() {
			port := 0
			if r != nil {
				port = r.Next()
			}
			d.LocalAddr = net.TCPAddrFromAddrPort(netip.AddrPortFrom(local, uint16(port)))
		}
		conn, err := d.DialContext(ctx, "tcp", remote.String())
		if err == nil {
			return conn.(*net.TCPConn), nil
		}
		lastErr = err
		if !isAddrInUse(err) {
			break
		}
	}
	return nil, h323errors.Wrap("dial tcp "+remote.String(), h323errors.KindTransport, lastErr)
}

func isAddrInUse(err error) bool {
	return stderrors.Is(err, syscall.EADDRINUSE)
}

// SetTOS выставляет TOS на сокете
func SetTOS(conn syscall.Conn, tos int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) { sockErr = setSockOptTOS(fd, tos) }); err != nil {
		return err
	}
	return sockErr
}

// LocalAddrPort адрес сокета в виде netip.AddrPort без IPv4-mapped формы
func LocalAddrPort(a net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch v := a.(type) {
	case *net.TCPAddr:
		ap = v.AddrPort()
	case *net.UDPAddr:
		ap = v.AddrPort()
	default:
		ap, _ = netip.ParseAddrPort(a.String())
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
