//go:build unix

package transport

import (
	"golang.org/x/sys/unix"
)

// setSockOptReuseAddr включает SO_REUSEADDR: перезапуск не ждет TIME_WAIT на 1720
func setSockOptReuseAddr(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// setSockOptTOS маркирует трафик полем TOS (IPv4) и traffic class (IPv6)
func setSockOptTOS(fd uintptr, tos int) error {
	if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return err
	}
	// IPv6 сокет может отсутствовать, ошибку не учитываем
	unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
