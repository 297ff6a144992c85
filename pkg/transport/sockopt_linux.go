//go:build linux

package transport

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// setVoiceSockOpts применяет Linux-специфичные оптимизации сокета для
// голосового трафика: DSCP маркировку EF, повышенный приоритет и
// увеличенные буферы. Недоступность отдельных опций (контейнеры,
// ограниченные capabilities) не считается ошибкой.
func setVoiceSockOpts(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	return rawConn.Control(func(fd uintptr) {
		f := int(fd)

		// DSCP EF в старших 6 битах TOS поля
		tos := DSCPExpeditedForwarding << 2
		_ = syscall.SetsockoptInt(f, syscall.IPPROTO_IP, syscall.IP_TOS, tos)
		_ = syscall.SetsockoptInt(f, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

		// Приоритет интерактивного аудио
		_ = syscall.SetsockoptInt(f, syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)

		// Буферы на ~3 секунды G.711 для сглаживания пиков
		_ = syscall.SetsockoptInt(f, syscall.SOL_SOCKET, syscall.SO_RCVBUF, 65535)
		_ = syscall.SetsockoptInt(f, syscall.SOL_SOCKET, syscall.SO_SNDBUF, 65535)
	})
}
