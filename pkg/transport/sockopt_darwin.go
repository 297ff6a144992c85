//go:build darwin

package transport

import (
	"net"
	"syscall"
)

// setVoiceSockOpts применяет доступные на macOS оптимизации сокета.
// SO_PRIORITY отсутствует, используется только TOS и буферы.
func setVoiceSockOpts(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	return rawConn.Control(func(fd uintptr) {
		f := int(fd)

		tos := DSCPExpeditedForwarding << 2
		_ = syscall.SetsockoptInt(f, syscall.IPPROTO_IP, syscall.IP_TOS, tos)

		_ = syscall.SetsockoptInt(f, syscall.SOL_SOCKET, syscall.SO_RCVBUF, 65535)
		_ = syscall.SetsockoptInt(f, syscall.SOL_SOCKET, syscall.SO_SNDBUF, 65535)
	})
}
