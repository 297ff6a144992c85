//go:build windows

package transport

import "net"

// setVoiceSockOpts на Windows QoS настраивается через qWAVE API,
// а не через опции сокета; здесь достаточно буферов по умолчанию
func setVoiceSockOpts(conn *net.UDPConn) error {
	return nil
}
