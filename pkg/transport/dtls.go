package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/packet"
)

// DTLSConfig конфигурация защищенного пакетного адаптера
type DTLSConfig struct {
	Config

	Certificates       []tls.Certificate
	InsecureSkipVerify bool
	ServerName         string
	HandshakeTimeout   time.Duration
	MTU                int

	// Server true - ждать входящее рукопожатие, false - инициировать
	Server bool
}

// DefaultDTLSConfig возвращает конфигурацию DTLS по умолчанию
func DefaultDTLSConfig() DTLSConfig {
	return DTLSConfig{
		Config:           DefaultConfig(),
		HandshakeTimeout: 30 * time.Second,
		MTU:              1200,
	}
}

// DTLSAdapter реализует Adapter поверх DTLS соединения: то же пакетное
// кадрирование, что у UDPAdapter, но с шифрованием медиа до шлюза.
type DTLSAdapter struct {
	conn   *dtls.Conn
	config DTLSConfig
	codec  *packet.Codec

	active bool
	mutex  sync.RWMutex
	stats  Statistics

	log *logrus.Entry
}

// NewDTLSAdapter устанавливает DTLS сессию и возвращает адаптер.
// Рукопожатие ограничено HandshakeTimeout.
func NewDTLSAdapter(config DTLSConfig) (*DTLSAdapter, error) {
	if config.BufferSize == 0 {
		config.BufferSize = 1500
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 30 * time.Second
	}
	if config.MTU == 0 {
		config.MTU = 1200
	}

	dtlsConfig := &dtls.Config{
		Certificates:       config.Certificates,
		InsecureSkipVerify: config.InsecureSkipVerify,
		ServerName:         config.ServerName,
		MTU:                config.MTU,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), config.HandshakeTimeout)
		},
	}

	var conn *dtls.Conn
	var err error

	if config.Server {
		localAddr, rerr := net.ResolveUDPAddr("udp", config.LocalAddr)
		if rerr != nil {
			return nil, fmt.Errorf("ошибка разрешения локального адреса: %w", rerr)
		}
		listener, lerr := dtls.Listen("udp", localAddr, dtlsConfig)
		if lerr != nil {
			return nil, fmt.Errorf("ошибка создания DTLS listener: %w", lerr)
		}
		rawConn, aerr := listener.Accept()
		_ = listener.Close()
		if aerr != nil {
			return nil, fmt.Errorf("ошибка DTLS accept: %w", aerr)
		}
		conn = rawConn.(*dtls.Conn)
	} else {
		remoteAddr, rerr := net.ResolveUDPAddr("udp", config.RemoteAddr)
		if rerr != nil {
			return nil, fmt.Errorf("ошибка разрешения удаленного адреса: %w", rerr)
		}
		conn, err = dtls.Dial("udp", remoteAddr, dtlsConfig)
		if err != nil {
			return nil, fmt.Errorf("ошибка DTLS рукопожатия: %w", err)
		}
	}

	return &DTLSAdapter{
		conn:   conn,
		config: config,
		codec:  packet.NewCodec(),
		active: true,
		log: logrus.WithFields(logrus.Fields{
			"component": "dtls_adapter",
			"local":     conn.LocalAddr().String(),
		}),
	}, nil
}

// Receive блокирует до получения валидного пакета или отмены контекста
func (a *DTLSAdapter) Receive(ctx context.Context) (*packet.RawPacket, error) {
	buf := make([]byte, a.config.BufferSize)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !a.IsActive() {
			return nil, net.ErrClosed
		}

		if err := a.conn.SetReadDeadline(timeNow().Add(a.config.ReadTimeout)); err != nil {
			return nil, err
		}

		n, err := a.conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return nil, err
		}

		p, err := a.codec.Decode(buf[:n])
		if err != nil {
			var malformed *packet.MalformedPacketError
			if errors.As(err, &malformed) {
				a.mutex.Lock()
				a.stats.MalformedDropped++
				a.mutex.Unlock()
				a.log.WithError(err).Debug("невалидный DTLS payload отброшен")
				continue
			}
			return nil, err
		}
		p.ArrivalTime = timeNow()

		a.mutex.Lock()
		a.stats.PacketsReceived++
		a.stats.BytesReceived += uint64(n)
		a.mutex.Unlock()

		return p, nil
	}
}

// Send кодирует и отправляет пакет через DTLS сессию
func (a *DTLSAdapter) Send(p *packet.RawPacket) error {
	if !a.IsActive() {
		return net.ErrClosed
	}

	data, err := a.codec.Encode(p)
	if err != nil {
		return fmt.Errorf("ошибка кодирования пакета: %w", err)
	}

	n, err := a.conn.Write(data)
	if err != nil {
		return fmt.Errorf("ошибка записи DTLS: %w", err)
	}

	a.mutex.Lock()
	a.stats.PacketsSent++
	a.stats.BytesSent += uint64(n)
	a.mutex.Unlock()

	return nil
}

// LocalAddr возвращает локальный адрес соединения
func (a *DTLSAdapter) LocalAddr() net.Addr {
	return a.conn.LocalAddr()
}

// IsActive проверяет активность адаптера
func (a *DTLSAdapter) IsActive() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.active
}

// GetStatistics возвращает снимок статистики
func (a *DTLSAdapter) GetStatistics() Statistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.stats
}

// Close закрывает DTLS сессию. Идемпотентен.
func (a *DTLSAdapter) Close() error {
	a.mutex.Lock()
	if !a.active {
		a.mutex.Unlock()
		return nil
	}
	a.active = false
	a.mutex.Unlock()

	return a.conn.Close()
}
