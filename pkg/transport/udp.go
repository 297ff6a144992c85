package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/packet"
)

// DSCP значения для QoS классификации согласно RFC 4594
const (
	// DSCPExpeditedForwarding EF (101110) для интерактивного аудио
	DSCPExpeditedForwarding = 46
)

// UDPAdapter реализует Adapter для сырого пакетного сокета телефонного
// шлюза. Оптимизирован для телефонии: голосовые опции сокета (DSCP,
// приоритет), короткие таймауты чтения, drop-and-count для невалидных
// датаграмм.
type UDPAdapter struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     Config
	codec      *packet.Codec

	active bool
	mutex  sync.RWMutex
	stats  Statistics

	log *logrus.Entry
}

// NewUDPAdapter создает пакетный адаптер на UDP сокете
func NewUDPAdapter(config Config) (*UDPAdapter, error) {
	if config.BufferSize == 0 {
		config.BufferSize = 1500
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultConfig().ReadTimeout
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения локального адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	// Голосовые оптимизации сокета, недоступность не критична
	if err := setVoiceSockOpts(conn); err != nil {
		logrus.WithError(err).Debug("голосовые опции сокета недоступны")
	}

	a := &UDPAdapter{
		conn:   conn,
		config: config,
		codec:  packet.NewCodec(),
		active: true,
		log: logrus.WithFields(logrus.Fields{
			"component": "udp_adapter",
			"local":     conn.LocalAddr().String(),
		}),
	}

	if config.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ошибка разрешения удаленного адреса: %w", err)
		}
		a.remoteAddr = remoteAddr
	}

	return a, nil
}

// Receive блокирует до получения валидного пакета или отмены контекста.
// Невалидные датаграммы отбрасываются со счетчиком: транспортная ошибка
// восстанавливается локально и не попадает в критический путь.
func (a *UDPAdapter) Receive(ctx context.Context) (*packet.RawPacket, error) {
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

		// Короткий дедлайн, чтобы регулярно проверять контекст
		deadline := a.config.ReadTimeout
		if err := a.conn.SetReadDeadline(timeNow().Add(deadline)); err != nil {
			return nil, err
		}

		n, addr, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return nil, err
		}

		// Запоминаем адрес источника при symmetric media
		if a.remoteAddr == nil && addr != nil {
			a.mutex.Lock()
			a.remoteAddr = addr
			a.mutex.Unlock()
		}

		p, err := a.codec.Decode(buf[:n])
		if err != nil {
			var malformed *packet.MalformedPacketError
			if errors.As(err, &malformed) {
				a.mutex.Lock()
				a.stats.MalformedDropped++
				a.mutex.Unlock()
				a.log.WithError(err).Debug("невалидная датаграмма отброшена")
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

// Send кодирует и отправляет пакет шлюзу
func (a *UDPAdapter) Send(p *packet.RawPacket) error {
	a.mutex.RLock()
	active := a.active
	remoteAddr := a.remoteAddr
	a.mutex.RUnlock()

	if !active {
		return net.ErrClosed
	}
	if remoteAddr == nil {
		return fmt.Errorf("удаленный адрес не установлен")
	}

	data, err := a.codec.Encode(p)
	if err != nil {
		return fmt.Errorf("ошибка кодирования пакета: %w", err)
	}

	n, err := a.conn.WriteToUDP(data, remoteAddr)
	if err != nil {
		return fmt.Errorf("ошибка записи UDP: %w", err)
	}

	a.mutex.Lock()
	a.stats.PacketsSent++
	a.stats.BytesSent += uint64(n)
	a.mutex.Unlock()

	return nil
}

// LocalAddr возвращает локальный адрес сокета
func (a *UDPAdapter) LocalAddr() net.Addr {
	return a.conn.LocalAddr()
}

// IsActive проверяет активность адаптера
func (a *UDPAdapter) IsActive() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.active
}

// GetStatistics возвращает снимок статистики
func (a *UDPAdapter) GetStatistics() Statistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.stats
}

// Close закрывает сокет. Идемпотентен.
func (a *UDPAdapter) Close() error {
	a.mutex.Lock()
	if !a.active {
		a.mutex.Unlock()
		return nil
	}
	a.active = false
	a.mutex.Unlock()

	return a.conn.Close()
}
