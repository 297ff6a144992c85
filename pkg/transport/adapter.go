// Package transport содержит протоколо-специфичные адаптеры ввода/вывода
// медиа потоков: сырой пакетный сокет для телефонных шлюзов (UDP/DTLS)
// и message-framed адаптер для WebSocket медиа стримов.
//
// Все адаптеры нормализуют входящие данные к packet.RawPacket перед
// передачей в jitter buffer, поэтому аудио мост не зависит от транспорта.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/arzzra/voice_bridge/pkg/packet"
)

// timeNow абстрагирует источник времени для тестов
var timeNow = time.Now

// Adapter определяет единый интерфейс транспорта медиа потока.
// Реализуется пакетным сокетом (UDPAdapter, DTLSAdapter) и
// message-framed WebSocket адаптером (StreamAdapter).
type Adapter interface {
	// Receive блокирует до получения следующего пакета или отмены контекста.
	// Невалидные данные отбрасываются внутри со счетчиком и не прерывают прием.
	Receive(ctx context.Context) (*packet.RawPacket, error)

	// Send отправляет пакет
	Send(p *packet.RawPacket) error

	// LocalAddr возвращает локальный адрес транспорта
	LocalAddr() net.Addr

	// IsActive проверяет активность транспорта
	IsActive() bool

	// Close закрывает транспорт. Идемпотентен.
	Close() error
}

// Config базовая конфигурация транспортного адаптера
type Config struct {
	LocalAddr   string        // Локальный адрес для привязки
	RemoteAddr  string        // Удаленный адрес для отправки (опционально)
	BufferSize  int           // Размер буфера чтения
	ReadTimeout time.Duration // Таймаут одного чтения (для проверки контекста)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		BufferSize:  1500, // Стандартный MTU
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Statistics статистика транспортного адаптера.
// Невалидные пакеты не теряются молча: они учитываются в MalformedDropped.
type Statistics struct {
	PacketsReceived  uint64
	PacketsSent      uint64
	BytesReceived    uint64
	BytesSent        uint64
	MalformedDropped uint64
}
