package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/packet"
)

// ControlHandler получает управляющие сообщения медиа стрима.
// start/stop управляют жизненным циклом сессии звонка, mark и dtmf
// доставляются наблюдателям.
type ControlHandler interface {
	OnStreamStart(msg *StartMessage)
	OnStreamStop(msg *StopMessage)
	OnStreamMark(name string)
	OnStreamDTMF(digit string)
}

// StreamAdapterConfig конфигурация message-framed адаптера
type StreamAdapterConfig struct {
	// QueueSize глубина очереди входящих пакетов до jitter buffer
	QueueSize int
}

// DefaultStreamAdapterConfig возвращает конфигурацию по умолчанию
func DefaultStreamAdapterConfig() StreamAdapterConfig {
	return StreamAdapterConfig{QueueSize: 32}
}

// StreamAdapter реализует Adapter поверх WebSocket медиа стрима.
// Управляющие сообщения (start/stop/mark/dtmf) передаются в
// ControlHandler; аудио сообщения нормализуются к packet.RawPacket:
// мост работает со стримом так же, как с пакетным сокетом.
type StreamAdapter struct {
	conn    *websocket.Conn
	config  StreamAdapterConfig
	handler ControlHandler

	streamID    string
	payloadType packet.PayloadType
	ssrc        uint32

	recvQueue chan *packet.RawPacket
	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
	mutex   sync.RWMutex
	active  bool
	stats   Statistics

	log *logrus.Entry
}

// NewStreamAdapter создает адаптер на принятом WebSocket соединении
// и запускает цикл чтения. handler может быть nil, если управляющие
// сообщения не нужны.
func NewStreamAdapter(conn *websocket.Conn, config StreamAdapterConfig, handler ControlHandler) *StreamAdapter {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultStreamAdapterConfig().QueueSize
	}

	a := &StreamAdapter{
		conn:        conn,
		config:      config,
		handler:     handler,
		payloadType: packet.PayloadTypePCMU,
		recvQueue:   make(chan *packet.RawPacket, config.QueueSize),
		done:        make(chan struct{}),
		active:      true,
		log: logrus.WithFields(logrus.Fields{
			"component": "stream_adapter",
			"remote":    conn.RemoteAddr().String(),
		}),
	}

	go a.readLoop()
	return a
}

// readLoop читает и демультиплексирует сообщения стрима
func (a *StreamAdapter) readLoop() {
	defer a.Close()

	for {
		var msg StreamMessage
		if err := a.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.log.WithError(err).Warn("соединение стрима разорвано")
			}
			return
		}

		switch msg.Type {
		case MessageTypeStart:
			a.handleStart(&msg)
		case MessageTypeMedia:
			a.handleMedia(&msg)
		case MessageTypeStop:
			if msg.Stop != nil && a.handler != nil {
				a.handler.OnStreamStop(msg.Stop)
			}
			return
		case MessageTypeMark:
			if msg.Mark != nil && a.handler != nil {
				a.handler.OnStreamMark(msg.Mark.Name)
			}
		case MessageTypeDTMF:
			if msg.DTMF != nil && a.handler != nil {
				a.handler.OnStreamDTMF(msg.DTMF.Digit)
			}
		default:
			a.countMalformed("неизвестный тип сообщения " + msg.Type)
		}
	}
}

func (a *StreamAdapter) handleStart(msg *StreamMessage) {
	if msg.Start == nil {
		a.countMalformed("start без тела")
		return
	}

	pt, err := PayloadTypeForEncoding(msg.Start.MediaFormat.Encoding)
	if err != nil {
		a.countMalformed(err.Error())
		return
	}

	a.mutex.Lock()
	a.streamID = msg.Start.StreamID
	a.payloadType = pt
	a.mutex.Unlock()

	a.log = a.log.WithField("stream_id", msg.Start.StreamID)
	a.log.WithField("encoding", msg.Start.MediaFormat.Encoding).Info("медиа стрим начат")

	if a.handler != nil {
		a.handler.OnStreamStart(msg.Start)
	}
}

func (a *StreamAdapter) handleMedia(msg *StreamMessage) {
	if msg.Media == nil {
		a.countMalformed("media без тела")
		return
	}

	payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		a.countMalformed("невалидный base64 в media")
		return
	}
	if len(payload) == 0 {
		a.countMalformed("пустой payload в media")
		return
	}

	a.mutex.RLock()
	pt := a.payloadType
	ssrc := a.ssrc
	a.mutex.RUnlock()

	p := &packet.RawPacket{
		Header: packet.Header{
			SequenceNumber: msg.Media.Sequence,
			Timestamp:      msg.Media.Timestamp,
			PayloadType:    pt,
			SSRC:           ssrc,
		},
		Payload:     payload,
		ArrivalTime: timeNow(),
	}

	a.mutex.Lock()
	a.stats.PacketsReceived++
	a.stats.BytesReceived += uint64(len(payload))
	a.mutex.Unlock()

	select {
	case a.recvQueue <- p:
	default:
		// Потребитель отстает: отбрасываем со счетчиком, не блокируем
		// цикл чтения управляющих сообщений
		a.countMalformed("очередь приема переполнена")
	}
}

func (a *StreamAdapter) countMalformed(reason string) {
	a.mutex.Lock()
	a.stats.MalformedDropped++
	a.mutex.Unlock()
	a.log.WithField("reason", reason).Debug("сообщение стрима отброшено")
}

// Receive возвращает следующий нормализованный пакет стрима
func (a *StreamAdapter) Receive(ctx context.Context) (*packet.RawPacket, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, net.ErrClosed
	case p := <-a.recvQueue:
		return p, nil
	}
}

// Send упаковывает пакет в media сообщение и отправляет в стрим
func (a *StreamAdapter) Send(p *packet.RawPacket) error {
	if !a.IsActive() {
		return net.ErrClosed
	}

	a.mutex.RLock()
	streamID := a.streamID
	a.mutex.RUnlock()

	msg := StreamMessage{
		Type:     MessageTypeMedia,
		StreamID: streamID,
		Media: &MediaMessage{
			Sequence:  p.Header.SequenceNumber,
			Timestamp: p.Header.Timestamp,
			Payload:   base64.StdEncoding.EncodeToString(p.Payload),
		},
	}

	a.writeMu.Lock()
	err := a.conn.WriteJSON(&msg)
	a.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("ошибка записи в стрим: %w", err)
	}

	a.mutex.Lock()
	a.stats.PacketsSent++
	a.stats.BytesSent += uint64(len(p.Payload))
	a.mutex.Unlock()

	return nil
}

// SendMark отправляет маркер синхронизации воспроизведения
func (a *StreamAdapter) SendMark(name string) error {
	if !a.IsActive() {
		return net.ErrClosed
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(&StreamMessage{
		Type: MessageTypeMark,
		Mark: &MarkMessage{Name: name},
	})
}

// StreamID возвращает идентификатор стрима из start сообщения
func (a *StreamAdapter) StreamID() string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.streamID
}

// PayloadType возвращает кодек стрима
func (a *StreamAdapter) PayloadType() packet.PayloadType {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.payloadType
}

// LocalAddr возвращает локальный адрес соединения
func (a *StreamAdapter) LocalAddr() net.Addr {
	return a.conn.LocalAddr()
}

// IsActive проверяет активность адаптера
func (a *StreamAdapter) IsActive() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.active
}

// GetStatistics возвращает снимок статистики
func (a *StreamAdapter) GetStatistics() Statistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.stats
}

// Close закрывает адаптер и WebSocket соединение. Идемпотентен.
func (a *StreamAdapter) Close() error {
	a.closeOnce.Do(func() {
		a.mutex.Lock()
		a.active = false
		a.mutex.Unlock()
		close(a.done)
		_ = a.conn.Close()
	})
	return nil
}
