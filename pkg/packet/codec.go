package packet

import (
	"fmt"

	"github.com/pion/rtp"
)

// Константы для валидации пакетов согласно RFC 3550
const (
	// MinPacketSize минимальный размер пакета (фиксированный заголовок)
	MinPacketSize = 12
	// MaxPacketSize максимальный размер пакета (MTU limit)
	MaxPacketSize = 1500
	// ExpectedVersion версия протокола согласно RFC 3550
	ExpectedVersion = 2
)

// Codec кодирует и декодирует пакеты транспортного формата.
// Декодирование валидирует минимальную длину заголовка, версию протокола
// и поддерживаемый payload type; невалидные данные возвращают типизированную
// ошибку *MalformedPacketError. Гарантируется round-trip свойство:
// Decode(Encode(p)) == p для всех валидных пакетов.
//
// Сериализация выполняется через pion/rtp, порядок байт и ширина полей
// побитово совпадают с ожиданиями телефонного шлюза.
type Codec struct{}

// NewCodec создает новый кодек пакетов
func NewCodec() *Codec {
	return &Codec{}
}

// Decode разбирает байты в RawPacket.
// Возвращает *MalformedPacketError если данные не являются валидным пакетом.
func (c *Codec) Decode(data []byte) (*RawPacket, error) {
	if len(data) < MinPacketSize {
		return nil, newMalformedError(
			fmt.Sprintf("размер меньше минимального заголовка %d", MinPacketSize),
			len(data), nil)
	}
	if len(data) > MaxPacketSize {
		return nil, newMalformedError(
			fmt.Sprintf("размер превышает MTU %d", MaxPacketSize),
			len(data), nil)
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, newMalformedError("ошибка разбора заголовка", len(data), err)
	}

	if pkt.Version != ExpectedVersion {
		return nil, newMalformedError(
			fmt.Sprintf("версия протокола %d, ожидается %d", pkt.Version, ExpectedVersion),
			len(data), nil)
	}

	pt := PayloadType(pkt.PayloadType)
	if !pt.Supported() {
		return nil, newMalformedError(
			fmt.Sprintf("неподдерживаемый payload type %d", pkt.PayloadType),
			len(data), nil)
	}

	// Копируем payload: буфер приема переиспользуется транспортом
	payload := make([]byte, len(pkt.Payload))
	copy(payload, pkt.Payload)

	return &RawPacket{
		Header: Header{
			SequenceNumber: pkt.SequenceNumber,
			Timestamp:      pkt.Timestamp,
			PayloadType:    pt,
			Marker:         pkt.Marker,
			SSRC:           pkt.SSRC,
		},
		Payload: payload,
	}, nil
}

// Encode сериализует RawPacket в байты проводного формата
func (c *Codec) Encode(p *RawPacket) ([]byte, error) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        ExpectedVersion,
			Marker:         p.Header.Marker,
			PayloadType:    uint8(p.Header.PayloadType),
			SequenceNumber: p.Header.SequenceNumber,
			Timestamp:      p.Header.Timestamp,
			SSRC:           p.Header.SSRC,
		},
		Payload: p.Payload,
	}

	data, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга пакета: %w", err)
	}
	return data, nil
}

// SeqDistance вычисляет знаковое расстояние между sequence numbers
// с учетом переполнения по модулю 2^16. Интерпретация разности как
// знакового 16-битного числа отличает wrap-around от большого реордеринга:
// SeqDistance(0, 65535) == +1, а не -65535.
func SeqDistance(seq, last uint16) int {
	return int(int16(seq - last))
}

// SeqNewer проверяет, является ли seq новее last (с учетом wrap-around)
func SeqNewer(seq, last uint16) bool {
	return SeqDistance(seq, last) > 0
}
