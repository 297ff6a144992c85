package packet

import "time"

// PayloadType определяет тип кодека аудио полезной нагрузки согласно RFC 3551
type PayloadType uint8

const (
	PayloadTypePCMU PayloadType = 0 // G.711 μ-law, 8000 Hz
	PayloadTypePCMA PayloadType = 8 // G.711 A-law, 8000 Hz
	PayloadTypeG722 PayloadType = 9 // G.722, 16000 Hz аудио, 8000 Hz RTP clock
)

func (pt PayloadType) String() string {
	switch pt {
	case PayloadTypePCMU:
		return "PCMU"
	case PayloadTypePCMA:
		return "PCMA"
	case PayloadTypeG722:
		return "G722"
	default:
		return "unknown"
	}
}

// Supported проверяет, поддерживается ли payload type этим стеком
func (pt PayloadType) Supported() bool {
	switch pt {
	case PayloadTypePCMU, PayloadTypePCMA, PayloadTypeG722:
		return true
	default:
		return false
	}
}

// ClockRate возвращает частоту RTP clock для payload типа
func (pt PayloadType) ClockRate() uint32 {
	// Все телефонные типы используют 8000 Hz RTP clock,
	// включая G.722 (историческая ошибка RFC 3551, закрепленная стандартом)
	return 8000
}

// SampleRate возвращает частоту дискретизации аудио для payload типа
func (pt PayloadType) SampleRate() uint32 {
	if pt == PayloadTypeG722 {
		return 16000
	}
	return 8000
}

// Header содержит разобранный заголовок транспортного пакета.
// Поля соответствуют фиксированному RTP заголовку (RFC 3550):
// sequence number с переполнением по модулю 2^16, монотонный timestamp
// в единицах RTP clock и идентификатор источника потока (SSRC).
type Header struct {
	SequenceNumber uint16
	Timestamp      uint32
	PayloadType    PayloadType
	Marker         bool
	SSRC           uint32
}

// RawPacket представляет один пакет транспортного формата: заголовок
// плюс непрозрачная полезная нагрузка. После декодирования пакет
// не изменяется; владение передается jitter buffer при приеме.
type RawPacket struct {
	Header  Header
	Payload []byte

	// ArrivalTime заполняется транспортным адаптером при приеме
	ArrivalTime time.Time
}

// Clone возвращает глубокую копию пакета
func (p *RawPacket) Clone() *RawPacket {
	payload := make([]byte, len(p.Payload))
	copy(payload, p.Payload)
	return &RawPacket{
		Header:      p.Header,
		Payload:     payload,
		ArrivalTime: p.ArrivalTime,
	}
}
