package transport

import (
	"fmt"

	"github.com/arzzra/voice_bridge/pkg/packet"
)

// Типы сообщений message-framed транспорта медиа стримов
const (
	MessageTypeStart = "start"
	MessageTypeMedia = "media"
	MessageTypeStop  = "stop"
	MessageTypeMark  = "mark"
	MessageTypeDTMF  = "dtmf"
)

// StreamMessage обертка сообщения медиа стрима с дискриминатором типа
type StreamMessage struct {
	Type     string        `json:"type"`
	StreamID string        `json:"streamId,omitempty"`
	Start    *StartMessage `json:"start,omitempty"`
	Media    *MediaMessage `json:"media,omitempty"`
	Stop     *StopMessage  `json:"stop,omitempty"`
	Mark     *MarkMessage  `json:"mark,omitempty"`
	DTMF     *DTMFMessage  `json:"dtmf,omitempty"`
}

// StartMessage метаданные начала стрима, управляет переходами
// состояния сессии звонка
type StartMessage struct {
	CallID       string            `json:"callId"`
	StreamID     string            `json:"streamId"`
	MediaFormat  MediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat описание кодирования аудио в стриме
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaMessage несет кодированное аудио с sequence/timestamp
type MediaMessage struct {
	Sequence  uint16 `json:"sequence"`
	Timestamp uint32 `json:"timestamp"`
	Payload   string `json:"payload"` // Base64 кодированное аудио
}

// StopMessage метаданные завершения стрима
type StopMessage struct {
	CallID string `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// MarkMessage маркер синхронизации воспроизведения
type MarkMessage struct {
	Name string `json:"name"`
}

// DTMFMessage цифра DTMF, полученная из телефонной сети
type DTMFMessage struct {
	Digit string `json:"digit"`
}

// Имена кодирований в MediaFormat
const (
	EncodingPCMU = "audio/x-mulaw"
	EncodingPCMA = "audio/x-alaw"
	EncodingG722 = "audio/g722"
)

// PayloadTypeForEncoding сопоставляет имя кодирования payload типу
func PayloadTypeForEncoding(encoding string) (packet.PayloadType, error) {
	switch encoding {
	case EncodingPCMU, "":
		return packet.PayloadTypePCMU, nil
	case EncodingPCMA:
		return packet.PayloadTypePCMA, nil
	case EncodingG722:
		return packet.PayloadTypeG722, nil
	default:
		return 0, fmt.Errorf("неизвестное кодирование %q", encoding)
	}
}

// EncodingForPayloadType обратное сопоставление
func EncodingForPayloadType(pt packet.PayloadType) string {
	switch pt {
	case packet.PayloadTypePCMA:
		return EncodingPCMA
	case packet.PayloadTypeG722:
		return EncodingG722
	default:
		return EncodingPCMU
	}
}
