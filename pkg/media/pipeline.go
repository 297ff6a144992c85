package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/packet"
)

// PipelineConfig содержит конфигурацию кодек-конвейера одной ноги
type PipelineConfig struct {
	PayloadType   packet.PayloadType // Телефонный кодек ноги
	CanonicalRate uint32             // Частота канонического PCM для AI конвейера
	Channels      int                // Количество каналов (1 для телефонии)
}

// DefaultPipelineConfig возвращает конфигурацию по умолчанию:
// G.711 μ-law нога, канонический PCM 16 kHz
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PayloadType:   packet.PayloadTypePCMU,
		CanonicalRate: 16000,
		Channels:      1,
	}
}

// Pipeline выполняет двунаправленное транскодирование между телефонным
// кодеком ноги (G.711 μ-law/A-law, G.722) и каноническим 16-битным
// линейным PCM на частоте AI конвейера, включая преобразование частоты
// дискретизации.
//
// Неподдерживаемый кодек - ошибка конфигурации, обнаруживаемая при
// создании конвейера, а не при обработке фрейма.
type Pipeline struct {
	config PipelineConfig

	// Кодек G.722 stateful, по экземпляру на направление
	g722Enc *G722Encoder
	g722Dec *G722Decoder

	// Ресемплеры: телефонная частота <-> каноническая, по направлению
	toCanonical   *Resampler
	fromCanonical *Resampler

	// Счетчики конверсий
	decodeCount uint64
	encodeCount uint64
	mutex       sync.Mutex

	log *logrus.Entry
}

// NewPipeline создает кодек-конвейер. Возвращает ошибку для
// неподдерживаемого кодека или невалидной частоты.
func NewPipeline(config PipelineConfig) (*Pipeline, error) {
	if config.Channels == 0 {
		config.Channels = 1
	}
	if config.CanonicalRate == 0 {
		config.CanonicalRate = 16000
	}

	if !config.PayloadType.Supported() {
		return nil, NewMediaError(ErrorCodeCodecUnsupported,
			fmt.Sprintf("кодек %d не поддерживается конвейером", uint8(config.PayloadType)))
	}

	codecRate := config.PayloadType.SampleRate()

	toCanonical, err := NewResampler(codecRate, config.CanonicalRate)
	if err != nil {
		return nil, err
	}
	fromCanonical, err := NewResampler(config.CanonicalRate, codecRate)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:        config,
		toCanonical:   toCanonical,
		fromCanonical: fromCanonical,
		log: logrus.WithFields(logrus.Fields{
			"component": "codec_pipeline",
			"codec":     config.PayloadType.String(),
		}),
	}

	if config.PayloadType == packet.PayloadTypeG722 {
		p.g722Enc = NewG722Encoder()
		p.g722Dec = NewG722Decoder()
	}

	p.log.WithFields(logrus.Fields{
		"codec_rate":     codecRate,
		"canonical_rate": config.CanonicalRate,
	}).Debug("кодек конвейер создан")
	return p, nil
}

// Decode декодирует полезную нагрузку пакета в канонический PCM фрейм.
// PTS выводится из timestamp пакета в единицах RTP clock.
func (p *Pipeline) Decode(payload []byte, timestamp uint32) (*AudioFrame, error) {
	if len(payload) == 0 {
		return nil, NewMediaError(ErrorCodeFrameSizeInvalid, "пустая полезная нагрузка")
	}

	var samples []int16
	switch p.config.PayloadType {
	case packet.PayloadTypePCMU:
		samples = DecodeULawSamples(payload)
	case packet.PayloadTypePCMA:
		samples = DecodeALawSamples(payload)
	case packet.PayloadTypeG722:
		samples = p.g722Dec.Decode(payload)
	}

	frame := &AudioFrame{
		Samples:    samples,
		SampleRate: p.config.PayloadType.SampleRate(),
		Channels:   p.config.Channels,
		PTS:        time.Duration(timestamp) * time.Second / time.Duration(p.config.PayloadType.ClockRate()),
	}

	if frame.SampleRate != p.config.CanonicalRate {
		frame = p.toCanonical.ProcessFrame(frame)
	}

	p.mutex.Lock()
	p.decodeCount++
	p.mutex.Unlock()

	return frame, nil
}

// Encode кодирует канонический PCM фрейм в полезную нагрузку для
// телефонной ноги
func (p *Pipeline) Encode(frame *AudioFrame) ([]byte, error) {
	if len(frame.Samples) == 0 {
		return nil, NewMediaError(ErrorCodeFrameSizeInvalid, "пустой фрейм")
	}
	if frame.SampleRate != p.config.CanonicalRate {
		return nil, NewMediaError(ErrorCodeSampleRateInvalid,
			fmt.Sprintf("частота фрейма %d, ожидается каноническая %d",
				frame.SampleRate, p.config.CanonicalRate))
	}

	samples := frame.Samples
	codecRate := p.config.PayloadType.SampleRate()
	if frame.SampleRate != codecRate {
		samples = p.fromCanonical.Process(samples)
	}

	var payload []byte
	switch p.config.PayloadType {
	case packet.PayloadTypePCMU:
		payload = EncodeULawSamples(samples)
	case packet.PayloadTypePCMA:
		payload = EncodeALawSamples(samples)
	case packet.PayloadTypeG722:
		payload = p.g722Enc.Encode(samples)
	}

	p.mutex.Lock()
	p.encodeCount++
	p.mutex.Unlock()

	return payload, nil
}

// Resample приводит фрейм к указанной частоте дискретизации.
// Одноразовая операция вне потокового тракта: использует собственный
// ресемплер без сохранения фазы.
func (p *Pipeline) Resample(frame *AudioFrame, targetRate uint32) (*AudioFrame, error) {
	if frame.SampleRate == targetRate {
		return frame, nil
	}
	r, err := NewResampler(frame.SampleRate, targetRate)
	if err != nil {
		return nil, err
	}
	return r.ProcessFrame(frame), nil
}

// ConversionCounts возвращает количество выполненных декодирований
// и кодирований
func (p *Pipeline) ConversionCounts() (decoded, encoded uint64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.decodeCount, p.encodeCount
}

// PayloadType возвращает кодек конвейера
func (p *Pipeline) PayloadType() packet.PayloadType {
	return p.config.PayloadType
}

// CanonicalRate возвращает каноническую частоту дискретизации
func (p *Pipeline) CanonicalRate() uint32 {
	return p.config.CanonicalRate
}
