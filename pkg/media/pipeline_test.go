package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voice_bridge/pkg/packet"
)

// TestPipelineUnsupportedCodec проверяет, что неподдерживаемый кодек -
// ошибка конструирования, а не ошибка обработки фрейма
func TestPipelineUnsupportedCodec(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{
		PayloadType:   packet.PayloadType(42),
		CanonicalRate: 16000,
	})
	require.Error(t, err)

	var mediaErr *MediaError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, ErrorCodeCodecUnsupported, mediaErr.Code)
}

// TestPipelineDecodePCMU проверяет декодирование μ-law в канонический PCM
// с преобразованием частоты 8 kHz -> 16 kHz
func TestPipelineDecodePCMU(t *testing.T) {
	p, err := NewPipeline(PipelineConfig{
		PayloadType:   packet.PayloadTypePCMU,
		CanonicalRate: 16000,
	})
	require.NoError(t, err)

	// 20ms μ-law: 160 байт
	payload := EncodeULawSamples(makeTone(8000, 440, 0.020))

	frame, err := p.Decode(payload, 160)
	require.NoError(t, err)

	assert.Equal(t, uint32(16000), frame.SampleRate)
	assert.Equal(t, 320, len(frame.Samples), "160 отсчетов 8kHz -> 320 на 16kHz")
	assert.Equal(t, 20*time.Millisecond, frame.PTS, "PTS из timestamp 160 при clock 8000")
}

// TestPipelineEncodePCMA проверяет кодирование канонического PCM в A-law
func TestPipelineEncodePCMA(t *testing.T) {
	p, err := NewPipeline(PipelineConfig{
		PayloadType:   packet.PayloadTypePCMA,
		CanonicalRate: 16000,
	})
	require.NoError(t, err)

	frame := &AudioFrame{
		Samples:    makeTone(16000, 440, 0.020), // 320 отсчетов
		SampleRate: 16000,
		Channels:   1,
	}

	payload, err := p.Encode(frame)
	require.NoError(t, err)
	assert.Equal(t, 160, len(payload), "320 отсчетов 16kHz -> 160 байт A-law 8kHz")
}

// TestPipelineG722NoResample проверяет, что G.722 нога на канонической
// частоте 16 kHz не требует ресемплирования
func TestPipelineG722NoResample(t *testing.T) {
	p, err := NewPipeline(PipelineConfig{
		PayloadType:   packet.PayloadTypeG722,
		CanonicalRate: 16000,
	})
	require.NoError(t, err)

	frame, err := p.Decode(make([]byte, 160), 160)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), frame.SampleRate)
	assert.Equal(t, 320, len(frame.Samples))
}

// TestPipelineEncodeWrongRate проверяет отказ кодирования фрейма
// с неканонической частотой
func TestPipelineEncodeWrongRate(t *testing.T) {
	p, err := NewPipeline(DefaultPipelineConfig())
	require.NoError(t, err)

	frame := &AudioFrame{
		Samples:    make([]int16, 160),
		SampleRate: 44100,
		Channels:   1,
	}

	_, err = p.Encode(frame)
	require.Error(t, err)

	var mediaErr *MediaError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, ErrorCodeSampleRateInvalid, mediaErr.Code)
}

// TestPipelineConversionCounts проверяет учет количества конверсий
func TestPipelineConversionCounts(t *testing.T) {
	p, err := NewPipeline(DefaultPipelineConfig())
	require.NoError(t, err)

	payload := EncodeULawSamples(make([]int16, 160))
	_, err = p.Decode(payload, 0)
	require.NoError(t, err)
	_, err = p.Decode(payload, 160)
	require.NoError(t, err)

	decoded, encoded := p.ConversionCounts()
	assert.Equal(t, uint64(2), decoded)
	assert.Equal(t, uint64(0), encoded)
}

// TestPipelineEmptyPayload проверяет отказ на пустой полезной нагрузке
func TestPipelineEmptyPayload(t *testing.T) {
	p, err := NewPipeline(DefaultPipelineConfig())
	require.NoError(t, err)

	_, err = p.Decode(nil, 0)
	require.Error(t, err)
}

// TestEndToEndReorderScenario воспроизводит сквозной сценарий:
// пакеты с sequence numbers [100,101,103,102,104] (один переупорядочен)
// с 8 kHz μ-law нагрузкой известных отсчетов при глубине буфера 3.
// Ожидание: пять упорядоченных канонических PCM фреймов, 104 после 103,
// без concealment - разрыв внутри глубины буфера.
func TestEndToEndReorderScenario(t *testing.T) {
	jb, err := NewJitterBuffer(JitterBufferConfig{
		MinDepth:     1,
		MaxDepth:     10,
		TargetDepth:  3,
		TickInterval: time.Millisecond * 20,
		LossDeadline: time.Millisecond * 60,
		ClockRate:    8000,
	})
	require.NoError(t, err)
	defer jb.Stop()

	pipeline, err := NewPipeline(PipelineConfig{
		PayloadType:   packet.PayloadTypePCMU,
		CanonicalRate: 16000,
	})
	require.NoError(t, err)

	// Известные отсчеты: каждый пакет несет постоянный уровень,
	// маркированный своим sequence number
	knownSamples := func(seq uint16) []int16 {
		samples := make([]int16, 160)
		for i := range samples {
			samples[i] = DecodeULaw(EncodeULaw(int16(seq) * 100))
		}
		return samples
	}

	base := time.Now()
	order := []uint16{100, 101, 103, 102, 104}
	for i, seq := range order {
		pkt := &packet.RawPacket{
			Header: packet.Header{
				SequenceNumber: seq,
				Timestamp:      uint32(seq) * 160,
				PayloadType:    packet.PayloadTypePCMU,
				SSRC:           0xABCD,
			},
			Payload:     EncodeULawSamples(knownSamples(seq)),
			ArrivalTime: base.Add(time.Duration(i) * 2 * time.Millisecond),
		}
		require.NoError(t, jb.Put(pkt))
	}

	var frames []*AudioFrame
	var sequences []uint16
	for i := 0; i < 5; i++ {
		em := jb.Tick(base.Add(time.Duration(i) * 20 * time.Millisecond))
		require.NotNil(t, em, "тик %d должен выдать пакет", i)
		require.False(t, em.Concealed, "разрыв внутри глубины буфера не должен вызывать concealment")

		frame, err := pipeline.Decode(em.Packet.Payload, em.Packet.Header.Timestamp)
		require.NoError(t, err)
		frames = append(frames, frame)
		sequences = append(sequences, em.Packet.Header.SequenceNumber)
	}

	assert.Equal(t, []uint16{100, 101, 102, 103, 104}, sequences,
		"104 должен быть выдан после 103")

	// Проверяем содержимое: уровень каждого фрейма соответствует
	// своему sequence number (после companding round trip)
	for i, frame := range frames {
		expected := DecodeULaw(EncodeULaw(int16(sequences[i]) * 100))
		// Середина фрейма: края затронуты интерполяцией ресемплера
		assert.Equal(t, expected, frame.Samples[len(frame.Samples)/2],
			"фрейм %d должен нести отсчеты пакета %d", i, sequences[i])
	}

	stats := jb.GetStatistics()
	assert.Zero(t, stats.Concealed)
	assert.Equal(t, uint64(5), stats.PacketsEmitted)
}
