package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voice_bridge/pkg/media"
)

func makeFrame(start, count int, pts time.Duration) *media.AudioFrame {
	samples := make([]int16, count)
	for i := range samples {
		samples[i] = int16(start + i)
	}
	return &media.AudioFrame{
		Samples:    samples,
		SampleRate: 16000,
		Channels:   1,
		PTS:        pts,
	}
}

// TestRechunkerAccumulates проверяет накопление до полного кванта
func TestRechunkerAccumulates(t *testing.T) {
	// Квант 30ms при 16kHz = 480 отсчетов, вход 20ms фреймы по 320
	r := NewRechunker(16000, 1, 30*time.Millisecond)

	out := r.Push(makeFrame(0, 320, 0))
	assert.Nil(t, out, "одного 20ms фрейма недостаточно для 30ms кванта")
	assert.Equal(t, 320, r.Pending())

	out = r.Push(makeFrame(320, 320, 20*time.Millisecond))
	require.Len(t, out, 1)
	assert.Equal(t, 480, len(out[0].Samples))
	assert.Equal(t, 160, r.Pending())

	// Порядок отсчетов сквозь перенарезку сохранен
	for i, s := range out[0].Samples {
		assert.Equal(t, int16(i), s)
	}
	assert.Equal(t, time.Duration(0), out[0].PTS)
}

// TestRechunkerSplitsLargeFrame проверяет нарезку большого фрейма
func TestRechunkerSplitsLargeFrame(t *testing.T) {
	// Квант 10ms = 160 отсчетов, вход один 50ms фрейм
	r := NewRechunker(16000, 1, 10*time.Millisecond)

	out := r.Push(makeFrame(0, 800, 0))
	require.Len(t, out, 5)

	next := int16(0)
	for i, chunk := range out {
		assert.Equal(t, 160, len(chunk.Samples))
		assert.Equal(t, time.Duration(i)*10*time.Millisecond, chunk.PTS)
		for _, s := range chunk.Samples {
			assert.Equal(t, next, s)
			next++
		}
	}
	assert.Zero(t, r.Pending())
}

// TestRechunkerFlush проверяет выдачу неполного остатка
func TestRechunkerFlush(t *testing.T) {
	r := NewRechunker(16000, 1, 20*time.Millisecond)

	assert.Nil(t, r.Flush(), "пустой буфер - нет остатка")

	r.Push(makeFrame(0, 100, 0))
	tail := r.Flush()
	require.NotNil(t, tail)
	assert.Equal(t, 100, len(tail.Samples))
	assert.Zero(t, r.Pending())
}
