package bridge

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voice_bridge/pkg/media"
	"github.com/arzzra/voice_bridge/pkg/packet"
	"github.com/arzzra/voice_bridge/pkg/transport"
)

// fakeAdapter транспортный адаптер в памяти для тестов моста
type fakeAdapter struct {
	in      chan *packet.RawPacket
	sent    chan *packet.RawPacket
	release chan struct{} // nil: Send не блокируется
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		in:   make(chan *packet.RawPacket, 64),
		sent: make(chan *packet.RawPacket, 64),
	}
}

func (f *fakeAdapter) Receive(ctx context.Context) (*packet.RawPacket, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-f.in:
		return p, nil
	}
}

func (f *fakeAdapter) Send(p *packet.RawPacket) error {
	if f.release != nil {
		<-f.release
	}
	select {
	case f.sent <- p:
	default:
	}
	return nil
}

func (f *fakeAdapter) LocalAddr() net.Addr { return &net.UDPAddr{} }
func (f *fakeAdapter) IsActive() bool      { return true }
func (f *fakeAdapter) Close() error        { return nil }

var _ transport.Adapter = (*fakeAdapter)(nil)

func testBridgeConfig() Config {
	return Config{
		QueueSize:              8,
		BackpressureTimeout:    500 * time.Millisecond,
		StopGrace:              time.Second,
		TelephonyFrameDuration: 5 * time.Millisecond,
		AIFrameDuration:        5 * time.Millisecond,
		JitterBuffer: media.JitterBufferConfig{
			MinDepth:     1,
			MaxDepth:     10,
			TargetDepth:  1,
			TickInterval: 5 * time.Millisecond,
			LossDeadline: 15 * time.Millisecond,
			ClockRate:    8000,
		},
	}
}

func newTestPipeline(t *testing.T) *media.Pipeline {
	t.Helper()
	p, err := media.NewPipeline(media.PipelineConfig{
		PayloadType:   packet.PayloadTypePCMU,
		CanonicalRate: 16000,
		Channels:      1,
	})
	require.NoError(t, err)
	return p
}

// ulawPacket создает μ-law пакет заданной длительности с постоянным уровнем
func ulawPacket(seq uint16, samples int, level int16) *packet.RawPacket {
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = level
	}
	return &packet.RawPacket{
		Header: packet.Header{
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * uint32(samples),
			PayloadType:    packet.PayloadTypePCMU,
		},
		Payload:     media.EncodeULawSamples(pcm),
		ArrivalTime: time.Now(),
	}
}

// TestBridgeAttachValidation проверяет валидацию подключения ног
func TestBridgeAttachValidation(t *testing.T) {
	b := NewBridge(testBridgeConfig(), nil)
	defer b.Stop()

	pipeline := newTestPipeline(t)

	err := b.AttachLeg(LegTelephony, nil, pipeline)
	require.Error(t, err)

	require.NoError(t, b.AttachLeg(LegTelephony, newFakeAdapter(), pipeline))
	err = b.AttachLeg(LegTelephony, newFakeAdapter(), pipeline)
	var be *BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrorCodeLegDuplicate, be.Code)

	// Без AI ноги мост не стартует
	err = b.Start()
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrorCodeLegMissing, be.Code)
}

// TestBridgeForwardsTelephonyToAI проверяет сквозной поток
// телефония -> jitter buffer -> декодер -> AI нога и обратно
func TestBridgeForwardsTelephonyToAI(t *testing.T) {
	tel := newFakeAdapter()
	ai := newFakeAdapter()

	b := NewBridge(testBridgeConfig(), nil)
	require.NoError(t, b.AttachLeg(LegTelephony, tel, newTestPipeline(t)))
	require.NoError(t, b.AttachLeg(LegAI, ai, newTestPipeline(t)))
	require.NoError(t, b.Start())
	defer b.Stop()

	// 5 пакетов по 5ms при 8kHz
	for seq := uint16(1); seq <= 5; seq++ {
		tel.in <- ulawPacket(seq, 40, 1000)
	}

	received := collectPackets(t, ai.sent, 5, 2*time.Second)
	for i, p := range received {
		assert.Equal(t, uint16(i), p.Header.SequenceNumber, "исходящие seq с нуля по порядку")
		assert.Equal(t, 40, len(p.Payload), "5ms μ-law при 8kHz")
	}
	assert.True(t, received[0].Header.Marker, "marker на первом пакете потока")
	assert.False(t, received[1].Header.Marker)

	// Обратное направление: 10ms аудио от AI дает два 5ms телефонных пакета
	ai.in <- ulawPacket(1, 80, -2000)
	back := collectPackets(t, tel.sent, 2, 2*time.Second)
	assert.Equal(t, uint16(0), back[0].Header.SequenceNumber)
	assert.Equal(t, uint16(1), back[1].Header.SequenceNumber)

	b.Stop()
	stats := b.GetStatistics()
	assert.Equal(t, uint64(5), stats.PacketsReceived)
	assert.GreaterOrEqual(t, stats.FramesToAI, uint64(5))
	assert.GreaterOrEqual(t, stats.FramesToTelephony, uint64(2))
	assert.NotZero(t, stats.PacketsSent)
	assert.NotZero(t, stats.FramesDecoded)
}

// TestBridgeStopIdempotent проверяет повторную остановку
func TestBridgeStopIdempotent(t *testing.T) {
	b := NewBridge(testBridgeConfig(), nil)
	require.NoError(t, b.AttachLeg(LegTelephony, newFakeAdapter(), newTestPipeline(t)))
	require.NoError(t, b.AttachLeg(LegAI, newFakeAdapter(), newTestPipeline(t)))
	require.NoError(t, b.Start())

	b.Stop()
	b.Stop()
	assert.False(t, b.IsRunning())

	// После остановки статистика заморожена
	first := b.GetStatistics()
	second := b.GetStatistics()
	assert.Equal(t, first, second)
}

// TestBridgeBackpressureFailsLeg проверяет сценарий backpressure:
// заблокированная AI нога держит очередь полной дольше таймаута,
// мост помечает ногу отказавшей и останавливается в пределах grace
func TestBridgeBackpressureFailsLeg(t *testing.T) {
	tel := newFakeAdapter()
	ai := newFakeAdapter()
	ai.release = make(chan struct{}) // Send блокируется до закрытия
	defer close(ai.release)

	config := testBridgeConfig()
	config.QueueSize = 1
	config.BackpressureTimeout = 80 * time.Millisecond
	config.StopGrace = 300 * time.Millisecond

	var mu sync.Mutex
	var failedRole Role
	var failedErr error
	failed := make(chan struct{})
	var failedOnce sync.Once

	b := NewBridge(config, func(role Role, err error) {
		mu.Lock()
		failedRole = role
		failedErr = err
		mu.Unlock()
		failedOnce.Do(func() { close(failed) })
	})
	require.NoError(t, b.AttachLeg(LegTelephony, tel, newTestPipeline(t)))
	require.NoError(t, b.AttachLeg(LegAI, ai, newTestPipeline(t)))
	require.NoError(t, b.Start())

	for seq := uint16(1); seq <= 20; seq++ {
		tel.in <- ulawPacket(seq, 40, 500)
	}

	select {
	case <-failed:
	case <-time.After(3 * time.Second):
		t.Fatal("отказ ноги не зафиксирован")
	}

	mu.Lock()
	assert.Equal(t, LegAI, failedRole)
	var be *BridgeError
	require.True(t, errors.As(failedErr, &be))
	assert.Equal(t, ErrorCodeBackpressure, be.Code)
	mu.Unlock()

	require.Eventually(t, func() bool { return !b.IsRunning() },
		2*time.Second, 10*time.Millisecond, "мост должен остановиться после отказа")

	stats := b.GetStatistics()
	assert.Equal(t, uint64(1), stats.LegFailures)
}

// TestBridgeStopWithBlockedQueueIsNotFailure проверяет, что штатная
// остановка при заблокированном на полной очереди производителе
// не считается отказом ноги: callback не вызывается, LegFailures ноль
func TestBridgeStopWithBlockedQueueIsNotFailure(t *testing.T) {
	tel := newFakeAdapter()
	ai := newFakeAdapter()
	ai.release = make(chan struct{}) // Send блокируется до закрытия
	defer close(ai.release)

	config := testBridgeConfig()
	config.QueueSize = 1
	config.BackpressureTimeout = 5 * time.Second // не должен истечь
	config.StopGrace = 200 * time.Millisecond

	var failures atomic.Int32
	b := NewBridge(config, func(role Role, err error) {
		failures.Add(1)
	})
	require.NoError(t, b.AttachLeg(LegTelephony, tel, newTestPipeline(t)))
	require.NoError(t, b.AttachLeg(LegAI, ai, newTestPipeline(t)))
	require.NoError(t, b.Start())

	// Забиваем очередь AI ноги: egress висит в Send, playout
	// блокируется на enqueue
	for seq := uint16(1); seq <= 10; seq++ {
		tel.in <- ulawPacket(seq, 40, 500)
	}
	time.Sleep(100 * time.Millisecond)

	b.Stop()
	assert.False(t, b.IsRunning())

	// Даем расклеившимся горутинам время ошибиться, если бы они могли
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, failures.Load(), "остановка не отказ ноги")
	assert.Zero(t, b.GetStatistics().LegFailures)
}

func collectPackets(t *testing.T, ch <-chan *packet.RawPacket, count int, timeout time.Duration) []*packet.RawPacket {
	t.Helper()
	deadline := time.After(timeout)
	out := make([]*packet.RawPacket, 0, count)
	for len(out) < count {
		select {
		case p := <-ch:
			out = append(out, p)
		case <-deadline:
			t.Fatalf("получено %d пакетов из %d за %v", len(out), count, timeout)
		}
	}
	return out
}
