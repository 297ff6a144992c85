package call

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voice_bridge/pkg/bridge"
	"github.com/arzzra/voice_bridge/pkg/media"
	"github.com/arzzra/voice_bridge/pkg/packet"
	"github.com/arzzra/voice_bridge/pkg/transport"
)

// idleAdapter транспортный адаптер без трафика для тестов сигнализации
type idleAdapter struct {
	closed atomic.Bool
}

func (a *idleAdapter) Receive(ctx context.Context) (*packet.RawPacket, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (a *idleAdapter) Send(p *packet.RawPacket) error { return nil }
func (a *idleAdapter) LocalAddr() net.Addr            { return &net.UDPAddr{} }
func (a *idleAdapter) IsActive() bool                 { return !a.closed.Load() }
func (a *idleAdapter) Close() error {
	a.closed.Store(true)
	return nil
}

func testSessionConfig() SessionConfig {
	bridgeConfig := bridge.DefaultConfig()
	bridgeConfig.StopGrace = 500 * time.Millisecond
	bridgeConfig.JitterBuffer = media.JitterBufferConfig{
		MinDepth:     1,
		MaxDepth:     10,
		TargetDepth:  1,
		TickInterval: 5 * time.Millisecond,
		LossDeadline: 15 * time.Millisecond,
	}
	return SessionConfig{
		CallID:               "call-test",
		TelephonyAdapter:     &idleAdapter{},
		AIAdapter:            &idleAdapter{},
		TelephonyPayloadType: packet.PayloadTypePCMU,
		AIPayloadType:        packet.PayloadTypePCMU,
		CanonicalRate:        16000,
		Bridge:               bridgeConfig,
	}
}

// TestSessionHangupBeforeBridge проверяет сценарий сигнализации
// [ring, answer, hangup-confirm]: bridged не достигается, answer сам
// по себе моста не запускает, завершение идет сразу в terminated
// со штатной причиной
func TestSessionHangupBeforeBridge(t *testing.T) {
	s, err := NewSession(testSessionConfig())
	require.NoError(t, err)

	assert.Equal(t, StateInitiating, s.State())
	require.NoError(t, s.OnRing())
	assert.Equal(t, StateRinging, s.State())
	require.NoError(t, s.OnAnswer())
	assert.Equal(t, StateAnswered, s.State())

	require.NoError(t, s.HangupConfirm())
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, CauseNormalClearance, s.Cause())

	// Мост так и не существовал
	assert.Zero(t, s.BridgeStatistics().PacketsReceived)
}

// TestSessionInvalidTransitionRejected проверяет отклонение
// недопустимого перехода: состояние не меняется
func TestSessionInvalidTransitionRejected(t *testing.T) {
	s, err := NewSession(testSessionConfig())
	require.NoError(t, err)

	require.Error(t, s.HangupConfirm(), "hangup-confirm из initiating недопустим")
	assert.Equal(t, StateInitiating, s.State())

	require.Error(t, s.BridgeReady(), "bridge-ready до answer недопустим")
	assert.Equal(t, StateInitiating, s.State())

	_ = s.OnHangup(CauseRejected)
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, CauseRejected, s.Cause())
}

// TestSessionBridgeLifecycle проверяет полный цикл: мост работает
// только в bridged, hold его останавливает, resume пересоздает
func TestSessionBridgeLifecycle(t *testing.T) {
	config := testSessionConfig()
	tel := &idleAdapter{}
	ai := &idleAdapter{}
	config.TelephonyAdapter = tel
	config.AIAdapter = ai

	terminated := make(chan struct{})
	config.OnTerminated = func(s *Session) { close(terminated) }

	s, err := NewSession(config)
	require.NoError(t, err)

	require.NoError(t, s.OnRing())
	require.NoError(t, s.OnAnswer())
	require.NoError(t, s.BridgeReady())
	assert.Equal(t, StateBridged, s.State())

	require.NoError(t, s.OnHold())
	assert.Equal(t, StateOnHold, s.State())

	require.NoError(t, s.Resume())
	assert.Equal(t, StateBridged, s.State())

	require.NoError(t, s.OnHangup(CauseNormalClearance))
	assert.Equal(t, StateTerminated, s.State())

	select {
	case <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("OnTerminated не вызван")
	}

	// teardown закрывает оба адаптера
	assert.False(t, tel.IsActive())
	assert.False(t, ai.IsActive())
}

// TestSessionFailForcesTeardown проверяет внутренний отказ:
// сессия завершается с причиной internal_error
func TestSessionFailForcesTeardown(t *testing.T) {
	s, err := NewSession(testSessionConfig())
	require.NoError(t, err)

	require.NoError(t, s.OnRing())
	require.NoError(t, s.OnAnswer())
	require.NoError(t, s.BridgeReady())

	s.Fail(assert.AnError)
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, CauseInternalError, s.Cause())
}

// pumpAdapter транспортный адаптер с трафиком для сквозных тестов
// моста внутри сессии
type pumpAdapter struct {
	in      chan *packet.RawPacket
	release chan struct{} // не nil: Send блокируется до закрытия
	closed  atomic.Bool
}

func newPumpAdapter() *pumpAdapter {
	return &pumpAdapter{in: make(chan *packet.RawPacket, 64)}
}

func (a *pumpAdapter) Receive(ctx context.Context) (*packet.RawPacket, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-a.in:
		return p, nil
	}
}

func (a *pumpAdapter) Send(p *packet.RawPacket) error {
	if a.release != nil {
		<-a.release
	}
	return nil
}

func (a *pumpAdapter) LocalAddr() net.Addr { return &net.UDPAddr{} }
func (a *pumpAdapter) IsActive() bool      { return !a.closed.Load() }
func (a *pumpAdapter) Close() error {
	a.closed.Store(true)
	return nil
}

var _ transport.Adapter = (*pumpAdapter)(nil)

// feedULaw кладет в адаптер μ-law пакеты по 5ms при 8kHz
func feedULaw(a *pumpAdapter, count int) {
	for seq := uint16(1); seq <= uint16(count); seq++ {
		pcm := make([]int16, 40)
		for i := range pcm {
			pcm[i] = 500
		}
		a.in <- &packet.RawPacket{
			Header: packet.Header{
				SequenceNumber: seq,
				Timestamp:      uint32(seq) * 40,
				PayloadType:    packet.PayloadTypePCMU,
			},
			Payload:     media.EncodeULawSamples(pcm),
			ArrivalTime: time.Now(),
		}
	}
}

// TestSessionBackpressureTerminates проверяет сквозной сценарий
// backpressure: AI нога держит очередь полной дольше таймаута,
// отказ ноги доводит сессию до terminated с причиной internal_error
func TestSessionBackpressureTerminates(t *testing.T) {
	tel := newPumpAdapter()
	ai := newPumpAdapter()
	ai.release = make(chan struct{})
	defer close(ai.release)

	config := testSessionConfig()
	config.TelephonyAdapter = tel
	config.AIAdapter = ai
	config.Bridge.QueueSize = 1
	config.Bridge.BackpressureTimeout = 80 * time.Millisecond
	config.Bridge.StopGrace = 200 * time.Millisecond
	config.Bridge.AIFrameDuration = 5 * time.Millisecond
	config.Bridge.TelephonyFrameDuration = 5 * time.Millisecond

	s, err := NewSession(config)
	require.NoError(t, err)

	require.NoError(t, s.OnRing())
	require.NoError(t, s.OnAnswer())
	require.NoError(t, s.BridgeReady())
	require.Equal(t, StateBridged, s.State())

	feedULaw(tel, 20)

	require.Eventually(t, func() bool { return s.State() == StateTerminated },
		3*time.Second, 20*time.Millisecond, "отказ ноги должен завершить сессию")
	assert.Equal(t, CauseInternalError, s.Cause())
}

// TestSessionHoldWithBacklogStaysOnHold проверяет, что hold при
// заблокированной на полной очереди AI ноге остается в on_hold:
// остановка моста не отказ, причина завершения не фиксируется
func TestSessionHoldWithBacklogStaysOnHold(t *testing.T) {
	tel := newPumpAdapter()
	ai := newPumpAdapter()
	ai.release = make(chan struct{})
	defer close(ai.release)

	config := testSessionConfig()
	config.TelephonyAdapter = tel
	config.AIAdapter = ai
	config.Bridge.QueueSize = 1
	config.Bridge.BackpressureTimeout = 2 * time.Second
	config.Bridge.StopGrace = 200 * time.Millisecond
	config.Bridge.AIFrameDuration = 5 * time.Millisecond
	config.Bridge.TelephonyFrameDuration = 5 * time.Millisecond

	s, err := NewSession(config)
	require.NoError(t, err)

	require.NoError(t, s.OnRing())
	require.NoError(t, s.OnAnswer())
	require.NoError(t, s.BridgeReady())

	// Забиваем очередь AI ноги и даем playout заблокироваться
	feedULaw(tel, 10)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, s.OnHold())
	assert.Equal(t, StateOnHold, s.State())

	// Никакой отложенный отказ не должен вытолкнуть из on_hold
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateOnHold, s.State())

	// Причина не зафиксирована: штатное завершение дает normal_clearance
	require.NoError(t, s.OnHangup(CauseNormalClearance))
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, CauseNormalClearance, s.Cause())
}

// TestSessionDTMFForwarded проверяет доставку DTMF обработчику
func TestSessionDTMFForwarded(t *testing.T) {
	config := testSessionConfig()
	var digits []string
	config.OnDTMF = func(d string) { digits = append(digits, d) }

	s, err := NewSession(config)
	require.NoError(t, err)

	s.OnDTMF("1")
	s.OnDTMF("#")
	assert.Equal(t, []string{"1", "#"}, digits)
}

var _ transport.Adapter = (*idleAdapter)(nil)
