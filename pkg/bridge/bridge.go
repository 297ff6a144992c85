// Package bridge реализует аудио мост между телефонной ногой и ногой
// AI пайплайна для одного звонка. Мост владеет jitter buffer и кодек
// пайплайнами обеих ног, перекачивает фреймы в обоих направлениях и
// собирает статистику здоровья потока.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/media"
	"github.com/arzzra/voice_bridge/pkg/packet"
	"github.com/arzzra/voice_bridge/pkg/transport"
)

// Role роль ноги моста
type Role int

const (
	// LegTelephony телефонная нога: RTP пакеты от шлюза
	LegTelephony Role = iota
	// LegAI нога AI пайплайна
	LegAI
)

// String возвращает строковое представление роли
func (r Role) String() string {
	switch r {
	case LegTelephony:
		return "telephony"
	case LegAI:
		return "ai"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Config содержит параметры конфигурации моста
type Config struct {
	// QueueSize размер ограниченной очереди фреймов на направление
	QueueSize int
	// BackpressureTimeout максимальное время блокировки на полной
	// очереди. По истечении нога считается отказавшей.
	BackpressureTimeout time.Duration
	// StopGrace срок на graceful drain при остановке
	StopGrace time.Duration
	// TelephonyFrameDuration длительность телефонного пакета
	TelephonyFrameDuration time.Duration
	// AIFrameDuration квант фреймов для AI ноги
	AIFrameDuration time.Duration
	// JitterBuffer конфигурация jitter buffer телефонной ноги
	JitterBuffer media.JitterBufferConfig
}

// DefaultConfig возвращает конфигурацию моста по умолчанию
func DefaultConfig() Config {
	return Config{
		QueueSize:              16,
		BackpressureTimeout:    time.Second * 2,
		StopGrace:              time.Second * 5,
		TelephonyFrameDuration: time.Millisecond * 20,
		AIFrameDuration:        time.Millisecond * 20,
		JitterBuffer:           media.DefaultJitterBufferConfig(),
	}
}

// Statistics статистика моста. Изменяется только мостом,
// для внешних наблюдателей read-only снимок.
type Statistics struct {
	PacketsReceived   uint64
	PacketsSent       uint64
	PacketsLost       uint64
	PacketsLate       uint64
	PacketsDuplicated uint64
	Concealed         uint64
	Jitter            time.Duration
	FramesDecoded     uint64
	FramesEncoded     uint64
	FramesToAI        uint64
	FramesToTelephony uint64
	LegFailures       uint64
}

// LegFailureHandler вызывается при отказе ноги: транспортная или кодек
// ошибка, либо backpressure дольше таймаута. Вызывается не более
// одного раза за жизнь моста, из отдельной горутины.
type LegFailureHandler func(role Role, err error)

// leg одна сторона моста
type leg struct {
	role     Role
	adapter  transport.Adapter
	pipeline *media.Pipeline

	seq    uint16
	ts     uint32
	ssrc   uint32
	marked bool
}

// Bridge аудио мост одного звонка. Создается сессией при переходе
// в bridged, останавливается при выходе из него. Не переиспользуется.
type Bridge struct {
	config    Config
	onFailure LegFailureHandler
	log       *logrus.Entry

	mutex sync.Mutex
	legs  map[Role]*leg

	jb          *media.JitterBuffer
	toAI        chan *media.AudioFrame
	toTelephony chan *media.AudioFrame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started  bool
	stopped  bool
	stopOnce sync.Once
	failOnce sync.Once

	stats    Statistics
	final    *Statistics
	lastGood *media.AudioFrame
}

// NewBridge создает мост. onFailure может быть nil.
func NewBridge(config Config, onFailure LegFailureHandler) *Bridge {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.BackpressureTimeout <= 0 {
		config.BackpressureTimeout = DefaultConfig().BackpressureTimeout
	}
	if config.StopGrace <= 0 {
		config.StopGrace = DefaultConfig().StopGrace
	}
	if config.TelephonyFrameDuration <= 0 {
		config.TelephonyFrameDuration = DefaultConfig().TelephonyFrameDuration
	}
	if config.AIFrameDuration <= 0 {
		config.AIFrameDuration = DefaultConfig().AIFrameDuration
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		config:      config,
		onFailure:   onFailure,
		legs:        make(map[Role]*leg),
		toAI:        make(chan *media.AudioFrame, config.QueueSize),
		toTelephony: make(chan *media.AudioFrame, config.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		log:         logrus.WithField("component", "audio_bridge"),
	}
}

// AttachLeg подключает ногу к мосту. Обе ноги должны быть подключены
// до Start. Повторное подключение роли - ошибка.
func (b *Bridge) AttachLeg(role Role, adapter transport.Adapter, pipeline *media.Pipeline) error {
	if adapter == nil || pipeline == nil {
		return NewBridgeError(ErrorCodeLegMissing, "адаптер и пайплайн обязательны")
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.started {
		return NewBridgeError(ErrorCodeAlreadyStarted, "нельзя подключать ноги после запуска")
	}
	if _, exists := b.legs[role]; exists {
		return NewBridgeError(ErrorCodeLegDuplicate,
			fmt.Sprintf("нога %s уже подключена", role))
	}

	b.legs[role] = &leg{
		role:     role,
		adapter:  adapter,
		pipeline: pipeline,
		ssrc:     uint32(time.Now().UnixNano()),
	}
	return nil
}

// Start запускает перекачку фреймов в обоих направлениях.
// Требует обе подключенные ноги.
func (b *Bridge) Start() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.started {
		return NewBridgeError(ErrorCodeAlreadyStarted, "мост уже запущен")
	}
	if b.stopped {
		return NewBridgeError(ErrorCodeStopped, "мост остановлен")
	}

	tel, ok := b.legs[LegTelephony]
	if !ok {
		return NewBridgeError(ErrorCodeLegMissing, "телефонная нога не подключена")
	}
	ai, ok := b.legs[LegAI]
	if !ok {
		return NewBridgeError(ErrorCodeLegMissing, "AI нога не подключена")
	}

	jbConfig := b.config.JitterBuffer
	jbConfig.ClockRate = tel.pipeline.PayloadType().ClockRate()
	jb, err := media.NewJitterBuffer(jbConfig)
	if err != nil {
		return err
	}
	b.jb = jb
	b.started = true

	b.wg.Add(6)
	go b.runJitterBuffer()
	go b.telephonyIngress(tel)
	go b.playout(tel, ai)
	go b.aiIngress(ai)
	go b.egress(ai, b.toAI, directionToAI)
	go b.egress(tel, b.toTelephony, directionToTelephony)

	metricActiveBridges.Inc()
	b.log.Info("аудио мост запущен")
	return nil
}

func (b *Bridge) runJitterBuffer() {
	defer b.wg.Done()
	b.jb.Run()
}

// telephonyIngress читает пакеты телефонной ноги в jitter buffer
func (b *Bridge) telephonyIngress(tel *leg) {
	defer b.wg.Done()

	for {
		p, err := tel.adapter.Receive(b.ctx)
		if err != nil {
			if b.isShutdownError(err) {
				return
			}
			b.legFailed(LegTelephony, WrapBridgeError(ErrorCodeLegTransport,
				"прием телефонной ноги", err))
			return
		}
		if err := b.jb.Put(p); err != nil {
			return
		}
	}
}

// playout превращает выдачи jitter buffer в канонические PCM фреймы
// и перенарезает их в квант AI ноги
func (b *Bridge) playout(tel, ai *leg) {
	defer b.wg.Done()

	canonicalRate := tel.pipeline.CanonicalRate()
	chunker := NewRechunker(canonicalRate, 1, b.config.AIFrameDuration)

	for {
		var em media.Emission
		select {
		case <-b.ctx.Done():
			return
		case em = <-b.jb.Emissions():
		}

		var frame *media.AudioFrame
		if em.Concealed {
			frame = b.concealmentFrame(canonicalRate)
			metricConcealedFrames.Inc()
		} else {
			decoded, err := tel.pipeline.Decode(em.Packet.Payload, em.Packet.Header.Timestamp)
			if err != nil {
				b.legFailed(LegTelephony, WrapBridgeError(ErrorCodeLegCodec,
					"декодирование телефонного пакета", err))
				return
			}
			frame = decoded
			b.rememberGood(frame)
		}

		for _, chunk := range chunker.Push(frame) {
			if err := b.enqueue(b.toAI, chunk); err != nil {
				if b.isShutdownError(err) {
					return
				}
				b.legFailed(LegAI, err)
				return
			}
			b.mutex.Lock()
			b.stats.FramesToAI++
			b.mutex.Unlock()
			metricFramesBridged.WithLabelValues(directionToAI).Inc()
		}
	}
}

// aiIngress читает ответное аудио AI ноги и перенарезает его
// в квант телефонной ноги
func (b *Bridge) aiIngress(ai *leg) {
	defer b.wg.Done()

	tel := b.legs[LegTelephony]
	chunker := NewRechunker(tel.pipeline.CanonicalRate(), 1, b.config.TelephonyFrameDuration)

	for {
		p, err := ai.adapter.Receive(b.ctx)
		if err != nil {
			if b.isShutdownError(err) {
				return
			}
			b.legFailed(LegAI, WrapBridgeError(ErrorCodeLegTransport,
				"прием AI ноги", err))
			return
		}

		frame, err := ai.pipeline.Decode(p.Payload, p.Header.Timestamp)
		if err != nil {
			b.legFailed(LegAI, WrapBridgeError(ErrorCodeLegCodec,
				"декодирование AI фрейма", err))
			return
		}

		for _, chunk := range chunker.Push(frame) {
			if err := b.enqueue(b.toTelephony, chunk); err != nil {
				if b.isShutdownError(err) {
					return
				}
				b.legFailed(LegTelephony, err)
				return
			}
			b.mutex.Lock()
			b.stats.FramesToTelephony++
			b.mutex.Unlock()
			metricFramesBridged.WithLabelValues(directionToTelephony).Inc()
		}
	}
}

// egress кодирует фреймы очереди и отправляет их в адаптер ноги
func (b *Bridge) egress(l *leg, queue <-chan *media.AudioFrame, direction string) {
	defer b.wg.Done()

	for {
		var frame *media.AudioFrame
		select {
		case <-b.ctx.Done():
			return
		case frame = <-queue:
		}

		payload, err := l.pipeline.Encode(frame)
		if err != nil {
			b.legFailed(l.role, WrapBridgeError(ErrorCodeLegCodec,
				"кодирование фрейма для "+direction, err))
			return
		}

		p := &packet.RawPacket{
			Header: packet.Header{
				SequenceNumber: l.seq,
				Timestamp:      l.ts,
				PayloadType:    l.pipeline.PayloadType(),
				Marker:         !l.marked,
				SSRC:           l.ssrc,
			},
			Payload: payload,
		}
		l.marked = true
		l.seq++
		l.ts += uint32(int64(l.pipeline.PayloadType().ClockRate()) *
			int64(frame.Duration()) / int64(time.Second))

		if err := l.adapter.Send(p); err != nil {
			if b.isShutdownError(err) {
				return
			}
			b.legFailed(l.role, WrapBridgeError(ErrorCodeLegTransport,
				"отправка в "+direction, err))
			return
		}

		b.mutex.Lock()
		b.stats.PacketsSent++
		b.mutex.Unlock()
	}
}

// enqueue ставит фрейм в ограниченную очередь с backpressure.
// Полная очередь блокирует производителя; блокировка дольше
// BackpressureTimeout - отказ потребляющей ноги.
func (b *Bridge) enqueue(queue chan<- *media.AudioFrame, frame *media.AudioFrame) error {
	select {
	case queue <- frame:
		return nil
	default:
	}

	timer := time.NewTimer(b.config.BackpressureTimeout)
	defer timer.Stop()

	select {
	case queue <- frame:
		return nil
	case <-b.ctx.Done():
		return b.ctx.Err()
	case <-timer.C:
		return NewBridgeError(ErrorCodeBackpressure,
			fmt.Sprintf("очередь заполнена дольше %v", b.config.BackpressureTimeout))
	}
}

func (b *Bridge) rememberGood(frame *media.AudioFrame) {
	b.mutex.Lock()
	b.lastGood = frame
	b.mutex.Unlock()
}

// concealmentFrame возвращает фрейм взамен потерянного пакета:
// повтор последнего хорошего фрейма, тишина если его еще не было
func (b *Bridge) concealmentFrame(canonicalRate uint32) *media.AudioFrame {
	b.mutex.Lock()
	last := b.lastGood
	b.mutex.Unlock()

	if last != nil {
		return last.Clone()
	}
	return media.SilenceFrame(canonicalRate, 1, b.config.JitterBuffer.TickInterval)
}

// legFailed помечает ногу отказавшей и останавливает мост.
// Callback вызывается не более одного раза.
func (b *Bridge) legFailed(role Role, err error) {
	b.failOnce.Do(func() {
		b.mutex.Lock()
		b.stats.LegFailures++
		b.mutex.Unlock()

		metricLegFailures.WithLabelValues(role.String()).Inc()
		b.log.WithError(err).WithField("role", role.String()).Error("нога моста отказала")

		if b.onFailure != nil {
			go b.onFailure(role, err)
		}
		go b.Stop()
	})
}

// isShutdownError различает штатное завершение при остановке
// от настоящей транспортной ошибки
func (b *Bridge) isShutdownError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return true
	}
	select {
	case <-b.ctx.Done():
		return true
	default:
		return false
	}
}

// Stop останавливает мост: гасит насосы, осушает очереди в пределах
// StopGrace, финализирует статистику. Идемпотентен.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mutex.Lock()
		wasStarted := b.started
		b.stopped = true
		b.mutex.Unlock()

		b.cancel()
		if b.jb != nil {
			b.jb.Stop()
		}

		if wasStarted {
			done := make(chan struct{})
			go func() {
				b.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(b.config.StopGrace):
				b.log.Warn("graceful drain превысил grace period, принудительная очистка")
			}
			metricActiveBridges.Dec()
		}

		b.drainQueues()

		final := b.collectStatistics()
		b.mutex.Lock()
		b.final = &final
		b.mutex.Unlock()

		b.log.WithFields(logrus.Fields{
			"packets_received": final.PacketsReceived,
			"packets_sent":     final.PacketsSent,
			"packets_lost":     final.PacketsLost,
			"concealed":        final.Concealed,
			"jitter":           final.Jitter,
		}).Info("аудио мост остановлен")
	})
}

func (b *Bridge) drainQueues() {
	for {
		select {
		case <-b.toAI:
		case <-b.toTelephony:
		default:
			return
		}
	}
}

// collectStatistics собирает сводную статистику из jitter buffer,
// пайплайнов и собственных счетчиков моста
func (b *Bridge) collectStatistics() Statistics {
	b.mutex.Lock()
	stats := b.stats
	tel := b.legs[LegTelephony]
	ai := b.legs[LegAI]
	b.mutex.Unlock()

	if b.jb != nil {
		jbStats := b.jb.GetStatistics()
		stats.PacketsReceived = jbStats.PacketsReceived
		stats.PacketsLost = jbStats.PacketsLost
		stats.PacketsLate = jbStats.PacketsLate
		stats.PacketsDuplicated = jbStats.PacketsDuplicated
		stats.Concealed = jbStats.Concealed
		stats.Jitter = jbStats.Jitter
	}
	if tel != nil {
		decoded, encoded := tel.pipeline.ConversionCounts()
		stats.FramesDecoded += decoded
		stats.FramesEncoded += encoded
	}
	if ai != nil {
		decoded, encoded := ai.pipeline.ConversionCounts()
		stats.FramesDecoded += decoded
		stats.FramesEncoded += encoded
	}
	return stats
}

// GetStatistics возвращает снимок статистики моста
func (b *Bridge) GetStatistics() Statistics {
	b.mutex.Lock()
	final := b.final
	b.mutex.Unlock()

	if final != nil {
		return *final
	}
	return b.collectStatistics()
}

// IsRunning сообщает, работает ли мост
func (b *Bridge) IsRunning() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.started && !b.stopped
}
