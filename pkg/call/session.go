package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/bridge"
	"github.com/arzzra/voice_bridge/pkg/media"
	"github.com/arzzra/voice_bridge/pkg/packet"
	"github.com/arzzra/voice_bridge/pkg/transport"
)

// ChannelEventHandler интерфейс входных событий от телефонного
// коллаборатора. Это единственные внешние входы конечного автомата
// помимо внутренней диагностики отказов.
type ChannelEventHandler interface {
	OnRing() error
	OnAnswer() error
	OnHold() error
	OnHangup(cause HangupCause) error
	OnDTMF(digit string)
}

var _ ChannelEventHandler = (*Session)(nil)

// SessionConfig конфигурация сессии звонка
type SessionConfig struct {
	// CallID идентификатор звонка во внешней сигнализации
	CallID string
	// TelephonyAdapter транспорт телефонной ноги
	TelephonyAdapter transport.Adapter
	// AIAdapter транспорт ноги AI пайплайна
	AIAdapter transport.Adapter
	// TelephonyPayloadType кодек телефонной ноги
	TelephonyPayloadType packet.PayloadType
	// AIPayloadType кодек AI ноги
	AIPayloadType packet.PayloadType
	// CanonicalRate каноническая частота PCM для AI пайплайна
	CanonicalRate uint32
	// Bridge конфигурация аудио моста
	Bridge bridge.Config
	// OnDTMF опциональный обработчик DTMF цифр
	OnDTMF func(digit string)
	// OnTerminated вызывается после полного завершения сессии
	OnTerminated func(s *Session)
}

// Session сессия одного звонка. Исключительно владеет своим аудио
// мостом и обоими транспортными адаптерами; мост существует только
// в состоянии bridged. Сессии не разделяют состояние между собой.
type Session struct {
	id     string
	config SessionConfig
	fsm    *fsm.FSM
	log    *logrus.Entry

	mutex     sync.Mutex
	cause     HangupCause
	causeSet  bool
	bridge    *bridge.Bridge
	lastStats bridge.Statistics
	createdAt time.Time
}

// NewSession создает сессию в состоянии initiating
func NewSession(config SessionConfig) (*Session, error) {
	if config.TelephonyAdapter == nil || config.AIAdapter == nil {
		return nil, fmt.Errorf("сессии требуются оба транспортных адаптера")
	}
	if config.CanonicalRate == 0 {
		config.CanonicalRate = 16000
	}

	s := &Session{
		id:        uuid.NewString(),
		config:    config,
		createdAt: time.Now(),
	}
	s.log = logrus.WithFields(logrus.Fields{
		"component":  "call_session",
		"session_id": s.id,
		"call_id":    config.CallID,
	})

	s.fsm = fsm.NewFSM(
		StateInitiating,
		stateMachineEvents(),
		fsm.Callbacks{
			"enter_" + StateBridged: func(ctx context.Context, e *fsm.Event) {
				if err := s.startBridge(); err != nil {
					s.log.WithError(err).Error("запуск моста не удался")
					go s.Fail(err)
				}
			},
			"leave_" + StateBridged: func(ctx context.Context, e *fsm.Event) {
				s.stopBridge()
			},
			"enter_" + StateTerminated: func(ctx context.Context, e *fsm.Event) {
				s.teardown()
			},
			"after_event": func(ctx context.Context, e *fsm.Event) {
				s.log.WithFields(logrus.Fields{
					"event": e.Event,
					"from":  e.Src,
					"to":    e.Dst,
				}).Debug("переход состояния канала")
			},
		},
	)

	s.log.Info("сессия звонка создана")
	return s, nil
}

// ID возвращает идентификатор сессии
func (s *Session) ID() string {
	return s.id
}

// CallID возвращает идентификатор звонка
func (s *Session) CallID() string {
	return s.config.CallID
}

// State возвращает текущее состояние канала
func (s *Session) State() string {
	return s.fsm.Current()
}

// Cause возвращает причину завершения. Значима только в terminated.
func (s *Session) Cause() HangupCause {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cause
}

// fire выполняет переход. Недопустимые переходы отклоняются,
// логируются, состояние не меняется.
func (s *Session) fire(event string) error {
	if err := s.fsm.Event(context.Background(), event); err != nil {
		metricInvalidTransitions.Inc()
		s.log.WithError(err).WithFields(logrus.Fields{
			"event": event,
			"state": s.fsm.Current(),
		}).Warn("недопустимый переход отклонен")
		return err
	}
	return nil
}

// setCause фиксирует причину завершения. Первая установка выигрывает.
func (s *Session) setCause(cause HangupCause) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.causeSet {
		s.cause = cause
		s.causeSet = true
	}
}

// OnRing входящий сигнал ring
func (s *Session) OnRing() error {
	return s.fire(EventRing)
}

// OnAnswer входящий сигнал answer
func (s *Session) OnAnswer() error {
	return s.fire(EventAnswer)
}

// OnHold входящий сигнал hold
func (s *Session) OnHold() error {
	return s.fire(EventHold)
}

// Resume возобновляет мост после удержания
func (s *Session) Resume() error {
	return s.fire(EventResume)
}

// BridgeReady сигнал готовности медиа путей обеих ног. Только после
// него сессия входит в bridged и мост начинает работать: answer сам
// по себе недостаточен.
func (s *Session) BridgeReady() error {
	return s.fire(EventBridgeReady)
}

// HangupRequest начинает завершение звонка
func (s *Session) HangupRequest(cause HangupCause) error {
	if err := s.fire(EventHangupRequest); err != nil {
		return err
	}
	s.setCause(cause)
	return nil
}

// HangupConfirm подтверждает завершение. Из answered ведет сразу
// в terminated со штатной причиной.
func (s *Session) HangupConfirm() error {
	if err := s.fire(EventHangupConfirm); err != nil {
		return err
	}
	s.setCause(CauseNormalClearance)
	return nil
}

// OnHangup входящий сигнал hangup: доводит сессию до terminated
// из любого активного состояния
func (s *Session) OnHangup(cause HangupCause) error {
	s.setCause(cause)

	switch s.fsm.Current() {
	case StateAnswered, StateHangingUp:
		return s.fire(EventHangupConfirm)
	default:
		if err := s.fire(EventHangupRequest); err != nil {
			return err
		}
		return s.fire(EventHangupConfirm)
	}
}

// OnDTMF входящая DTMF цифра
func (s *Session) OnDTMF(digit string) {
	s.log.WithField("digit", digit).Debug("получена DTMF цифра")
	if s.config.OnDTMF != nil {
		s.config.OnDTMF(digit)
	}
}

// Fail переводит сессию в завершение из-за внутреннего отказа:
// транспорт ноги, ошибка кодека или backpressure моста
func (s *Session) Fail(err error) {
	s.log.WithError(err).Error("отказ сессии")
	s.setCause(CauseInternalError)

	if fireErr := s.fire(EventFail); fireErr != nil {
		return
	}
	_ = s.fire(EventHangupConfirm)
}

// startBridge создает и запускает аудио мост. Пайплайны создаются
// заново при каждом входе в bridged: кодеки со состоянием нельзя
// переиспользовать между запусками.
func (s *Session) startBridge() error {
	telPipeline, err := media.NewPipeline(media.PipelineConfig{
		PayloadType:   s.config.TelephonyPayloadType,
		CanonicalRate: s.config.CanonicalRate,
		Channels:      1,
	})
	if err != nil {
		return err
	}
	aiPipeline, err := media.NewPipeline(media.PipelineConfig{
		PayloadType:   s.config.AIPayloadType,
		CanonicalRate: s.config.CanonicalRate,
		Channels:      1,
	})
	if err != nil {
		return err
	}

	b := bridge.NewBridge(s.config.Bridge, func(role bridge.Role, err error) {
		s.Fail(fmt.Errorf("нога %s: %w", role, err))
	})
	if err := b.AttachLeg(bridge.LegTelephony, s.config.TelephonyAdapter, telPipeline); err != nil {
		return err
	}
	if err := b.AttachLeg(bridge.LegAI, s.config.AIAdapter, aiPipeline); err != nil {
		return err
	}
	if err := b.Start(); err != nil {
		return err
	}

	s.mutex.Lock()
	s.bridge = b
	s.mutex.Unlock()

	s.log.Info("мост сессии запущен")
	return nil
}

// stopBridge останавливает мост и сохраняет его финальную статистику
func (s *Session) stopBridge() {
	s.mutex.Lock()
	b := s.bridge
	s.bridge = nil
	s.mutex.Unlock()

	if b == nil {
		return
	}
	b.Stop()

	stats := b.GetStatistics()
	s.mutex.Lock()
	s.lastStats = stats
	s.mutex.Unlock()
}

// BridgeStatistics возвращает статистику работающего моста либо
// финальный снимок последнего остановленного
func (s *Session) BridgeStatistics() bridge.Statistics {
	s.mutex.Lock()
	b := s.bridge
	last := s.lastStats
	s.mutex.Unlock()

	if b != nil {
		return b.GetStatistics()
	}
	return last
}

// teardown освобождает ресурсы сессии при входе в terminated:
// закрывает оба адаптера и сбрасывает статистику в лог
func (s *Session) teardown() {
	s.stopBridge()

	_ = s.config.TelephonyAdapter.Close()
	_ = s.config.AIAdapter.Close()

	s.mutex.Lock()
	cause := s.cause
	stats := s.lastStats
	s.mutex.Unlock()

	metricTerminatedSessions.WithLabelValues(cause.String()).Inc()
	s.log.WithFields(logrus.Fields{
		"cause":            cause.String(),
		"duration":         time.Since(s.createdAt),
		"packets_received": stats.PacketsReceived,
		"packets_sent":     stats.PacketsSent,
		"packets_lost":     stats.PacketsLost,
		"concealed":        stats.Concealed,
		"jitter":           stats.Jitter,
	}).Info("сессия звонка завершена")

	if s.config.OnTerminated != nil {
		go s.config.OnTerminated(s)
	}
}
