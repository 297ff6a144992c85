// Package call реализует жизненный цикл сессии звонка: конечный
// автомат состояний канала, таксономию причин завершения и реестр
// активных сессий. Сессия владеет аудио мостом и обоими транспортными
// адаптерами и разрешает мосту работать только в состоянии bridged.
package call

import "github.com/looplab/fsm"

// Состояния канала звонка
const (
	StateInitiating = "initiating"
	StateRinging    = "ringing"
	StateAnswered   = "answered"
	StateBridged    = "bridged"
	StateOnHold     = "on_hold"
	StateHangingUp  = "hanging_up"
	StateTerminated = "terminated"
)

// События конечного автомата. Переходы вызываются только внешней
// сигнализацией либо внутренней диагностикой отказов.
const (
	EventRing          = "ring"
	EventAnswer        = "answer"
	EventBridgeReady   = "bridge_ready"
	EventHold          = "hold"
	EventResume        = "resume"
	EventHangupRequest = "hangup_request"
	EventHangupConfirm = "hangup_confirm"
	EventFail          = "fail"
)

// HangupCause причина завершения звонка. Закрытая таксономия:
// terminated всегда несет ровно одну причину.
type HangupCause int

const (
	// CauseNormalClearance штатное завершение
	CauseNormalClearance HangupCause = iota
	// CauseBusy абонент занят
	CauseBusy
	// CauseNoAnswer нет ответа
	CauseNoAnswer
	// CauseNetworkFailure сбой сети или транспорта
	CauseNetworkFailure
	// CauseRejected звонок отклонен
	CauseRejected
	// CauseInternalError внутренняя ошибка моста или кодека
	CauseInternalError
	// CauseTimeout истек таймаут операции
	CauseTimeout
)

// String возвращает строковое представление причины
func (c HangupCause) String() string {
	switch c {
	case CauseNormalClearance:
		return "normal_clearance"
	case CauseBusy:
		return "busy"
	case CauseNoAnswer:
		return "no_answer"
	case CauseNetworkFailure:
		return "network_failure"
	case CauseRejected:
		return "rejected"
	case CauseInternalError:
		return "internal_error"
	case CauseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// stateMachineEvents описывает допустимые переходы канала.
// bridged достижим только через явный bridge_ready после answer;
// hangup_confirm из answered идет сразу в terminated (штатное
// завершение без фазы моста). fail переводит любое нетерминальное
// состояние в hanging_up.
func stateMachineEvents() fsm.Events {
	return fsm.Events{
		{Name: EventRing, Src: []string{StateInitiating}, Dst: StateRinging},
		{Name: EventAnswer, Src: []string{StateRinging}, Dst: StateAnswered},
		{Name: EventBridgeReady, Src: []string{StateAnswered}, Dst: StateBridged},
		{Name: EventHold, Src: []string{StateBridged}, Dst: StateOnHold},
		{Name: EventResume, Src: []string{StateOnHold}, Dst: StateBridged},
		{Name: EventHangupRequest,
			Src: []string{StateInitiating, StateRinging, StateAnswered, StateBridged, StateOnHold},
			Dst: StateHangingUp},
		{Name: EventHangupConfirm, Src: []string{StateHangingUp, StateAnswered}, Dst: StateTerminated},
		{Name: EventFail,
			Src: []string{StateInitiating, StateRinging, StateAnswered, StateBridged, StateOnHold},
			Dst: StateHangingUp},
	}
}
