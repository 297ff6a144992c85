package bridge

import "fmt"

// BridgeErrorCode код ошибки моста
type BridgeErrorCode int

const (
	// ErrorCodeLegMissing нога не подключена
	ErrorCodeLegMissing BridgeErrorCode = iota + 3000
	// ErrorCodeLegDuplicate нога с этой ролью уже подключена
	ErrorCodeLegDuplicate
	// ErrorCodeAlreadyStarted мост уже запущен
	ErrorCodeAlreadyStarted
	// ErrorCodeStopped мост остановлен
	ErrorCodeStopped
	// ErrorCodeBackpressure очередь ноги переполнена дольше таймаута
	ErrorCodeBackpressure
	// ErrorCodeLegTransport транспортная ошибка ноги
	ErrorCodeLegTransport
	// ErrorCodeLegCodec фатальная кодек ошибка ноги
	ErrorCodeLegCodec
)

// BridgeError ошибка моста с кодом для программной обработки
type BridgeError struct {
	Code    BridgeErrorCode
	Message string
	Err     error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("bridge error %d: %s", e.Code, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Is позволяет сравнивать ошибки по коду через errors.Is
func (e *BridgeError) Is(target error) bool {
	if t, ok := target.(*BridgeError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewBridgeError создает ошибку моста
func NewBridgeError(code BridgeErrorCode, message string) *BridgeError {
	return &BridgeError{Code: code, Message: message}
}

// WrapBridgeError оборачивает ошибку с кодом моста
func WrapBridgeError(code BridgeErrorCode, message string, err error) *BridgeError {
	return &BridgeError{Code: code, Message: message, Err: err}
}
