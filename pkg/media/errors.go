package media

import (
	"errors"
	"fmt"
)

// MediaErrorCode определяет типизированные коды ошибок медиа слоя.
// Позволяет классифицировать ошибки по категориям и обрабатывать их
// соответствующим образом (drop-and-count, teardown ноги, и т.д.).
type MediaErrorCode int

const (
	// Ошибки кодеков
	ErrorCodeCodecUnsupported MediaErrorCode = iota + 1000
	ErrorCodeFrameSizeInvalid
	ErrorCodeSampleRateInvalid

	// Ошибки jitter buffer
	ErrorCodeJitterBufferStopped
	ErrorCodeJitterBufferConfigInvalid

	// Ошибки ресемплера
	ErrorCodeResamplerConfigInvalid
)

// String возвращает строковое представление кода ошибки
func (code MediaErrorCode) String() string {
	switch code {
	case ErrorCodeCodecUnsupported:
		return "CodecUnsupported"
	case ErrorCodeFrameSizeInvalid:
		return "FrameSizeInvalid"
	case ErrorCodeSampleRateInvalid:
		return "SampleRateInvalid"
	case ErrorCodeJitterBufferStopped:
		return "JitterBufferStopped"
	case ErrorCodeJitterBufferConfigInvalid:
		return "JitterBufferConfigInvalid"
	case ErrorCodeResamplerConfigInvalid:
		return "ResamplerConfigInvalid"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// MediaError типизированная ошибка медиа слоя с кодом и контекстом
type MediaError struct {
	Code    MediaErrorCode
	Message string
	Err     error
}

func (e *MediaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

// Is поддерживает сравнение по коду через errors.Is
func (e *MediaError) Is(target error) bool {
	var other *MediaError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewMediaError создает новую ошибку медиа слоя
func NewMediaError(code MediaErrorCode, message string) *MediaError {
	return &MediaError{Code: code, Message: message}
}

// WrapMediaError оборачивает ошибку с кодом и сообщением
func WrapMediaError(code MediaErrorCode, message string, err error) *MediaError {
	return &MediaError{Code: code, Message: message, Err: err}
}
