package packet

import "fmt"

// MalformedPacketError возвращается при невозможности разобрать входящие
// байты как валидный пакет. Ошибка типизирована, чтобы вызывающая сторона
// могла отбросить пакет и увеличить счетчик, не прерывая критический путь.
type MalformedPacketError struct {
	Reason string
	Size   int
	Err    error
}

func (e *MalformedPacketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("невалидный пакет (%d байт): %s: %v", e.Size, e.Reason, e.Err)
	}
	return fmt.Sprintf("невалидный пакет (%d байт): %s", e.Size, e.Reason)
}

func (e *MalformedPacketError) Unwrap() error {
	return e.Err
}

func newMalformedError(reason string, size int, err error) *MalformedPacketError {
	return &MalformedPacketError{Reason: reason, Size: size, Err: err}
}
