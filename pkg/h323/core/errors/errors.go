package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Kind категория ошибки
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindDecode
	KindGatekeeperReject
	KindResource
	KindTimeout
	KindState
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindTransport:        "transport",
	KindDecode:           "decode",
	KindGatekeeperReject: "gatekeeper-reject",
	KindResource:         "resource",
	KindTimeout:          "timeout",
	KindState:            "state",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// H323Error ошибка сигнального движка с классификацией
type H323Error interface {
	error
	Kind() Kind
	IsTransport() bool // ошибка сокета или соединения
	IsDecode() bool    // сообщение не разобрано
	IsTimeout() bool   // истек таймаут
	Temporary() bool   // можно повторить
}

// h323Error базовая реализация H323Error
type h323Error struct {
	kind      Kind
	message   string
	temporary bool
}

// New создает ошибку заданной категории
func New(kind Kind, message string) H323Error {
	return &h323Error{
		kind:      kind,
		message:   message,
		temporary: kind == KindTimeout,
	}
}

func (e *h323Error) Error() string     { return e.message }
func (e *h323Error) Kind() Kind        { return e.kind }
func (e *h323Error) IsTransport() bool { return e.kind == KindTransport }
func (e *h323Error) IsDecode() bool    { return e.kind == KindDecode }
func (e *h323Error) IsTimeout() bool   { return e.kind == KindTimeout }
func (e *h323Error) Temporary() bool   { return e.temporary }

// Предопределенные ошибки
var (
	// Транспорт
	ErrTransportFailure  = New(KindTransport, "transport failure")
	ErrConnectionClosed  = New(KindTransport, "connection closed by peer")
	ErrIncompleteMessage = New(KindTransport, "incomplete message")

	// Разбор сообщений
	ErrInvalidMessage  = New(KindDecode, "invalid message")
	ErrMessageTooLarge = New(KindDecode, "message too large")

	// Гейткипер
	ErrGatekeeperReject = New(KindGatekeeperReject, "rejected by gatekeeper")
	ErrNoGatekeeper     = New(KindState, "no gatekeeper")

	// Ресурсы
	ErrResourceExhausted = New(KindResource, "resource exhausted")
	ErrNoPortAvailable   = New(KindResource, "no port available in range")

	// Таймауты
	ErrTimeout = New(KindTimeout, "timeout")

	// Состояние
	ErrInvalidState = New(KindState, "invalid state")
	ErrCallNotFound = New(KindState, "call not found")
	ErrStopped      = New(KindState, "stopped")
)

// OpError ошибка конкретной операции с сохранением причины
type OpError struct {
	Op   string
	kind Kind
	Err  error
}

// Wrap оборачивает err операцией op. KindUnknown наследует категорию причины.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	if kind == KindUnknown {
		kind = KindOf(err)
	}
	return &OpError{Op: op, kind: kind, Err: err}
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error     { return e.Err }
func (e *OpError) Kind() Kind        { return e.kind }
func (e *OpError) IsTransport() bool { return e.kind == KindTransport }
func (e *OpError) IsDecode() bool    { return e.kind == KindDecode }
func (e *OpError) IsTimeout() bool   { return e.kind == KindTimeout }
func (e *OpError) Temporary() bool   { return IsTemporary(e.Err) }

// KindOf определяет категорию произвольной ошибки
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var h H323Error
	if stderrors.As(err, &h) {
		return h.Kind()
	}

	if stderrors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, net.ErrClosed) {
		return KindTransport
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}

	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return KindTransport
	}

	return KindUnknown
}

// IsTransport проверяет, является ли ошибка транспортной
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsDecode проверяет, является ли ошибка ошибкой разбора
func IsDecode(err error) bool { return KindOf(err) == KindDecode }

// IsTimeout проверяет, является ли ошибка таймаутом
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsTemporary проверяет, является ли ошибка временной
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}

	var h H323Error
	if stderrors.As(err, &h) {
		if _, ok := h.(*OpError); !ok {
			return h.Temporary()
		}
	}

	type temporary interface {
		Temporary() bool
	}
	var op *OpError
	if stderrors.As(err, &op) {
		return IsTemporary(op.Err)
	}
	if temp, ok := err.(temporary); ok {
		return temp.Temporary()
	}
	return KindOf(err) == KindTimeout
}
