package endpoint

import (
	"github.com/arzzra/h323ep/pkg/h323/call"
)

// Command команда приложения для глобального цикла конечной точки.
// Реализуется только типами этого пакета.
type Command interface {
	command() string
}

// NoOp пустая команда, будит цикл
type NoOp struct{}

// MakeCall исходящий вызов. Done, если задан, получает токен вызова
// или ошибку.
type MakeCall struct {
	Dest  string
	Token string
	Flags *call.Flags
	Done  func(token string, err error)
}

// AnswerCall ответ на входящий вызов
type AnswerCall struct {
	Token string
}

// ForwardCall переадресация вызова на Dest
type ForwardCall struct {
	Token string
	Dest  string
}

// HangCall завершение вызова с причиной
type HangCall struct {
	Token  string
	Reason call.EndReason
}

// SendDigit отправка цифр DTMF
type SendDigit struct {
	Token  string
	Digits string
}

// ManualRingback отправка Alerting по команде приложения
type ManualRingback struct {
	Token string
}

// StopMonitor останавливает глобальный цикл
type StopMonitor struct{}

func (NoOp) command() string           { return "noop" }
func (MakeCall) command() string       { return "make-call" }
func (AnswerCall) command() string     { return "answer-call" }
func (ForwardCall) command() string    { return "forward-call" }
func (HangCall) command() string       { return "hang-call" }
func (SendDigit) command() string      { return "send-digit" }
func (ManualRingback) command() string { return "manual-ringback" }
func (StopMonitor) command() string    { return "stop-monitor" }

// alwaysAllowed команды, выполняемые и во время регистрации
func alwaysAllowed(cmd Command) bool {
	switch cmd.(type) {
	case NoOp, StopMonitor:
		return true
	}
	return false
}
