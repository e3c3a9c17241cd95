package ras

import (
	"context"

	"github.com/looplab/fsm"
)

// State состояние клиента гейткипера
type State string

const (
	StateIdle         State = "idle"
	StateDiscovered   State = "discovered"
	StateRegistered   State = "registered"
	StateUnregistered State = "unregistered"
	StateGkError      State = "gk-error"
	StateFailed       State = "failed"
)

// События автомата
const (
	evDiscovered   = "gatekeeper-confirmed"
	evRegistered   = "registration-confirmed"
	evUnregistered = "unregistered"
	evGkError      = "gatekeeper-error"
	evFailed       = "failed"
	evReset        = "reset"
)

var allStates = []string{
	string(StateIdle),
	string(StateDiscovered),
	string(StateRegistered),
	string(StateUnregistered),
	string(StateGkError),
	string(StateFailed),
}

// newStateMachine инициализирует конечный автомат состояний клиента
func newStateMachine(onEnter func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			// GCF получен (или полная перерегистрация по URQ)
			{Name: evDiscovered, Src: []string{
				string(StateIdle), string(StateDiscovered), string(StateRegistered),
				string(StateUnregistered), string(StateGkError), string(StateFailed),
			}, Dst: string(StateDiscovered)},
			// RCF принимается только после обнаружения
			{Name: evRegistered, Src: []string{
				string(StateDiscovered), string(StateRegistered), string(StateUnregistered),
			}, Dst: string(StateRegistered)},
			// Исчерпаны повторы или локальное снятие регистрации
			{Name: evUnregistered, Src: []string{
				string(StateIdle), string(StateDiscovered), string(StateRegistered),
				string(StateUnregistered), string(StateGkError),
			}, Dst: string(StateUnregistered)},
			// Отказ гейткипера или исчерпан допуск
			{Name: evGkError, Src: []string{
				string(StateIdle), string(StateDiscovered), string(StateRegistered),
				string(StateUnregistered), string(StateGkError),
			}, Dst: string(StateGkError)},
			// Ошибка построения сообщения
			{Name: evFailed, Src: allStates, Dst: string(StateFailed)},
			// Повторное обнаружение
			{Name: evReset, Src: allStates, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Src), State(e.Dst))
			},
		},
	)
}
