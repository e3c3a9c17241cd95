// Package h245 модель сообщений управления медиа H.245 и их кодек.
package h245

import (
	"fmt"
	"net/netip"
)

// MsgType тип сообщения H.245
type MsgType uint8

const (
	MsgNone MsgType = iota
	MasterSlaveDetermination
	MasterSlaveDeterminationAck
	MasterSlaveDeterminationReject
	MasterSlaveDeterminationRelease
	TerminalCapabilitySet
	TerminalCapabilitySetAck
	TerminalCapabilitySetReject
	TerminalCapabilitySetRelease
	OpenLogicalChannel
	OpenLogicalChannelAck
	OpenLogicalChannelReject
	CloseLogicalChannel
	CloseLogicalChannelAck
	RequestChannelClose
	RequestChannelCloseAck
	RequestChannelCloseReject
	RequestChannelCloseRelease
	EndSessionCommand
	UserInputIndication
	RoundTripDelayRequest
	RoundTripDelayResponse
	msgTypeCount
)

var msgTypeNames = [...]string{
	MsgNone:                         "None",
	MasterSlaveDetermination:        "MasterSlaveDetermination",
	MasterSlaveDeterminationAck:     "MasterSlaveDeterminationAck",
	MasterSlaveDeterminationReject:  "MasterSlaveDeterminationReject",
	MasterSlaveDeterminationRelease: "MasterSlaveDeterminationRelease",
	TerminalCapabilitySet:           "TerminalCapabilitySet",
	TerminalCapabilitySetAck:        "TerminalCapabilitySetAck",
	TerminalCapabilitySetReject:     "TerminalCapabilitySetReject",
	TerminalCapabilitySetRelease:    "TerminalCapabilitySetRelease",
	OpenLogicalChannel:              "OpenLogicalChannel",
	OpenLogicalChannelAck:           "OpenLogicalChannelAck",
	OpenLogicalChannelReject:        "OpenLogicalChannelReject",
	CloseLogicalChannel:             "CloseLogicalChannel",
	CloseLogicalChannelAck:          "CloseLogicalChannelAck",
	RequestChannelClose:             "RequestChannelClose",
	RequestChannelCloseAck:          "RequestChannelCloseAck",
	RequestChannelCloseReject:       "RequestChannelCloseReject",
	RequestChannelCloseRelease:      "RequestChannelCloseRelease",
	EndSessionCommand:               "EndSessionCommand",
	UserInputIndication:             "UserInputIndication",
	RoundTripDelayRequest:           "RoundTripDelayRequest",
	RoundTripDelayResponse:          "RoundTripDelayResponse",
}

func (t MsgType) String() string {
	if t < msgTypeCount {
		return msgTypeNames[t]
	}
	return fmt.Sprintf("H245Msg(%d)", uint8(t))
}

// Decision результат определения ведущий/ведомый
type Decision uint8

const (
	DecisionIndeterminate Decision = iota
	DecisionMaster
	DecisionSlave
)

func (d Decision) String() string {
	switch d {
	case DecisionMaster:
		return "master"
	case DecisionSlave:
		return "slave"
	}
	return "indeterminate"
}

// Opposite решение для другой стороны
func (d Decision) Opposite() Decision {
	switch d {
	case DecisionMaster:
		return DecisionSlave
	case DecisionSlave:
		return DecisionMaster
	}
	return DecisionIndeterminate
}

// Причины отказа
const (
	CauseUnspecified                 uint8 = 0
	CauseUnsuitableReverseParameters uint8 = 1
	CauseDataTypeNotSupported        uint8 = 2
	CauseDataTypeNotAvailable        uint8 = 3
	CauseIdenticalNumbers            uint8 = 4
	CauseMasterSlaveConflict         uint8 = 5
)

// Источник закрытия логического канала
const (
	SourceUser uint8 = 0
	SourceLCSE uint8 = 1
)

// TerminalTypeEndpoint тип терминала конечной точки для MSD
const TerminalTypeEndpoint uint8 = 60

// Capability возможность в наборе TCS
type Capability struct {
	Name      string
	SessionID uint8
	Receive   bool
	Transmit  bool
}

// Message сообщение H.245.
// Набор используемых полей зависит от Type.
type Message struct {
	Type MsgType

	SeqNum                    uint8
	TerminalType              uint8
	StatusDeterminationNumber uint32
	Decision                  Decision

	Capabilities []Capability // пустой TCS означает паузу сессии

	ChannelNumber uint16
	SessionID     uint8
	Capability    string
	MediaChannel  netip.AddrPort // RTP
	MediaControl  netip.AddrPort // RTCP
	// Reverse предложение быстрого старта на прием: MediaChannel адрес
	// предлагающей стороны
	Reverse bool

	Cause  uint8
	Source uint8
	Digits string
}

// IsEmptyCapabilitySet проверяет TCS без возможностей (пауза сессии)
func (m *Message) IsEmptyCapabilitySet() bool {
	return m.Type == TerminalCapabilitySet && len(m.Capabilities) == 0
}

// IsRequest проверяет что сообщение требует ответа
func (t MsgType) IsRequest() bool {
	switch t {
	case MasterSlaveDetermination, TerminalCapabilitySet, OpenLogicalChannel,
		CloseLogicalChannel, RequestChannelClose, RoundTripDelayRequest:
		return true
	}
	return false
}
