// Package ras реализует клиент гейткипера: обнаружение, регистрацию,
// поддержание регистрации, допуск вызовов, отбой и снятие регистрации.
package ras

import (
	"fmt"
	"net/netip"

	"github.com/arzzra/h323ep/pkg/h323/alias"
)

// MsgType тип сообщения RAS
type MsgType uint8

const (
	MsgNone MsgType = iota
	GatekeeperRequest
	GatekeeperConfirm
	GatekeeperReject
	RegistrationRequest
	RegistrationConfirm
	RegistrationReject
	UnregistrationRequest
	UnregistrationConfirm
	UnregistrationReject
	AdmissionRequest
	AdmissionConfirm
	AdmissionReject
	DisengageRequest
	DisengageConfirm
	DisengageReject
	msgTypeCount
)

var msgTypeNames = [...]string{
	MsgNone:               "None",
	GatekeeperRequest:     "GRQ",
	GatekeeperConfirm:     "GCF",
	GatekeeperReject:      "GRJ",
	RegistrationRequest:   "RRQ",
	RegistrationConfirm:   "RCF",
	RegistrationReject:    "RRJ",
	UnregistrationRequest: "URQ",
	UnregistrationConfirm: "UCF",
	UnregistrationReject:  "URJ",
	AdmissionRequest:      "ARQ",
	AdmissionConfirm:      "ACF",
	AdmissionReject:       "ARJ",
	DisengageRequest:      "DRQ",
	DisengageConfirm:      "DCF",
	DisengageReject:       "DRJ",
}

func (t MsgType) String() string {
	if t < msgTypeCount {
		return msgTypeNames[t]
	}
	return fmt.Sprintf("RAS(%d)", uint8(t))
}

// CallModel модель вызова: напрямую или через гейткипер
type CallModel uint8

const (
	CallModelDirect CallModel = iota
	CallModelGatekeeperRouted
)

func (m CallModel) String() string {
	if m == CallModelGatekeeperRouted {
		return "gatekeeperRouted"
	}
	return "direct"
}

// Message сообщение RAS. Набор используемых полей зависит от Type.
type Message struct {
	Type   MsgType
	SeqNum uint16

	RASAddress        netip.AddrPort
	CallSignalAddress netip.AddrPort

	GatekeeperID string
	EndpointID   string
	Aliases      alias.List
	KeepAlive    bool
	TTL          uint32 // секунды

	RejectReason RejectReason

	CallReference  uint16
	CallID         [16]byte
	ConferenceID   [16]byte
	CallModel      CallModel
	AnswerCall     bool
	Bandwidth      uint32
	SrcAliases     alias.List
	DestAliases    alias.List
	SrcCallSignal  netip.AddrPort
	DestCallSignal netip.AddrPort

	DisengageReason uint8
	AlertTime       int64 // unix секунды
	ConnectTime     int64
	EndTime         int64
}
