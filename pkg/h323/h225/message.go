// Package h225 модель сообщений сигнализации вызова Q.931/H.225 и их кодек.
package h225

import (
	"fmt"
	"net/netip"

	"github.com/arzzra/h323ep/pkg/h323/alias"
)

// MsgType тип сообщения Q.931
type MsgType uint8

const (
	MsgNone         MsgType = 0x00
	Alerting        MsgType = 0x01
	CallProceeding  MsgType = 0x02
	Progress        MsgType = 0x03
	Setup           MsgType = 0x05
	Connect         MsgType = 0x07
	ReleaseComplete MsgType = 0x5a
	Facility        MsgType = 0x62
	Notify          MsgType = 0x6e
	StatusEnquiry   MsgType = 0x75
	Information     MsgType = 0x7b
	Status          MsgType = 0x7d
)

var msgTypeNames = map[MsgType]string{
	MsgNone:         "None",
	Alerting:        "Alerting",
	CallProceeding:  "CallProceeding",
	Progress:        "Progress",
	Setup:           "Setup",
	Connect:         "Connect",
	ReleaseComplete: "ReleaseComplete",
	Facility:        "Facility",
	Notify:          "Notify",
	StatusEnquiry:   "StatusEnquiry",
	Information:     "Information",
	Status:          "Status",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Q931Msg(0x%02x)", uint8(t))
}

// Valid проверяет что тип известен
func (t MsgType) Valid() bool {
	_, ok := msgTypeNames[t]
	return ok && t != MsgNone
}

// Коды причин Q.931
const (
	CauseUnallocatedNumber      uint8 = 1
	CauseNoRouteToDestination   uint8 = 3
	CauseNormalCallClearing     uint8 = 16
	CauseUserBusy               uint8 = 17
	CauseNoUserResponding       uint8 = 18
	CauseNoAnswer               uint8 = 19
	CauseCallRejected           uint8 = 21
	CauseDestinationOutOfOrder  uint8 = 27
	CauseInvalidNumberFormat    uint8 = 28
	CauseNormalUnspecified      uint8 = 31
	CauseNoCircuitAvailable     uint8 = 34
	CauseSwitchingCongestion    uint8 = 42
	CauseResourceUnavailable    uint8 = 47
	CauseIncompatibleDest       uint8 = 88
	CauseInvalidMessage         uint8 = 95
	CauseRecoveryOnTimerExpiry  uint8 = 102
	CauseProtocolErrUnspecified uint8 = 111
)

// Причины освобождения H.225 (releaseCompleteReason)
const (
	ReasonNoBandwidth              uint8 = 0
	ReasonGatekeeperResources      uint8 = 1
	ReasonUnreachableDestination   uint8 = 2
	ReasonDestinationRejection     uint8 = 3
	ReasonInvalidRevision          uint8 = 4
	ReasonNoPermission             uint8 = 5
	ReasonUnreachableGatekeeper    uint8 = 6
	ReasonGatewayResources         uint8 = 7
	ReasonBadFormatAddress         uint8 = 8
	ReasonAdaptiveBusy             uint8 = 9
	ReasonInConf                   uint8 = 10
	ReasonUndefined                uint8 = 11
	ReasonFacilityCallDeflection   uint8 = 12
	ReasonSecurityDenied           uint8 = 13
	ReasonCalledPartyNotRegistered uint8 = 14
	ReasonCallerNotRegistered      uint8 = 15
)

// Причины Facility
const (
	FacilityRouteCallToGatekeeper uint8 = 0
	FacilityCallForwarded         uint8 = 1
	FacilityRouteCallToMC         uint8 = 2
	FacilityUndefined             uint8 = 3
	FacilityConferenceListChoice  uint8 = 4
	FacilityStartH245             uint8 = 5
	FacilityNoH245                uint8 = 6
	FacilityTransportedInfo       uint8 = 8
)

// Message сообщение Q.931 с полями пользовательской части H.225
type Message struct {
	Type            MsgType
	CallReference   uint16
	FromDestination bool // флаг ссылки вызова: сообщение от вызываемой стороны

	CallID       [16]byte
	ConferenceID [16]byte

	CallingNumber string
	CalledNumber  string
	Display       string

	SourceAliases    alias.List
	DestAliases      alias.List
	SourceCallSignal netip.AddrPort
	DestCallSignal   netip.AddrPort

	H245Address   netip.AddrPort
	H245Tunneling bool
	H245Control   [][]byte // туннелированные сообщения H.245
	FastStart     [][]byte // предложения/ответы быстрого старта (закодированные OLC)

	Cause          uint8 // Q.931 cause
	ReleaseReason  uint8
	HasReason      bool
	FacilityReason uint8

	AlternativeAddress netip.AddrPort
	AlternativeAliases alias.List
}
