package ras

import (
	"fmt"

	"github.com/arzzra/h323ep/pkg/h323/call"
)

// RejectReason причина отказа GRJ/RRJ/URJ/ARJ/DRJ
type RejectReason uint8

const (
	ReasonUndefined RejectReason = iota
	ReasonResourceUnavailable
	ReasonTerminalExcluded
	ReasonInvalidRevision
	ReasonSecurityDenial
	ReasonDiscoveryRequired
	ReasonInvalidCallSignalAddress
	ReasonInvalidRASAddress
	ReasonDuplicateAlias
	ReasonInvalidTerminalType
	ReasonTransportNotSupported
	ReasonFullRegistrationRequired
	ReasonNotCurrentlyRegistered
	ReasonCalledPartyNotRegistered
	ReasonInvalidPermission
	ReasonRequestDenied
	ReasonCallerNotRegistered
	ReasonRouteCallToGatekeeper
	ReasonInvalidEndpointIdentifier
	ReasonIncompleteAddress
	ReasonExceedsCallCapacity
	ReasonNoRouteToDestination
	ReasonUnallocatedNumber
	reasonCount
)

var reasonNames = [...]string{
	ReasonUndefined:                 "undefinedReason",
	ReasonResourceUnavailable:       "resourceUnavailable",
	ReasonTerminalExcluded:          "terminalExcluded",
	ReasonInvalidRevision:           "invalidRevision",
	ReasonSecurityDenial:            "securityDenial",
	ReasonDiscoveryRequired:         "discoveryRequired",
	ReasonInvalidCallSignalAddress:  "invalidCallSignalAddress",
	ReasonInvalidRASAddress:         "invalidRASAddress",
	ReasonDuplicateAlias:            "duplicateAlias",
	ReasonInvalidTerminalType:       "invalidTerminalType",
	ReasonTransportNotSupported:     "transportNotSupported",
	ReasonFullRegistrationRequired:  "fullRegistrationRequired",
	ReasonNotCurrentlyRegistered:    "notCurrentlyRegistered",
	ReasonCalledPartyNotRegistered:  "calledPartyNotRegistered",
	ReasonInvalidPermission:         "invalidPermission",
	ReasonRequestDenied:             "requestDenied",
	ReasonCallerNotRegistered:       "callerNotRegistered",
	ReasonRouteCallToGatekeeper:     "routeCallToGatekeeper",
	ReasonInvalidEndpointIdentifier: "invalidEndpointIdentifier",
	ReasonIncompleteAddress:         "incompleteAddress",
	ReasonExceedsCallCapacity:       "exceedsCallCapacity",
	ReasonNoRouteToDestination:      "noRouteToDestination",
	ReasonUnallocatedNumber:         "unallocatedNumber",
}

func (r RejectReason) String() string {
	if r < reasonCount {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// AdmissionEndReason причина завершения вызова по причине ARJ
func AdmissionEndReason(r RejectReason) call.EndReason {
	switch r {
	case ReasonCalledPartyNotRegistered:
		return call.ReasonGkNoCalledUser
	case ReasonCallerNotRegistered:
		return call.ReasonGkNoCallerUser
	case ReasonExceedsCallCapacity, ReasonResourceUnavailable:
		return call.ReasonGkNoResources
	case ReasonNoRouteToDestination, ReasonUnallocatedNumber:
		return call.ReasonGkUnreachable
	}
	return call.ReasonGkCleared
}
