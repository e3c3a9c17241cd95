package call

import "github.com/arzzra/h323ep/pkg/h323/h225"

// Q931Cause код причины и причина H.225 для ReleaseComplete при локальном завершении
func Q931Cause(r EndReason) (cause uint8, reason uint8) {
	switch r {
	case ReasonInvalidMessage:
		return h225.CauseInvalidMessage, h225.ReasonUndefined
	case ReasonTransportFailure:
		return h225.CauseProtocolErrUnspecified, h225.ReasonUndefined
	case ReasonNoRoute:
		return h225.CauseNoRouteToDestination, h225.ReasonUnreachableDestination
	case ReasonNoUser:
		return h225.CauseUnallocatedNumber, h225.ReasonCalledPartyNotRegistered
	case ReasonNoBandwidth:
		return h225.CauseResourceUnavailable, h225.ReasonNoBandwidth
	case ReasonGkNoCalledUser:
		return h225.CauseUnallocatedNumber, h225.ReasonCalledPartyNotRegistered
	case ReasonGkNoCallerUser:
		return h225.CauseCallRejected, h225.ReasonCallerNotRegistered
	case ReasonGkNoResources:
		return h225.CauseNoCircuitAvailable, h225.ReasonGatekeeperResources
	case ReasonGkUnreachable:
		return h225.CauseNoRouteToDestination, h225.ReasonUnreachableGatekeeper
	case ReasonNoCommonCapabilities:
		return h225.CauseIncompatibleDest, h225.ReasonUndefined
	case ReasonLocalForwarded:
		return h225.CauseNormalCallClearing, h225.ReasonFacilityCallDeflection
	case ReasonLocalBusy:
		return h225.CauseUserBusy, h225.ReasonAdaptiveBusy
	case ReasonLocalNotAnswered:
		return h225.CauseNoAnswer, h225.ReasonUndefined
	case ReasonLocalRejected:
		return h225.CauseCallRejected, h225.ReasonDestinationRejection
	case ReasonLocalCongested:
		return h225.CauseSwitchingCongestion, h225.ReasonGatewayResources
	}
	return h225.CauseNormalCallClearing, h225.ReasonUndefined
}

// ReasonFromRelease причина завершения по полученному ReleaseComplete
func ReasonFromRelease(m *h225.Message) EndReason {
	if m.HasReason {
		switch m.ReleaseReason {
		case h225.ReasonNoBandwidth:
			return ReasonNoBandwidth
		case h225.ReasonGatekeeperResources:
			return ReasonGkNoResources
		case h225.ReasonUnreachableDestination:
			return ReasonNoRoute
		case h225.ReasonDestinationRejection:
			return ReasonRemoteRejected
		case h225.ReasonAdaptiveBusy, h225.ReasonInConf:
			return ReasonRemoteBusy
		case h225.ReasonUnreachableGatekeeper:
			return ReasonGkUnreachable
		case h225.ReasonGatewayResources:
			return ReasonRemoteCongested
		case h225.ReasonCalledPartyNotRegistered:
			return ReasonGkNoCalledUser
		case h225.ReasonCallerNotRegistered:
			return ReasonGkNoCallerUser
		case h225.ReasonFacilityCallDeflection:
			return ReasonRemoteForwarded
		}
	}

	switch m.Cause {
	case h225.CauseUserBusy:
		return ReasonRemoteBusy
	case h225.CauseNoUserResponding, h225.CauseNoAnswer:
		return ReasonRemoteNoAnswer
	case h225.CauseCallRejected:
		return ReasonRemoteRejected
	case h225.CauseNoRouteToDestination, h225.CauseDestinationOutOfOrder:
		return ReasonNoRoute
	case h225.CauseUnallocatedNumber:
		return ReasonNoUser
	case h225.CauseSwitchingCongestion, h225.CauseNoCircuitAvailable, h225.CauseResourceUnavailable:
		return ReasonRemoteCongested
	case h225.CauseIncompatibleDest:
		return ReasonNoCommonCapabilities
	case h225.CauseInvalidMessage:
		return ReasonInvalidMessage
	}
	return ReasonRemoteCleared
}
