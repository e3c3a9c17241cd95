package call

// EndReason причина завершения вызова
type EndReason int

const (
	ReasonUnknown EndReason = iota
	ReasonInvalidMessage
	ReasonTransportFailure
	ReasonNoRoute
	ReasonNoUser
	ReasonNoBandwidth
	ReasonGkNoCalledUser
	ReasonGkNoCallerUser
	ReasonGkNoResources
	ReasonGkUnreachable
	ReasonGkCleared
	ReasonNoCommonCapabilities
	ReasonRemoteForwarded
	ReasonLocalForwarded
	ReasonRemoteCleared
	ReasonLocalCleared
	ReasonRemoteBusy
	ReasonLocalBusy
	ReasonRemoteNoAnswer
	ReasonLocalNotAnswered
	ReasonRemoteRejected
	ReasonLocalRejected
	ReasonRemoteCongested
	ReasonLocalCongested
)

var reasonNames = map[EndReason]string{
	ReasonUnknown:              "UNKNOWN",
	ReasonInvalidMessage:       "INVALIDMESSAGE",
	ReasonTransportFailure:     "TRANSPORTFAILURE",
	ReasonNoRoute:              "NOROUTE",
	ReasonNoUser:               "NOUSER",
	ReasonNoBandwidth:          "NOBW",
	ReasonGkNoCalledUser:       "GK_NOCALLEDUSER",
	ReasonGkNoCallerUser:       "GK_NOCALLERUSER",
	ReasonGkNoResources:        "GK_NORESOURCES",
	ReasonGkUnreachable:        "GK_UNREACHABLE",
	ReasonGkCleared:            "GK_CLEARED",
	ReasonNoCommonCapabilities: "NOCOMMON_CAPABILITIES",
	ReasonRemoteForwarded:      "REMOTE_FWDED",
	ReasonLocalForwarded:       "LOCAL_FWDED",
	ReasonRemoteCleared:        "REMOTE_CLEARED",
	ReasonLocalCleared:         "LOCAL_CLEARED",
	ReasonRemoteBusy:           "REMOTE_BUSY",
	ReasonLocalBusy:            "LOCAL_BUSY",
	ReasonRemoteNoAnswer:       "REMOTE_NOANSWER",
	ReasonLocalNotAnswered:     "LOCAL_NOTANSWERED",
	ReasonRemoteRejected:       "REMOTE_REJECTED",
	ReasonLocalRejected:        "LOCAL_REJECTED",
	ReasonRemoteCongested:      "REMOTE_CONGESTED",
	ReasonLocalCongested:       "LOCAL_CONGESTED",
}

var reasonTexts = map[EndReason]string{
	ReasonUnknown:              "Call ended for unknown reason",
	ReasonInvalidMessage:       "Call ended due to invalid message",
	ReasonTransportFailure:     "Call ended due to transport failure",
	ReasonNoRoute:              "Call ended: no route to destination",
	ReasonNoUser:               "Call ended: no such user",
	ReasonNoBandwidth:          "Call ended: insufficient bandwidth",
	ReasonGkNoCalledUser:       "Call ended: gatekeeper does not know the called party",
	ReasonGkNoCallerUser:       "Call ended: gatekeeper does not know the caller",
	ReasonGkNoResources:        "Call ended: gatekeeper out of resources",
	ReasonGkUnreachable:        "Call ended: destination unreachable via gatekeeper",
	ReasonGkCleared:            "Call cleared by gatekeeper",
	ReasonNoCommonCapabilities: "Call ended: no common media capabilities",
	ReasonRemoteForwarded:      "Call forwarded by remote endpoint",
	ReasonLocalForwarded:       "Call forwarded by local endpoint",
	ReasonRemoteCleared:        "Call cleared by remote endpoint",
	ReasonLocalCleared:         "Call cleared by local endpoint",
	ReasonRemoteBusy:           "Remote endpoint is busy",
	ReasonLocalBusy:            "Local endpoint is busy",
	ReasonRemoteNoAnswer:       "Remote endpoint did not answer",
	ReasonLocalNotAnswered:     "Local endpoint did not answer",
	ReasonRemoteRejected:       "Remote endpoint rejected the call",
	ReasonLocalRejected:        "Local endpoint rejected the call",
	ReasonRemoteCongested:      "Remote endpoint is congested",
	ReasonLocalCongested:       "Local endpoint is congested",
}

func (r EndReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// Text человекочитаемое описание причины
func (r EndReason) Text() string {
	if text, ok := reasonTexts[r]; ok {
		return text
	}
	return reasonTexts[ReasonUnknown]
}

// ParseEndReason разбирает имя причины
func ParseEndReason(s string) (EndReason, bool) {
	for r, name := range reasonNames {
		if name == s {
			return r, true
		}
	}
	return ReasonUnknown, false
}
