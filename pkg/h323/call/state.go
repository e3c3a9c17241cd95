package call

// State состояние жизненного цикла вызова. Порядок значений существенен:
// все состояния начиная со StateClear означают завершение.
type State int

const (
	StateCreated State = iota
	StateWaitingAdmission
	StateConnecting
	StateConnected
	StatePaused
	StateClear
	StateClearReleaseRecvd
	StateClearReleaseSent
	StateCleared
	StateRemoved
)

var stateNames = map[State]string{
	StateCreated:           "CREATED",
	StateWaitingAdmission:  "WAITING_ADMISSION",
	StateConnecting:        "CONNECTING",
	StateConnected:         "CONNECTED",
	StatePaused:            "PAUSED",
	StateClear:             "CLEAR",
	StateClearReleaseRecvd: "CLEAR_RELEASERECVD",
	StateClearReleaseSent:  "CLEAR_RELEASESENT",
	StateCleared:           "CLEARED",
	StateRemoved:           "REMOVED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Clearing вызов достиг порога завершения
func (s State) Clearing() bool { return s >= StateClear }

// SessionState состояние сессии H.245
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionPaused
	SessionActive
	SessionEndSent
	SessionEndRecvd
	SessionClosed
)

var sessionNames = map[SessionState]string{
	SessionIdle:     "IDLE",
	SessionPaused:   "PAUSED",
	SessionActive:   "ACTIVE",
	SessionEndSent:  "ENDSENT",
	SessionEndRecvd: "ENDRECVD",
	SessionClosed:   "CLOSED",
}

func (s SessionState) String() string {
	if name, ok := sessionNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ProcedureState состояние процедуры обмена (MSD, TCS)
type ProcedureState int

const (
	ProcedureIdle ProcedureState = iota
	ProcedureSent
	ProcedureDone
)

// Direction направление вызова
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}
