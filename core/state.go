package orchestration

type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateCapturing        SessionState = "capturing"
	StateAwaitingResponse SessionState = "awaiting_response"
	StatePlaying          SessionState = "playing"
	StateReconnecting     SessionState = "reconnecting"
	StateStopped          SessionState = "stopped"
)

var transitions = map[SessionState][]SessionState{
	StateIdle:             {StateCapturing, StateStopped},
	StateCapturing:        {StateAwaitingResponse, StatePlaying, StateReconnecting, StateStopped},
	StateAwaitingResponse: {StateCapturing, StatePlaying, StateReconnecting, StateStopped},
	StatePlaying:          {StateCapturing, StateReconnecting, StateStopped},
	StateReconnecting:     {StateCapturing, StateStopped},
	StateStopped:          nil,
}

func (s SessionState) canTransition(to SessionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsCaptureActive reports whether the microphone may be recording in this
// state.
func (s SessionState) IsCaptureActive() bool { return s == StateCapturing }

func (s SessionState) IsTerminal() bool { return s == StateStopped }
