package session

// State is the lifecycle of a tutoring session.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota
	// StateConnecting covers dialing the model and opening the
	// microphone.
	StateConnecting
	// StateRecording streams microphone audio to the model.
	StateRecording
	// StatePaused keeps the session open but drops microphone audio,
	// either by user request or while the tutor is speaking.
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}
