package events

const (
	KindSessionStateChanged Kind = "session.state_changed"
	KindSessionStopped      Kind = "session.stopped"
)

// SessionStateChanged carries the previous and the new state by name.
type SessionStateChanged struct {
	Base
	From string
	To   string
}

func NewSessionStateChanged(from, to string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), From: from, To: to}
}

// SessionStopped is the last event of a session. Err is nil after an
// explicit stop.
type SessionStopped struct {
	Base
	Err error
}

func NewSessionStopped(err error) SessionStopped {
	return SessionStopped{Base: NewBase(KindSessionStopped), Err: err}
}
