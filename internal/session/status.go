package session

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreated   Status = "created"
	StatusListening Status = "listening"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

var transitions = map[Status][]Status{
	StatusCreated:   {StatusListening, StatusActive, StatusError, StatusStopped},
	StatusListening: {StatusActive, StatusEnded, StatusError, StatusStopped},
	StatusActive:    {StatusEnded, StatusError, StatusStopped},
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusCreated, StatusListening, StatusActive, StatusEnded, StatusError, StatusStopped}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusError || s == StatusStopped
}

// IsRunning reports whether an ingest process is expected to be alive.
func (s Status) IsRunning() bool {
	return s == StatusListening || s == StatusActive
}
