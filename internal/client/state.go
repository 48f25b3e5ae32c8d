package client

// State is the session lifecycle of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIntroduced
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIntroduced:
		return "introduced"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// introduced reports whether requests other than Connect may be sent.
func (s State) introduced() bool {
	return s >= StateIntroduced
}
