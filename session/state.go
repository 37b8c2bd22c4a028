package session

import "fmt"

// State is a session's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal edges. Any state may go to Disconnected when
// the store shuts a session down; Failed is otherwise terminal.
var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Failed, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Failed, Disconnected},
	Failed:       {Disconnected},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is reported to the store's transition hook.
type Transition struct {
	Domain    string
	SessionID string
	From, To  State
}
