package bridge

// State is the lifecycle state of a voice session.
type State int

const (
	// StateIdle is the initial state: the bridge exists but nothing has been
	// started.
	StateIdle State = iota

	// StateConnecting means Start was issued and the transport session is
	// being established.
	StateConnecting

	// StateActive means the transport is open, both devices are acquired, and
	// audio is flowing in both directions.
	StateActive

	// StateStopping means teardown has begun: capture has stopped pulling and
	// the devices are being released.
	StateStopping

	// StateClosed is the terminal state of a session that ended deliberately.
	StateClosed

	// StateFailed is the terminal state of a session that ended with an error.
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state. A terminal bridge is never
// reused; a new session means a new Bridge.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Event is a lifecycle input: a user command, a transport signal, or an
// internal completion.
type Event int

const (
	// EventStart is the user start command.
	EventStart Event = iota

	// EventOpened fires when the transport session is open and both devices
	// are acquired.
	EventOpened

	// EventFail fires on any fatal condition: missing credential, dial error,
	// device denial, transport failure, or a protocol violation.
	EventFail

	// EventStop is the user stop command.
	EventStop

	// EventClosed fires when the remote side ends the session cleanly.
	EventClosed

	// EventReleased fires once the device handles have been released during
	// teardown.
	EventReleased
)

// String returns a short name for the event.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventOpened:
		return "opened"
	case EventFail:
		return "fail"
	case EventStop:
		return "stop"
	case EventClosed:
		return "transport_closed"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}

// transition returns the successor of s for event e. The machine is total:
// every pair not listed below returns s unchanged with ok false, so stray
// events in terminal or in-between states are harmless no-ops.
func transition(s State, e Event) (next State, ok bool) {
	switch s {
	case StateIdle:
		switch e {
		case EventStart:
			return StateConnecting, true
		case EventFail:
			// A start with no credential fails before anything is touched.
			return StateFailed, true
		}
	case StateConnecting:
		switch e {
		case EventOpened:
			return StateActive, true
		case EventFail:
			return StateFailed, true
		}
	case StateActive:
		switch e {
		case EventStop, EventClosed:
			return StateStopping, true
		case EventFail:
			return StateFailed, true
		}
	case StateStopping:
		switch e {
		case EventReleased:
			return StateClosed, true
		}
	}
	return s, false
}
