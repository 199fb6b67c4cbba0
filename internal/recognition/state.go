package recognition

type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateDraining
	StateClosed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

func (s State) active() bool {
	return s == StateStarting || s == StateStreaming || s == StateDraining
}
