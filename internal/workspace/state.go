package workspace

// State is the lifecycle position of one generation attempt.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ActiveKind is what, if anything, currently holds the workspace.
type ActiveKind int

const (
	ActiveNone ActiveKind = iota
	ActiveGenerating
	ActiveRefining
)

func (k ActiveKind) String() string {
	switch k {
	case ActiveGenerating:
		return "generating"
	case ActiveRefining:
		return "refining"
	default:
		return "none"
	}
}

func (k ActiveKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
