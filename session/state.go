package session

// State is the lifecycle position of a session.
type State uint32

const (
	StateUninitialized State = iota
	StateCreating
	StateAttaching
	StateActive
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreating:
		return "creating"
	case StateAttaching:
		return "attaching"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Mode selects who owns the segment file.
type Mode int

const (
	// ModeCreate makes a per-process segment at the well known path and
	// unlinks it on close.
	ModeCreate Mode = iota
	// ModeAttach maps a segment a collector created beforehand and leaves
	// it in place on close.
	ModeAttach
)

func (m Mode) String() string {
	if m == ModeAttach {
		return "attach"
	}
	return "create"
}
