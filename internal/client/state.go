package client

// State is the local lifecycle of one record.
type State int

const (
	// Clean records match the last value confirmed by the server.
	Clean State = iota
	// Editing records have an edit open; incoming broadcasts are queued.
	Editing
	// InFlight records have a persist request outstanding; incoming
	// broadcasts are queued.
	InFlight
	// Reconciling records are absorbing a broadcast.
	Reconciling
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Editing:
		return "editing"
	case InFlight:
		return "in-flight"
	case Reconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

// holdsBroadcasts reports whether incoming broadcasts must wait.
func (s State) holdsBroadcasts() bool {
	return s == Editing || s == InFlight
}
