package consent

// State is the visitor's consent state.
type State int

const (
	// NotAccepted is the initial state unless storage says otherwise.
	NotAccepted State = iota
	// Accepted is entered only through an explicit Consent(true).
	Accepted
)

func (s State) String() string {
	if s == Accepted {
		return "accepted"
	}
	return "not-accepted"
}
