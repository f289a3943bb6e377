package relay

// State is a step of the per-message pipeline.
type State int

const (
	Receiving State = iota
	Parsing
	Mapping
	Delivering
	Acknowledged
	Rejected
)

func (s State) String() string {
	switch s {
	case Receiving:
		return "receiving"
	case Parsing:
		return "parsing"
	case Mapping:
		return "mapping"
	case Delivering:
		return "delivering"
	case Acknowledged:
		return "acknowledged"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == Acknowledged || s == Rejected
}
