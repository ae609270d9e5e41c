package search

import "fmt"

// State is the phase of a trace. The backward chain and the forward frontier
// advance together; ExpandingForward means only the frontier is left.
type State int

const (
	Idle State = iota
	ExpandingBackward
	ExpandingForward
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ExpandingBackward:
		return "expanding-backward"
	case ExpandingForward:
		return "expanding-forward"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
