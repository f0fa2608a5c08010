package stream

import "fmt"

// State is the lifecycle of a single streaming invocation.
//
//	Idle -> Requesting -> Streaming -> {Completed | Failed}
//
// Streaming is re-entered once per read; Completed and Failed are terminal and
// reachable from both Requesting and Streaming.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateFailed
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
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateIdle:
		return next == StateRequesting
	case StateRequesting:
		return next == StateStreaming || next == StateCompleted || next == StateFailed
	case StateStreaming:
		return next == StateStreaming || next == StateCompleted || next == StateFailed
	case StateCompleted, StateFailed:
		return false
	}
	return false
}

// transition moves the parser to next, rejecting illegal moves.
func (p *Parser) transition(next State) error {
	for {
		cur := State(p.state.Load())
		if !cur.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
		}
		if p.state.CompareAndSwap(int32(cur), int32(next)) {
			return nil
		}
	}
}
