package stream

import "fmt"

// ConnState is the per-stream connection state machine from spec §3.
type ConnState int32

const (
	Created ConnState = iota
	AwaitingConnect
	ConnectedReady
	AttachedRunning
	Detaching
	Dead
)

func (s ConnState) String() string {
	switch s {
	case Created:
		return "CREATED"
	case AwaitingConnect:
		return "AWAITING_CONNECT"
	case ConnectedReady:
		return "CONNECTED_READY"
	case AttachedRunning:
		return "ATTACHED_RUNNING"
	case Detaching:
		return "DETACHING"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// ErrIllegalTransition is returned when a caller attempts a connection
// state transition the machine does not permit, per spec §3's exhaustive
// transition list.
type ErrIllegalTransition struct {
	From, To ConnState
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("stream: illegal transition %s -> %s", e.From, e.To)
}

var legalTransitions = map[ConnState][]ConnState{
	Created:         {AwaitingConnect},
	AwaitingConnect: {ConnectedReady, Dead},
	ConnectedReady:  {AttachedRunning, Detaching},
	AttachedRunning: {Detaching},
	Detaching:       {Dead},
	Dead:            nil,
}

// Transition validates and applies a connection state transition. It is
// the only call site that mutates RStream.state, so every state change in
// the system funnels through spec §3's "transitions driven exclusively by
// messages" rule.
func Transition(s *RStream, next ConnState) error {
	cur := s.State()
	for _, allowed := range legalTransitions[cur] {
		if allowed == next {
			s.setState(next)
			return nil
		}
	}
	return &ErrIllegalTransition{From: cur, To: next}
}
