package toolwire

import "fmt"

// CallState is the lifecycle position of a call.
type CallState int

const (
	StateQueued CallState = iota
	StateAwaitingApproval
	StateExecuting
	StateSucceeded
	StatePartiallySucceeded
	StateFailed
	StateRejected
	StateCancelled
)

var stateNames = [...]string{
	StateQueued:             "Queued",
	StateAwaitingApproval:   "AwaitingApproval",
	StateExecuting:          "Executing",
	StateSucceeded:          "Succeeded",
	StatePartiallySucceeded: "PartiallySucceeded",
	StateFailed:             "Failed",
	StateRejected:           "Rejected",
	StateCancelled:          "Cancelled",
}

func (s CallState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("CallState(%d)", int(s))
	}
	return stateNames[s]
}

// Final reports whether no further transition can leave s.
func (s CallState) Final() bool {
	return s >= StateSucceeded && int(s) < len(stateNames)
}

// MarshalText encodes the state by name.
func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *CallState) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = CallState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown call state %q", b)
}

// canTransition reports whether from → to is a lifecycle edge.
func canTransition(from, to CallState) bool {
	switch from {
	case StateQueued:
		return to == StateAwaitingApproval || to == StateFailed
	case StateAwaitingApproval:
		return to == StateExecuting || to == StateRejected
	case StateExecuting:
		return to == StateSucceeded || to == StatePartiallySucceeded ||
			to == StateFailed || to == StateCancelled
	default:
		return false
	}
}
