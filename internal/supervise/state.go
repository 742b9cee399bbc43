package supervise

import "fmt"

// State is the lifecycle phase of one managed process record.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateErrored  State = "errored"
)

// Terminal reports whether no further transitions can occur without a
// fresh launch (or an explicit error clear).
func (s State) Terminal() bool {
	return s == StateStopped || s == StateErrored
}

// Live reports whether the record still owns an OS process.
func (s State) Live() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

func transitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, from, to)
}
