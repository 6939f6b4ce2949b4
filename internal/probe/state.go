package probe

// State is a step of the startup probe. Terminal states are Ready,
// TimedOut and Failed.
type State int32

const (
	Starting State = iota
	WaitingForPid
	WaitingForPort
	HealthChecking
	Ready
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case WaitingForPid:
		return "waiting-for-pid"
	case WaitingForPort:
		return "waiting-for-port"
	case HealthChecking:
		return "health-checking"
	case Ready:
		return "ready"
	case TimedOut:
		return "timed-out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool { return s == Ready || s == TimedOut || s == Failed }
