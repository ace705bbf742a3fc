package workerthread

// State is the lifecycle position of a Controller.
type State int

const (
	NotStarted State = iota
	Running
	TerminationRequested
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case TerminationRequested:
		return "termination-requested"
	case ShuttingDown:
		return "shutting-down"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
