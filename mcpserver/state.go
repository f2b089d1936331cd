package mcpserver

// State is the lifecycle state of a Server.
type State int

const (
	// StateCreated accepts only initialize.
	StateCreated State = iota
	// StateInitialized serves tool requests.
	StateInitialized
	// StateShutdown is entered when Run returns.
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
