package raop

// State is the session's position in the streaming state machine.
//
// Down is both the initial state and the terminal state after Stop or
// Disconnect. Connect leaves the session Flushed and ready for StartAt;
// the first successful SendChunk moves it to Streaming. Flush passes
// through Flushing while the receiver discards its buffer and settles in
// Flushed. Pause returns to Flushed with the start context intact.
type State int

const (
	// StateDown is the initial and terminal state: no stream timeline
	// exists and frames are rejected.
	StateDown State = iota
	// StateFlushing means a flush is in flight and the receiver has
	// not acknowledged it yet.
	StateFlushing
	// StateFlushed means the receiver holds no audio and the session
	// accepts StartAt or, with a surviving start context, more frames.
	StateFlushed
	// StateStreaming means frames are flowing against a live timeline.
	StateStreaming
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateFlushing:
		return "flushing"
	case StateFlushed:
		return "flushed"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}
