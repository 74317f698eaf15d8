package flasher

// State is the session lifecycle state.
type State string

// Session states.
//
// Flash path: Idle → Connecting → Negotiating → VerifyingStub → Erasing →
// Writing → Resetting → Registering → Completed. Failed is reachable from
// any non-terminal state. Monitoring is entered only from Idle or Completed.
const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateNegotiating   State = "negotiating"
	StateVerifyingStub State = "verifying_stub"
	StateErasing       State = "erasing"
	StateWriting       State = "writing"
	StateResetting     State = "resetting"
	StateRegistering   State = "registering"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateMonitoring    State = "monitoring"
)

// IsTerminal reports whether the state ends a flash session.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// canStartFlash reports whether a new flash may begin from this state.
// Terminal states count as available; their outcome has been delivered.
func (s State) canStartFlash() bool {
	return s == StateIdle || s.IsTerminal()
}

// canStartMonitor reports whether the live monitor may begin from this
// state. Only Idle and Completed qualify; a Failed session must be
// disconnected first so its port teardown is explicit.
func (s State) canStartMonitor() bool {
	return s == StateIdle || s == StateCompleted
}
