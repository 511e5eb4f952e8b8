package orchestrator

// State is a stage of the connect → balance → contract → listings sequence.
type State string

const (
	StateDisconnected    State = "DISCONNECTED"
	StateConnecting      State = "CONNECTING"
	StateBalanceLoading  State = "BALANCE_LOADING"
	StateContractReady   State = "CONTRACT_READY"
	StateListingsLoading State = "LISTINGS_LOADING"
	StateReady           State = "READY"
	StateError           State = "ERROR"
)

// String returns the string representation of State.
func (s State) String() string {
	return string(s)
}

// Transition is published to subscribers on every state change.
// Err is set when To is StateError.
type Transition struct {
	From State
	To   State
	Err  error
}
