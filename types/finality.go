package types

// FinalityState tracks a unit's progress toward permanent inclusion.
// Pending on creation, Ordered once placed by the ordering engine, Finalized
// once a committed round includes it. Rejected is terminal.
type FinalityState int32

const (
	FinalityPending FinalityState = iota
	FinalityOrdered
	FinalityFinalized
	FinalityRejected
)

func (s FinalityState) String() string {
	switch s {
	case FinalityPending:
		return "pending"
	case FinalityOrdered:
		return "ordered"
	case FinalityFinalized:
		return "finalized"
	case FinalityRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state can never change again.
func (s FinalityState) Terminal() bool {
	return s == FinalityFinalized || s == FinalityRejected
}
