package events

import "time"

// EventType is an enum-like string type for ledger events
type EventType string

const (
	EventUnitAccepted   EventType = "UnitAccepted"
	EventUnitFinalized  EventType = "UnitFinalized"
	EventUnitRejected   EventType = "UnitRejected"
	EventRoundCommitted EventType = "RoundCommitted"
	EventRoundAborted   EventType = "RoundAborted"
)

// LedgerEvent represents any event emitted by the consensus core
type LedgerEvent interface {
	Type() EventType
	Timestamp() time.Time
	UnitID() string
}

// UnitAccepted fires when a unit enters the DAG as Pending.
type UnitAccepted struct {
	unitID    string
	timestamp time.Time
}

func NewUnitAccepted(unitID string) *UnitAccepted {
	return &UnitAccepted{unitID: unitID, timestamp: time.Now()}
}

func (e *UnitAccepted) Type() EventType      { return EventUnitAccepted }
func (e *UnitAccepted) Timestamp() time.Time { return e.timestamp }
func (e *UnitAccepted) UnitID() string       { return e.unitID }

// UnitFinalized fires after the committing round is durably persisted, once
// per unit in committed sequence order.
type UnitFinalized struct {
	unitID    string
	roundID   uint64
	offset    uint64
	timestamp time.Time
}

func NewUnitFinalized(unitID string, roundID, offset uint64) *UnitFinalized {
	return &UnitFinalized{unitID: unitID, roundID: roundID, offset: offset, timestamp: time.Now()}
}

func (e *UnitFinalized) Type() EventType      { return EventUnitFinalized }
func (e *UnitFinalized) Timestamp() time.Time { return e.timestamp }
func (e *UnitFinalized) UnitID() string       { return e.unitID }
func (e *UnitFinalized) RoundID() uint64      { return e.roundID }
func (e *UnitFinalized) Offset() uint64       { return e.offset }

// UnitRejected fires when a unit reaches the terminal Rejected state.
type UnitRejected struct {
	unitID    string
	reason    string
	timestamp time.Time
}

func NewUnitRejected(unitID, reason string) *UnitRejected {
	return &UnitRejected{unitID: unitID, reason: reason, timestamp: time.Now()}
}

func (e *UnitRejected) Type() EventType      { return EventUnitRejected }
func (e *UnitRejected) Timestamp() time.Time { return e.timestamp }
func (e *UnitRejected) UnitID() string       { return e.unitID }
func (e *UnitRejected) Reason() string       { return e.reason }

// RoundCommitted fires once per committed consensus round.
type RoundCommitted struct {
	roundID   uint64
	unitCount int
	timestamp time.Time
}

func NewRoundCommitted(roundID uint64, unitCount int) *RoundCommitted {
	return &RoundCommitted{roundID: roundID, unitCount: unitCount, timestamp: time.Now()}
}

func (e *RoundCommitted) Type() EventType      { return EventRoundCommitted }
func (e *RoundCommitted) Timestamp() time.Time { return e.timestamp }
func (e *RoundCommitted) UnitID() string       { return "" }
func (e *RoundCommitted) RoundID() uint64      { return e.roundID }
func (e *RoundCommitted) UnitCount() int       { return e.unitCount }

// RoundAborted fires when a round ends without a committed decision. Aborted
// rounds leave no other persisted trace.
type RoundAborted struct {
	roundID   uint64
	reason    string
	timestamp time.Time
}

func NewRoundAborted(roundID uint64, reason string) *RoundAborted {
	return &RoundAborted{roundID: roundID, reason: reason, timestamp: time.Now()}
}

func (e *RoundAborted) Type() EventType      { return EventRoundAborted }
func (e *RoundAborted) Timestamp() time.Time { return e.timestamp }
func (e *RoundAborted) UnitID() string       { return "" }
func (e *RoundAborted) RoundID() uint64      { return e.roundID }
func (e *RoundAborted) Reason() string       { return e.reason }
