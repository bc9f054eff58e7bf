package errors

import (
	"errors"

	"qdag/jsonx"
)

// Kind groups error codes by how the node reacts to them: verification and
// DAG errors reject a single unit, consensus errors abort a round, registry
// errors drop a message, submission errors surface synchronously to clients.
type Kind string

const (
	KindVerification Kind = "verification"
	KindDAG          Kind = "dag"
	KindConsensus    Kind = "consensus"
	KindRegistry     Kind = "registry"
	KindSubmission   Kind = "submission"
	KindFatal        Kind = "fatal"
)

// Code represents standardized error codes for ledger operations
type Code string

const (
	// Verification errors - unit rejected, never retried
	ErrCodeInvalidClassicalSignature Code = "invalid_classical_signature"
	ErrCodeInvalidPQCSignature       Code = "invalid_pqc_signature"
	ErrCodePrimeHashMismatch         Code = "prime_hash_mismatch"
	ErrCodeUnknownValidator          Code = "unknown_validator"

	// DAG structural errors - unit rejected, resubmission with corrected parents allowed
	ErrCodeUnknownParent Code = "unknown_parent"
	ErrCodeCycleDetected Code = "cycle_detected"
	ErrCodeDuplicateUnit Code = "duplicate_unit"
	ErrCodeUnitFinalized Code = "unit_finalized"

	// Consensus errors - round aborted, retried with enlarged pending set
	ErrCodeQuorumNotReached Code = "quorum_not_reached"
	ErrCodeRoundAborted     Code = "round_aborted"
	ErrCodeProposalTimeout  Code = "proposal_timeout"
	ErrCodeStaleRound       Code = "stale_round"

	// Registry errors - message dropped and logged
	ErrCodeValidatorInactive Code = "validator_inactive"
	ErrCodeNoActiveSet       Code = "no_active_validator_set"

	// Submission errors - surfaced synchronously to the caller
	ErrCodeInvalidTransaction   Code = "invalid_transaction"
	ErrCodeInvalidSignature     Code = "invalid_signature"
	ErrCodeInvalidAddress       Code = "invalid_address"
	ErrCodeInvalidAmount        Code = "invalid_amount"
	ErrCodeDuplicateTransaction Code = "duplicate_transaction"
	ErrCodeMempoolFull          Code = "mempool_full"

	// Fatal - persisted state corruption, log-and-halt
	ErrCodeCorruptState Code = "corrupt_state"

	ErrCodeInternal Code = "internal_error"
)

var kindByCode = map[Code]Kind{
	ErrCodeInvalidClassicalSignature: KindVerification,
	ErrCodeInvalidPQCSignature:       KindVerification,
	ErrCodePrimeHashMismatch:         KindVerification,
	ErrCodeUnknownValidator:          KindVerification,
	ErrCodeUnknownParent:             KindDAG,
	ErrCodeCycleDetected:             KindDAG,
	ErrCodeDuplicateUnit:             KindDAG,
	ErrCodeUnitFinalized:             KindDAG,
	ErrCodeQuorumNotReached:          KindConsensus,
	ErrCodeRoundAborted:              KindConsensus,
	ErrCodeProposalTimeout:           KindConsensus,
	ErrCodeStaleRound:                KindConsensus,
	ErrCodeValidatorInactive:         KindRegistry,
	ErrCodeNoActiveSet:               KindRegistry,
	ErrCodeInvalidTransaction:        KindSubmission,
	ErrCodeInvalidSignature:          KindSubmission,
	ErrCodeInvalidAddress:            KindSubmission,
	ErrCodeInvalidAmount:             KindSubmission,
	ErrCodeDuplicateTransaction:      KindSubmission,
	ErrCodeMempoolFull:               KindSubmission,
	ErrCodeCorruptState:              KindFatal,
}

// LedgerError represents a standardized coded error
type LedgerError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *LedgerError) Error() string {
	out, _ := jsonx.Marshal(LedgerError{
		Code:    e.Code,
		Message: e.Message,
	})
	return string(out)
}

// NewError creates a new LedgerError and returns it as error interface
func NewError(code Code, message string) error {
	return &LedgerError{
		Code:    code,
		Message: message,
	}
}

// CodeOf extracts the error code, or ErrCodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeInternal
}

// KindOf classifies an error into the handling taxonomy.
func KindOf(err error) Kind {
	if k, ok := kindByCode[CodeOf(err)]; ok {
		return k
	}
	return KindSubmission
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Error message constants - user-friendly and concise
const (
	ErrMsgInvalidTransaction   = "Transaction data is invalid"
	ErrMsgInvalidSignature     = "Transaction signature is invalid"
	ErrMsgInvalidAddress       = "Address is invalid"
	ErrMsgInvalidAmount        = "Amount is invalid or zero"
	ErrMsgDuplicateTransaction = "This transaction already exists"
	ErrMsgMempoolFull          = "Network is busy, please try again"
	ErrMsgInternal             = "Server error, please try again"
)
