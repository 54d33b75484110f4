package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/cpool/internal/ir"
)

// Error is a failed call as reported to the orchestrator.
//
// Every error the worker itself detects is an *Error. Failures returned by
// the compiler engine are passed through wrapped with fmt.Errorf and carry
// no code of their own (see CodeOf).
//
// The worker never retries and never repairs its state after an error;
// recovery (for example forcing a full resync) is the orchestrator's job.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ClientID identifies the affected client when HasClient is set.
	ClientID  ir.ClientID
	HasClient bool

	// Database names the affected database, if any.
	Database string

	// Err is the underlying cause. Set for SYNC_FAILURE.
	Err error
}

// ErrorCode categorizes worker errors.
type ErrorCode string

const (
	// ErrCodeProtocol indicates a malformed or incomplete call or sync message.
	ErrCodeProtocol ErrorCode = "PROTOCOL_ERROR"

	// ErrCodeUnknownClient indicates a cache miss for the client id.
	ErrCodeUnknownClient ErrorCode = "UNKNOWN_CLIENT"

	// ErrCodeUnknownDatabase indicates a cache miss for the database name.
	ErrCodeUnknownDatabase ErrorCode = "UNKNOWN_DATABASE"

	// ErrCodeSyncFailure indicates a sync message could not be applied.
	// The cause is available through errors.Unwrap.
	ErrCodeSyncFailure ErrorCode = "SYNC_FAILURE"

	// ErrCodeUninitializedWorker indicates a call before __init_worker__.
	ErrCodeUninitializedWorker ErrorCode = "UNINITIALIZED_WORKER"

	// ErrCodeStaleContinuationMarker indicates the continuation marker was
	// used before any transaction state was produced.
	ErrCodeStaleContinuationMarker ErrorCode = "STALE_CONTINUATION_MARKER"

	// ErrCodeUnknownOperation indicates an operation name outside the
	// modeled operations and the passthrough allowlist.
	ErrCodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeAlreadyInitialized indicates a second __init_worker__ call.
	ErrCodeAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"

	// ErrCodeCompiler is reported by CodeOf for errors that did not
	// originate in the worker, which in practice means the compiler engine.
	ErrCodeCompiler ErrorCode = "COMPILER_ERROR"
)

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrProtocol                = &Error{Code: ErrCodeProtocol}
	ErrUnknownClient           = &Error{Code: ErrCodeUnknownClient}
	ErrUnknownDatabase         = &Error{Code: ErrCodeUnknownDatabase}
	ErrSyncFailure             = &Error{Code: ErrCodeSyncFailure}
	ErrUninitializedWorker     = &Error{Code: ErrCodeUninitializedWorker}
	ErrStaleContinuationMarker = &Error{Code: ErrCodeStaleContinuationMarker}
	ErrUnknownOperation        = &Error{Code: ErrCodeUnknownOperation}
	ErrAlreadyInitialized      = &Error{Code: ErrCodeAlreadyInitialized}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.HasClient && e.Database != "":
		msg += fmt.Sprintf(" (client=%d, db=%s)", e.ClientID, e.Database)
	case e.HasClient:
		msg += fmt.Sprintf(" (client=%d)", e.ClientID)
	case e.Database != "":
		msg += fmt.Sprintf(" (db=%s)", e.Database)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by code so that errors.Is(err, ErrUnknownClient) finds an
// UNKNOWN_CLIENT anywhere in the chain, including under a SYNC_FAILURE.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HasCode reports whether code appears anywhere in err's chain.
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}

// CodeOf returns the code of the outermost *Error in err's chain,
// ErrCodeCompiler for any other non-nil error, and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeCompiler
}

// CauseCode returns the code a SYNC_FAILURE wraps, or the error's own code
// when it is not a sync failure.
func CauseCode(err error) ErrorCode {
	var e *Error
	if !errors.As(err, &e) {
		return CodeOf(err)
	}
	if e.Code == ErrCodeSyncFailure && e.Err != nil {
		return CodeOf(e.Err)
	}
	return e.Code
}

// IsSyncFailure returns true if the error is a sync failure.
func IsSyncFailure(err error) bool {
	return errors.Is(err, ErrSyncFailure)
}

// IsProtocolError returns true if the error is, or wraps, a protocol error.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

func newProtocolError(format string, args ...any) *Error {
	return &Error{
		Code:    ErrCodeProtocol,
		Message: fmt.Sprintf(format, args...),
	}
}

func newUnknownClientError(id ir.ClientID) *Error {
	return &Error{
		Code:      ErrCodeUnknownClient,
		Message:   "no cached schema for client",
		ClientID:  id,
		HasClient: true,
	}
}

func newUnknownDatabaseError(id ir.ClientID, db string) *Error {
	return &Error{
		Code:      ErrCodeUnknownDatabase,
		Message:   "no cached state for database",
		ClientID:  id,
		HasClient: true,
		Database:  db,
	}
}

func newSyncFailure(id ir.ClientID, cause error) *Error {
	return &Error{
		Code:      ErrCodeSyncFailure,
		Message:   "failed to sync worker state",
		ClientID:  id,
		HasClient: true,
		Err:       cause,
	}
}

func newUninitializedError(op string) *Error {
	return &Error{
		Code:    ErrCodeUninitializedWorker,
		Message: fmt.Sprintf("call %q on uninitialized compiler worker", op),
	}
}

func newStaleMarkerError() *Error {
	return &Error{
		Code:    ErrCodeStaleContinuationMarker,
		Message: "continuation marker used before any transaction state was produced",
	}
}

func newUnknownOperationError(op string) *Error {
	return &Error{
		Code:    ErrCodeUnknownOperation,
		Message: fmt.Sprintf("operation %q is not recognized", op),
	}
}

func newAlreadyInitializedError() *Error {
	return &Error{
		Code:    ErrCodeAlreadyInitialized,
		Message: "worker is already initialized",
	}
}
