package errors

import (
	"errors"
	"net/http"
)

// Engine error codes. Only SessionBusy and StoreWriteFailed surface to
// the caller as actionable failures; evaluator and lookup outages
// degrade gracefully inside the engine and corrupt sessions are
// replaced with fresh ones.
const (
	CodeSessionBusy      = "SESSION_BUSY"
	CodeStoreWriteFailed = "STORE_WRITE_FAILED"
	CodeSessionCorrupt   = "SESSION_CORRUPT"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeTurnNotFound     = "TURN_NOT_FOUND"
)

// NewSessionBusyError reports that a turn for this session is already
// in flight; the caller should retry shortly.
func NewSessionBusyError(sessionID string) *AppError {
	err := NewConflictError(CodeSessionBusy, "a turn for this session is already being processed")
	err.Retryable = true
	err.Details = map[string]string{"session_id": sessionID}
	return err
}

// NewStoreWriteFailedError reports a failed durable write. The turn
// fails explicitly rather than silently dropping a message.
func NewStoreWriteFailedError(cause error) *AppError {
	err := NewError(http.StatusServiceUnavailable, CodeStoreWriteFailed, "failed to persist turn data")
	err.Retryable = true
	if cause != nil {
		err.Details = map[string]string{"cause": cause.Error()}
	}
	return err
}

// NewTurnNotFoundError reports a reply or cancel callback whose turn is
// no longer in flight: the lock TTL reclaimed it, another turn took
// over the session, or the turn id was never issued.
func NewTurnNotFoundError(sessionID string) *AppError {
	err := NewNotFoundError(CodeTurnNotFound, "turn is no longer in flight")
	err.Details = map[string]string{"session_id": sessionID}
	return err
}

// IsSessionBusy reports whether err is a session-busy rejection
func IsSessionBusy(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeSessionBusy
}

// IsStoreWriteFailed reports whether err is a failed durable write
func IsStoreWriteFailed(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeStoreWriteFailed
}
