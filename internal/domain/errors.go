package domain

import (
	"errors"
	"fmt"
)

// ErrorKind tags every failure the core can report.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindConflict          ErrorKind = "conflict"
	KindNotFound          ErrorKind = "not_found"
	KindAuth              ErrorKind = "auth"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindSelfTransfer      ErrorKind = "self_transfer"
	KindTransferFailed    ErrorKind = "transfer_failed"
	KindStorage           ErrorKind = "storage"
)

// Error is the single error type returned across the account-operations boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind when the target carries no message,
// so the package sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrAuth              = &Error{Kind: KindAuth}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrSelfTransfer      = &Error{Kind: KindSelfTransfer}
	ErrTransferFailed    = &Error{Kind: KindTransferFailed}
	ErrStorage           = &Error{Kind: KindStorage}
)

func newError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func ValidationError(msg string) error { return newError(KindValidation, msg, nil) }

func ConflictError(msg string) error { return newError(KindConflict, msg, nil) }

func NotFoundError(msg string) error { return newError(KindNotFound, msg, nil) }

func AuthError(msg string) error { return newError(KindAuth, msg, nil) }

func InsufficientFundsError(balance, amount int64) error {
	return newError(KindInsufficientFunds, fmt.Sprintf("insufficient funds: balance %d, requested %d", balance, amount), nil)
}

func SelfTransferError() error {
	return newError(KindSelfTransfer, "cannot transfer to your own account", nil)
}

// TransferFailedError reports an aborted transfer unit and keeps the cause reachable.
func TransferFailedError(cause error) error {
	return newError(KindTransferFailed, "transfer failed", cause)
}

// StorageError wraps an unexpected storage failure. Errors that already carry a
// kind are returned unchanged.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return newError(KindStorage, op, err)
}

// KindOf returns the outermost kind carried by err, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
