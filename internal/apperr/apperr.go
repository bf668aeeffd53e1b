// Package apperr holds the stable error kinds surfaced by the ledger core.
// Every kind carries a machine readable code; handlers map kinds to HTTP
// statuses through Status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a coded domain error. Errors with a parent kind also match that
// kind under errors.Is, so ErrWalletNotFound is an ErrNotFound.
type Error struct {
	Code    string
	Message string
	parent  *Error
}

func (e *Error) Error() string { return e.Message }

// Is reports whether target is e's parent kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	for p := e.parent; p != nil; p = p.parent {
		if p == t {
			return true
		}
	}
	return false
}

func newKind(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newChild(parent *Error, code, message string) *Error {
	return &Error{Code: code, Message: message, parent: parent}
}

var (
	ErrNotFound       = newKind("NOT_FOUND", "not found")
	ErrCodeNotFound   = newChild(ErrNotFound, "CODE_NOT_FOUND", "redemption code not found")
	ErrWalletNotFound = newChild(ErrNotFound, "WALLET_NOT_FOUND", "wallet not found")
	ErrMemberNotFound = newChild(ErrNotFound, "MEMBER_NOT_FOUND", "wallet member not found")

	ErrAlreadyRedeemed     = newKind("ALREADY_REDEEMED", "redemption code already redeemed")
	ErrExpired             = newKind("CODE_EXPIRED", "redemption code has expired")
	ErrInsufficientBalance = newKind("INSUFFICIENT_BALANCE", "insufficient balance")
	ErrBalanceOverflow     = newKind("BALANCE_OVERFLOW", "balance would exceed the representable maximum")
	ErrForbidden           = newKind("FORBIDDEN", "operation not permitted for caller")
	ErrAlreadyMember       = newKind("ALREADY_MEMBER", "identity already has access to the wallet")
	ErrGenerationExhausted = newKind("GENERATION_EXHAUSTED", "could not generate a unique redemption code")

	ErrInvalidAmount        = newKind("INVALID_AMOUNT", "amount must be a positive integer of minor units")
	ErrCreditLimitExceeded  = newKind("CREDIT_LIMIT_EXCEEDED", "member credit limit exceeded")
	ErrCreditLimitBelowUsed = newKind("CREDIT_LIMIT_BELOW_USED", "credit limit is below the credit already used")

	// ErrStorage marks transient infrastructure failures. Callers may retry.
	ErrStorage = newKind("STORAGE_FAILURE", "storage failure")
)

// StorageError wraps an infrastructure failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage.Message, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a storage failure unless it already carries a domain
// kind, in which case it is returned unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var domain *Error
	if errors.As(err, &domain) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Retryable reports whether the caller may safely retry the operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// CodeOf returns the stable code of the most specific kind in err's chain.
func CodeOf(err error) string {
	if errors.Is(err, ErrStorage) {
		return ErrStorage.Code
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// Status maps an error kind to an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrStorage):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyRedeemed), errors.Is(err, ErrAlreadyMember):
		return http.StatusConflict
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrBalanceOverflow),
		errors.Is(err, ErrCreditLimitExceeded),
		errors.Is(err, ErrCreditLimitBelowUsed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrGenerationExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
