package oi

import (
	"errors"
	"fmt"

	"comicsdb/api/internal/store"
)

type ErrorKind string

const (
	KindConflict   ErrorKind = "conflict"
	KindQuota      ErrorKind = "quota"
	KindPermission ErrorKind = "permission"
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
)

const (
	CodeAlreadyReserved    = "ALREADY_RESERVED"
	CodeAlreadyAssigned    = "ALREADY_ASSIGNED"
	CodeDuplicateNumber    = "DUPLICATE_ISSUE_NUMBER"
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodeOngoingQuota       = "ONGOING_QUOTA_EXCEEDED"
	CodeForbidden          = "FORBIDDEN"
	CodeSelfReview         = "SELF_REVIEW"
	CodeIllegalTransition  = "ILLEGAL_TRANSITION"
	CodeNotesRequired      = "NOTES_REQUIRED"
	CodeNothingToSubmit    = "NOTHING_TO_SUBMIT"
	CodeInvalidRevision    = "INVALID_REVISION"
	CodeNotDeletable       = "NOT_DELETABLE"
	CodeNotReservable      = "NOT_RESERVABLE"
	CodeParentDeleted      = "PARENT_DELETED"
	CodeNotFound           = "NOT_FOUND"
	CodeOngoingUnavailable = "ONGOING_UNAVAILABLE"
)

type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another DomainError of the same kind. A target with a code
// also has to match the code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

var (
	ErrConflict   = &DomainError{Kind: KindConflict}
	ErrQuota      = &DomainError{Kind: KindQuota}
	ErrPermission = &DomainError{Kind: KindPermission}
	ErrValidation = &DomainError{Kind: KindValidation}
	ErrNotFound   = &DomainError{Kind: KindNotFound}
)

func domainError(kind ErrorKind, code, message string, details any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func conflict(code, message string, details any) *DomainError {
	return domainError(KindConflict, code, message, details)
}

func forbidden(message string) *DomainError {
	return domainError(KindPermission, CodeForbidden, message, nil)
}

func invalid(code, message string, details any) *DomainError {
	return domainError(KindValidation, code, message, details)
}

func illegalTransition(state store.State, action Action) *DomainError {
	return invalid(CodeIllegalTransition,
		fmt.Sprintf("cannot %s a changeset that is %s", action, state),
		map[string]string{"state": state.String(), "action": string(action)})
}

// lookup converts a missing row into a NotFound domain error.
func lookup(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domainError(KindNotFound, CodeNotFound, what+" not found", nil)
	}
	return err
}
